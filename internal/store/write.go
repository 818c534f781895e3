package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// Run describes one cluster execution.
type Run struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Event is one stored log record with its position in the node's log.
type Event struct {
	RunID  string
	NodeID int
	Seq    int64 // 1-based position in the node's log
	eventlog.Record
}

const timeLayout = time.RFC3339Nano

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateRun inserts a run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Name, run.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// WriteEvent inserts one event.
// Uses ON CONFLICT DO NOTHING: a second write of the same (run, node, seq) is ignored.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, ev Event) error {
	if err := insertEvent(ctx, s.db, ev); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, ev Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, node_id, seq, event_type, ts, queue_depth, logical_clock, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.RunID,
		ev.NodeID,
		ev.Seq,
		string(ev.Type),
		ev.Timestamp,
		ev.QueueDepth,
		ev.Clock,
		ev.Extra,
	)
	return err
}

// ImportLogs stores already-parsed node logs under runID in one transaction.
// Returns the number of records offered (duplicates included).
func (s *Store) ImportLogs(ctx context.Context, runID string, logs []eventlog.NodeLog) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import: begin: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, l := range logs {
		for i, rec := range l.Records {
			ev := Event{RunID: runID, NodeID: l.NodeID, Seq: int64(i + 1), Record: rec}
			if err := insertEvent(ctx, tx, ev); err != nil {
				return 0, fmt.Errorf("import node %d line %d: %w", l.NodeID, i+1, err)
			}
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import: commit: %w", err)
	}
	return count, nil
}

// ImportDir parses every machine_<id>.log in dir and stores it under runID.
// The run must already exist.
func (s *Store) ImportDir(ctx context.Context, runID, dir string) (int, error) {
	logs, err := eventlog.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}
	return s.ImportLogs(ctx, runID, logs)
}

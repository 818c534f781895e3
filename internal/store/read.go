package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// RunSummary is a run with its event count.
type RunSummary struct {
	Run
	Nodes  int
	Events int
}

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var run Run
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Name, &created)
	if err != nil {
		return Run{}, err
	}
	if run.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, oldest first, with node and event counts.
// Returns an empty slice (not nil) when the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.created_at,
		       COUNT(DISTINCT e.node_id), COUNT(e.id)
		FROM runs r
		LEFT JOIN events e ON e.run_id = r.id
		GROUP BY r.id
		ORDER BY r.created_at ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var rs RunSummary
		var created string
		if err := rows.Scan(&rs.ID, &rs.Name, &created, &rs.Nodes, &rs.Events); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rs.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadNodeEvents returns one node's events in log order (ORDER BY seq).
// Returns an empty slice (not nil) if the node has no events.
func (s *Store) ReadNodeEvents(ctx context.Context, runID string, nodeID int) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT run_id, node_id, seq, event_type, ts, queue_depth, logical_clock, extra
		FROM events
		WHERE run_id = ? AND node_id = ?
		ORDER BY seq ASC
	`, runID, nodeID)
}

// ReadTimeline returns every event of a run interleaved by wall time.
// Ties are broken by node id and then seq, so per-node order is preserved.
func (s *Store) ReadTimeline(ctx context.Context, runID string) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT run_id, node_id, seq, event_type, ts, queue_depth, logical_clock, extra
		FROM events
		WHERE run_id = ?
		ORDER BY ts ASC, node_id ASC, seq ASC
	`, runID)
}

// ReadLogs rebuilds the per-node logs of a run, ordered by node id.
// The result feeds the analyzer exactly like eventlog.ReadDir does.
func (s *Store) ReadLogs(ctx context.Context, runID string) ([]eventlog.NodeLog, error) {
	events, err := s.queryEvents(ctx, `
		SELECT run_id, node_id, seq, event_type, ts, queue_depth, logical_clock, extra
		FROM events
		WHERE run_id = ?
		ORDER BY node_id ASC, seq ASC
	`, runID)
	if err != nil {
		return nil, err
	}

	logs := []eventlog.NodeLog{}
	for _, ev := range events {
		if len(logs) == 0 || logs[len(logs)-1].NodeID != ev.NodeID {
			logs = append(logs, eventlog.NodeLog{NodeID: ev.NodeID, Path: fmt.Sprintf("run:%s", runID)})
		}
		last := &logs[len(logs)-1]
		last.Records = append(last.Records, ev.Record)
	}
	return logs, nil
}

// maxSeq returns the highest stored seq for a node, or 0.
func (s *Store) maxSeq(ctx context.Context, runID string, nodeID int) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE run_id = ? AND node_id = ?
	`, runID, nodeID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var eventType string
		if err := rows.Scan(
			&ev.RunID, &ev.NodeID, &ev.Seq, &eventType,
			&ev.Timestamp, &ev.QueueDepth, &ev.Clock, &ev.Extra,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = eventlog.EventType(eventType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a run with a fixed creation time offset by minutes.
func createTestRun(t *testing.T, s *Store, id string, minutes int) Run {
	t.Helper()
	run := Run{
		ID:        id,
		Name:      "run " + id,
		CreatedAt: time.Date(2025, 2, 24, 12, minutes, 0, 0, time.UTC),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return run
}

// createTestEvent builds an event with minimal required fields.
func createTestEvent(runID string, nodeID int, seq int64, typ eventlog.EventType, ts float64, clock int64) Event {
	return Event{
		RunID:  runID,
		NodeID: nodeID,
		Seq:    seq,
		Record: eventlog.Record{Type: typ, Timestamp: ts, Clock: clock},
	}
}

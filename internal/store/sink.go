package store

import (
	"context"
	"sync"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// NodeSink writes a node's records into the store as they happen.
// It implements eventlog.Sink and is usually tee'd with a FileSink.
type NodeSink struct {
	store  *Store
	runID  string
	nodeID int

	mu  sync.Mutex
	seq int64
}

// NewNodeSink creates a sink for one node of a run. Sequence numbers continue
// after any events already stored for that node.
func (s *Store) NewNodeSink(ctx context.Context, runID string, nodeID int) (*NodeSink, error) {
	seq, err := s.maxSeq(ctx, runID, nodeID)
	if err != nil {
		return nil, err
	}
	return &NodeSink{store: s, runID: runID, nodeID: nodeID, seq: seq}, nil
}

// Append stores rec as the node's next event.
func (n *NodeSink) Append(rec eventlog.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ev := Event{RunID: n.runID, NodeID: n.nodeID, Seq: n.seq + 1, Record: rec}
	if err := n.store.WriteEvent(context.Background(), ev); err != nil {
		return err
	}
	n.seq++
	return nil
}

// Close is a no-op; the Store outlives its sinks.
func (n *NodeSink) Close() error { return nil }

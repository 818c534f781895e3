// Package store provides SQLite-backed durable storage for run event logs.
//
// A run is one execution of a cluster (one experiment trial or one ad-hoc
// `lamportlab run`). Each node's records are stored in emission order:
//
//   - runs: id (UUIDv7), name, created_at
//   - events: one row per log record, keyed by (run_id, node_id, seq)
//
// # Ordering
//
// seq is the 1-based position of the record in its node's log. Per-node
// reads ORDER BY seq; cross-node timelines ORDER BY ts, node_id, seq. Wall
// time is only used to interleave nodes, never to order one node's events.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING, so importing the same log directory
// twice into one run is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

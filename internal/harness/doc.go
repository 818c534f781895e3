// Package harness runs scripted conformance scenarios against real nodes.
//
// A scenario starts a full mesh of nodes over an in-memory pipe network,
// then performs each step itself (internal, send, broadcast, receive)
// rather than letting the random scheduler choose. After every send the
// harness waits until the message is queued at each recipient, so the
// resulting trace is identical on every run and can be compared against a
// golden file.
//
// # Scenario Format
//
//	name: causal_chain
//	description: "A message chain across three nodes"
//	nodes: 3
//	steps:
//	  - { node: 0, action: internal, label: A }
//	  - { node: 0, action: send, targets: [0], label: B }
//	  - { node: 1, action: receive, label: C }
//	  - { node: 1, action: broadcast }
//	assertions:
//	  - { type: clock, node: 1, equals: 4 }
//	  - { type: causal_order, labels: [A, B, C] }
//	  - { type: queue_depth, node: 2, equals: 1 }
//	  - { type: event_count, event: SEND, count: 2 }
//
// Peer indices in targets follow the node's dial order: on node i, index j
// is node j when j < i and node j+1 otherwise.
//
// # Assertion Types
//
//   - clock: a node's final logical clock
//   - causal_order: labelled events have strictly increasing clocks
//   - queue_depth: a node's count of queued, unprocessed messages
//   - queue_empty: no node has anything left to receive
//   - event_count: records of one type in the store, per node or per run
//
// # Deterministic Testing
//
// Timestamps come from a fake clock, each node gets a fixed random seed and
// records are tee'd into an in-memory SQLite database, isolated per run.
package harness

// Package node implements a simulated machine that keeps a Lamport logical
// clock and exchanges clock values with its peers over TCP.
//
// A node listens on one endpoint and dials every configured peer, so each
// ordered pair of nodes shares a dedicated one-way connection. Inbound
// connections are read by one goroutine each; decoded values land in a
// single FIFO queue. A scheduling loop running at TickRate performs exactly
// one action per tick:
//
//   - RECEIVE the oldest queued value: clock = max(clock, value) + 1
//   - INTERNAL event: clock += 1
//   - SEND to one peer or to all peers: clock += 1, then write the new value
//
// Every action produces one eventlog.Record written synchronously to the
// node's sink, so the log is the authoritative history of the run.
//
// # Wire Format
//
// Values are newline-terminated ASCII integers ("42\n"). With
// Config.Enriched the sender id is prepended ("3:42\n"). Decoders accept both.
//
// # Lifecycle
//
//	Idle --Start--> Connecting --dialing done--> Running --Stop--> Stopping --> Stopped
//
// Dialing gives each peer DialAttempts tries spaced by DialBackoff. A peer
// that never answers is left out of the peer list; it is not an error.
package node

package node

import (
	"github.com/roach88/lamportlab/internal/eventlog"
)

// Action is what one scheduling tick did.
type Action string

const (
	ActionNone      Action = "none"
	ActionReceive   Action = "receive"
	ActionInternal  Action = "internal"
	ActionSend      Action = "send"
	ActionBroadcast Action = "broadcast"
)

// Send categories drawn uniformly from {1,2,3} once an internal event has
// been ruled out. Categories 1 and 2 are both single-peer sends.
const (
	categoryPeer      = 1
	categoryPeerAgain = 2
	categoryBroadcast = 3
	categories        = 3
)

// Step performs one scheduling decision:
//
//  1. a queued message is always processed first
//  2. otherwise an internal event with probability InternalProb
//  3. otherwise a send category in {1,2,3}: 1 and 2 send to one random peer,
//     3 broadcasts; with no connected peers the tick becomes an internal event
//
// Step on a stopped node does nothing.
func (n *Node) Step() Action {
	if n.stopping() {
		return ActionNone
	}

	if n.Receive() {
		return ActionReceive
	}

	if n.rand.Float64() < n.cfg.InternalProb {
		n.Internal()
		return ActionInternal
	}

	category := n.rand.IntN(categories) + 1
	peers := n.PeerCount()
	if peers == 0 {
		n.Internal()
		return ActionInternal
	}

	switch category {
	case categoryPeer, categoryPeerAgain:
		n.SendTo([]int{n.rand.IntN(peers)})
		return ActionSend
	default:
		n.Broadcast()
		return ActionBroadcast
	}
}

// Internal advances the clock by one and logs INTERNAL.
func (n *Node) Internal() int64 {
	n.stepMu.Lock()
	defer n.stepMu.Unlock()

	c := n.clock.Tick()
	n.record(eventlog.EventInternal, c, "")
	return c
}

// SendTo advances the clock by one and writes the new value to the peers at
// the given indices. Indices outside the connected peer list are ignored.
// The SEND record is written after every write has been attempted.
func (n *Node) SendTo(targets []int) int64 {
	n.mu.Lock()
	links := make([]*peerLink, 0, len(targets))
	valid := make([]int, 0, len(targets))
	for _, i := range targets {
		if i < 0 || i >= len(n.peers) {
			continue
		}
		links = append(links, n.peers[i])
		valid = append(valid, i)
	}
	n.mu.Unlock()

	return n.send(links, valid)
}

// Broadcast advances the clock by one and writes the new value to every
// connected peer.
func (n *Node) Broadcast() int64 {
	n.mu.Lock()
	links := append([]*peerLink(nil), n.peers...)
	n.mu.Unlock()

	return n.send(links, nil)
}

// send increments once regardless of the number of recipients, so every
// recipient sees the same value.
func (n *Node) send(links []*peerLink, targets []int) int64 {
	n.stepMu.Lock()
	defer n.stepMu.Unlock()

	c := n.clock.Tick()
	from := NoSender
	if n.cfg.Enriched {
		from = n.cfg.ID
	}
	payload := EncodeMessage(Message{From: from, Clock: c})

	for _, l := range links {
		if err := l.write(payload); err != nil {
			n.metrics.SendFailure()
			n.logger.Warn("send failed", "peer", l.addr, "index", l.index, "clock", c, "error", err)
		}
	}

	n.record(eventlog.EventSend, c, eventlog.SendExtra(targets))
	return c
}

// Receive pops the oldest queued message, applies the Lamport receive rule
// and logs RECEIVE with the queue depth after removal. Returns false when
// the queue is empty.
func (n *Node) Receive() bool {
	n.stepMu.Lock()
	defer n.stepMu.Unlock()

	msg, ok := n.queue.Pop()
	if !ok {
		return false
	}
	c := n.clock.Witness(msg.Clock)
	n.record(eventlog.EventReceive, c, "")
	return true
}

package node

import "sync"

// inboundQueue is the FIFO of decoded messages shared by every reader
// goroutine of a node and drained by its scheduling loop.
//
// Push and Pop are atomic with respect to each other. Messages from one
// connection keep their receipt order; messages from different connections
// interleave first-arrived, first-served.
//
// The signal channel lets waiters (the harness, tests) block until something
// arrives without polling.
type inboundQueue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	signal chan struct{} // buffered, size 1; coalesces pushes
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{
		items:  make([]Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Push appends a message. Returns false once the queue is closed.
func (q *inboundQueue) Push(m Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Pop removes and returns the oldest message, or false if the queue is empty.
func (q *inboundQueue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	m := q.items[0]
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return m, true
}

// Len returns the number of undelivered messages.
func (q *inboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether no message is waiting.
func (q *inboundQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Wait returns a channel that fires when messages may be available.
// It is closed when the queue is closed.
func (q *inboundQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *inboundQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further pushes and wakes every waiter.
// Messages already queued can still be popped.
func (q *inboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

package node

import (
	"context"
	"net"
	"sync"
	"time"
)

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// peerLink is one outbound connection. Its position in Node.peers is the
// peer index used by targeted sends and never changes, even after a write
// failure closes the link.
type peerLink struct {
	index int
	addr  string

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// write sends one encoded message. A failed write closes the link so later
// sends skip it instead of blocking on a dead socket.
func (l *peerLink) write(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return net.ErrClosed
	}
	if _, err := l.conn.Write(b); err != nil {
		l.closed = true
		l.conn.Close()
		return err
	}
	return nil
}

func (l *peerLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.conn.Close()
}

// connectToPeers dials every configured peer in order. Peers that cannot be
// reached within the attempt budget are absent from the peer list; the node
// carries on with whoever answered.
func (n *Node) connectToPeers(ctx context.Context) {
	for _, addr := range n.cfg.Peers {
		conn, err := n.dialWithRetry(ctx, addr)
		if err != nil {
			n.logger.Warn("peer unreachable", "peer", addr, "error", err)
			continue
		}

		n.mu.Lock()
		if n.stopping() {
			n.mu.Unlock()
			conn.Close()
			return
		}
		link := &peerLink{index: len(n.peers), addr: addr, conn: conn}
		n.peers = append(n.peers, link)
		count := len(n.peers)
		n.mu.Unlock()

		n.metrics.Peers(count)
		n.logger.Info("connected to peer", "peer", addr, "index", link.index)
	}
}

// dialWithRetry makes at most DialAttempts attempts, pausing DialBackoff
// between them. The pause is cut short by ctx or Stop.
func (n *Node) dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.DialAttempts; attempt++ {
		conn, err := n.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			n.metrics.Dial("connected")
			return conn, nil
		}
		lastErr = err
		n.metrics.Dial("failed")
		n.logger.Debug("dial failed", "peer", addr, "attempt", attempt, "error", err)

		if attempt == n.cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, newDialError(addr, attempt, ctx.Err())
		case <-n.stopCh:
			return nil, newDialError(addr, attempt, net.ErrClosed)
		case <-time.After(n.cfg.DialBackoff):
		}
	}
	return nil, newDialError(addr, n.cfg.DialAttempts, lastErr)
}

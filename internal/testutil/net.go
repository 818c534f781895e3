package testutil

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// ErrRefused is returned by dials that find no listener.
var ErrRefused = errors.New("connection refused")

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// PipeNetwork is an in-memory network of named listeners backed by net.Pipe.
// Tests and the scenario harness use it to wire nodes together without
// touching real sockets.
type PipeNetwork struct {
	mu        sync.Mutex
	listeners map[string]*pipeListener
}

// NewPipeNetwork creates an empty network.
func NewPipeNetwork() *PipeNetwork {
	return &PipeNetwork{listeners: make(map[string]*pipeListener)}
}

// Listen registers a listener under addr. Listening twice on the same open
// address fails, mirroring EADDRINUSE.
func (p *PipeNetwork) Listen(addr string) (net.Listener, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.listeners[addr]; ok && !l.isClosed() {
		return nil, &net.OpError{Op: "listen", Net: "pipe", Addr: pipeAddr(addr), Err: errors.New("address already in use")}
	}
	l := &pipeListener{
		addr:  pipeAddr(addr),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	p.listeners[addr] = l
	return l, nil
}

// DialContext connects to the listener registered under address.
// Satisfies node.Dialer.
func (p *PipeNetwork) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	p.mu.Lock()
	l, ok := p.listeners[address]
	p.mu.Unlock()
	if !ok {
		return nil, &net.OpError{Op: "dial", Net: "pipe", Addr: pipeAddr(address), Err: ErrRefused}
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
	case <-ctx.Done():
	}
	client.Close()
	server.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &net.OpError{Op: "dial", Net: "pipe", Addr: pipeAddr(address), Err: ErrRefused}
}

type pipeListener struct {
	addr      pipeAddr
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) Addr() net.Addr { return l.addr }

func (l *pipeListener) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// RefusingDialer fails every dial and counts the attempts.
type RefusingDialer struct {
	attempts atomic.Int64
}

func (d *RefusingDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.attempts.Add(1)
	return nil, &net.OpError{Op: "dial", Net: "tcp", Addr: pipeAddr(address), Err: ErrRefused}
}

// Attempts returns the number of dials made so far.
func (d *RefusingDialer) Attempts() int {
	return int(d.attempts.Load())
}

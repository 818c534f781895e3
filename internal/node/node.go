package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lamportlab/internal/clock"
	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/telemetry"
)

// State is a node's lifecycle stage. Transitions only move forward:
// Idle -> Connecting -> Running -> Stopping -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Node is one simulated machine: a Lamport clock, a listening endpoint, a
// list of outbound peer links and an event log.
//
// Thread-safety model:
//   - reader goroutines only push into the inbound queue
//   - every clock mutation and log write happens under stepMu, so the log
//     is totally ordered and clock values in it never decrease
//   - Run must be called from exactly one goroutine; Internal, SendTo,
//     Broadcast, Receive and Step are safe from any goroutine
type Node struct {
	cfg      Config
	clock    *clock.Clock
	queue    *inboundQueue
	listener net.Listener
	dialer   Dialer
	sink     eventlog.Sink
	rand     Rand
	now      func() time.Time
	logger   *slog.Logger
	metrics  *telemetry.NodeMetrics

	state atomic.Int32

	mu      sync.Mutex // guards peers and inbound
	peers   []*peerLink
	inbound map[net.Conn]struct{}

	stepMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the diagnostic logger. Defaults to slog.Default tagged
// with the node id.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithSink sets where event records go. Defaults to eventlog.Discard.
// The node never closes its sink; the caller owns it.
func WithSink(s eventlog.Sink) Option {
	return func(n *Node) { n.sink = s }
}

// WithRand sets the scheduler's randomness. Defaults to a StreamRand
// named after the node.
func WithRand(r Rand) Option {
	return func(n *Node) { n.rand = r }
}

// WithDialer replaces the TCP dialer used to reach peers.
func WithDialer(d Dialer) Option {
	return func(n *Node) { n.dialer = d }
}

// WithListener injects a pre-bound listener. Config.ListenAddr is then ignored.
func WithListener(l net.Listener) Option {
	return func(n *Node) { n.listener = l }
}

// WithNow sets the wall clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithMetrics sets the Prometheus collectors. Defaults to telemetry.ForNode(cfg.ID).
func WithMetrics(m *telemetry.NodeMetrics) Option {
	return func(n *Node) { n.metrics = m }
}

// New validates cfg and binds the listening endpoint.
//
// Errors: *Error with ErrCodeConfig or ErrCodeBind. Both are fatal to the
// node; nothing has been started when New fails.
func New(cfg Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		clock:   clock.New(),
		queue:   newInboundQueue(),
		inbound: make(map[net.Conn]struct{}),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	n.cfg.Peers = append([]string(nil), cfg.Peers...)

	for _, opt := range opts {
		opt(n)
	}

	if n.logger == nil {
		n.logger = slog.Default().With("node", cfg.ID)
	}
	if n.sink == nil {
		n.sink = eventlog.Discard
	}
	if n.rand == nil {
		n.rand = NewStreamRand(fmt.Sprintf("node-%d", cfg.ID))
	}
	if n.dialer == nil {
		n.dialer = &net.Dialer{}
	}
	if n.metrics == nil {
		n.metrics = telemetry.ForNode(cfg.ID)
	}
	if n.listener == nil {
		l, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return nil, newBindError(cfg.ListenAddr, err)
		}
		n.listener = l
	}

	return n, nil
}

// ID returns the configured node id.
func (n *Node) ID() int { return n.cfg.ID }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.cfg }

// Addr returns the bound listening address.
func (n *Node) Addr() string { return n.listener.Addr().String() }

// Clock returns the current logical clock value.
func (n *Node) Clock() int64 { return n.clock.Current() }

// QueueLen returns the number of received but unprocessed messages.
func (n *Node) QueueLen() int { return n.queue.Len() }

// State returns the lifecycle stage.
func (n *Node) State() State { return State(n.state.Load()) }

// PeerCount returns the number of connected outbound peers.
func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Node) stopping() bool {
	return n.State() >= StateStopping
}

// Start accepts inbound connections, dials every peer and writes the START
// record. It returns once dialing is finished, which may take up to
// DialAttempts*DialBackoff per unreachable peer.
//
// Unreachable peers are not an error; the node runs with a shorter peer list.
func (n *Node) Start(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return &Error{Code: ErrCodeState, Message: fmt.Sprintf("cannot start node in state %s", n.State())}
	}

	n.wg.Add(1)
	go n.acceptLoop()

	n.logger.Info("node starting",
		"addr", n.Addr(),
		"tick_rate", n.cfg.TickRate,
		"internal_prob", n.cfg.InternalProb,
		"peers", len(n.cfg.Peers))

	n.connectToPeers(ctx)

	n.stepMu.Lock()
	n.record(eventlog.EventStart, n.clock.Current(), eventlog.StartExtra(n.cfg.TickRate, n.cfg.InternalProb))
	n.stepMu.Unlock()

	if !n.state.CompareAndSwap(int32(StateConnecting), int32(StateRunning)) {
		return nil
	}
	n.logger.Info("node running", "connected", n.PeerCount())
	return nil
}

// Run drives the scheduler at TickRate until ctx is cancelled or Stop is
// called, then shuts the node down. An Idle node is started first.
//
// Each tick performs exactly one action. If the action finishes early the
// loop sleeps out the rest of the period; the sleep ends immediately on
// shutdown.
func (n *Node) Run(ctx context.Context) error {
	if n.State() == StateIdle {
		if err := n.Start(ctx); err != nil {
			return err
		}
	}
	defer n.Stop()

	period := n.cfg.Period()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if n.stopping() || ctx.Err() != nil {
			return nil
		}

		began := time.Now()
		n.Step()

		timer.Reset(max(period-time.Since(began), 0))
		select {
		case <-ctx.Done():
			return nil
		case <-n.stopCh:
			return nil
		case <-timer.C:
		}
	}
}

// Stop closes the listener, every peer link and every inbound connection,
// then waits for the reader goroutines. Safe to call more than once and from
// any goroutine; later calls block until the first completes.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.state.Store(int32(StateStopping))
		close(n.stopCh)
		n.listener.Close()

		n.mu.Lock()
		for _, p := range n.peers {
			p.close()
		}
		for conn := range n.inbound {
			conn.Close()
		}
		n.mu.Unlock()

		n.queue.Close()
		n.wg.Wait()

		n.state.Store(int32(StateStopped))
		n.logger.Info("node stopped", "clock", n.clock.Current())
	})
}

// AwaitInbound blocks until at least depth messages are queued, the queue
// is closed or ctx is done.
func (n *Node) AwaitInbound(ctx context.Context, depth int) error {
	for {
		if n.queue.Len() >= depth {
			return nil
		}
		if n.queue.Closed() {
			return net.ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.queue.Wait():
		}
	}
}

// AwaitPeers blocks until count inbound connections are open or ctx is done.
// Used by harnesses that need every link established before stepping.
func (n *Node) AwaitPeers(ctx context.Context, count int) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		n.mu.Lock()
		have := len(n.inbound)
		n.mu.Unlock()
		if have >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// record writes one log record. Callers hold stepMu.
func (n *Node) record(t eventlog.EventType, c int64, extra string) {
	depth := n.queue.Len()
	rec := eventlog.Record{
		Type:       t,
		Timestamp:  eventlog.Seconds(n.now()),
		QueueDepth: depth,
		Clock:      c,
		Extra:      extra,
	}
	if err := n.sink.Append(rec); err != nil {
		n.logger.Error("event log write failed", "type", t, "clock", c, "error", err)
	}
	n.metrics.Event(string(t), c, depth)
}

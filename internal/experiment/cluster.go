package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/node"
	"github.com/roach88/lamportlab/internal/store"
)

// ClusterConfig describes one in-process cluster run.
type ClusterConfig struct {
	Machines     int
	Duration     time.Duration
	Host         string // defaults to 127.0.0.1
	BasePort     int    // node i listens on BasePort+i; 0 picks free ports
	InternalProb float64
	Variation    Variation
	TickRates    []int // explicit per-node rates; drawn from Variation when empty
	Stagger      time.Duration
	Enriched     bool
	LogDir       string
	DialAttempts int           // defaults to node.DefaultDialAttempts
	DialBackoff  time.Duration // defaults to node.DefaultDialBackoff
}

// Result reports what a cluster run did.
type Result struct {
	LogDir string
	Addrs  []string
	Rates  []int
	Clocks []int64 // final logical clock per node
}

type clusterOptions struct {
	logger *slog.Logger
	rand   node.Rand
	store  *store.Store
	runID  string
}

// ClusterOption configures RunCluster.
type ClusterOption func(*clusterOptions)

// WithLogger sets the logger nodes derive theirs from.
func WithLogger(l *slog.Logger) ClusterOption {
	return func(o *clusterOptions) { o.logger = l }
}

// WithRateSource sets the randomness tick rates are drawn from.
func WithRateSource(r node.Rand) ClusterOption {
	return func(o *clusterOptions) { o.rand = r }
}

// WithStore tees every node's records into s under runID.
// The run must already exist.
func WithStore(s *store.Store, runID string) ClusterOption {
	return func(o *clusterOptions) {
		o.store = s
		o.runID = runID
	}
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.DialAttempts == 0 {
		c.DialAttempts = node.DefaultDialAttempts
	}
	if c.DialBackoff == 0 {
		c.DialBackoff = node.DefaultDialBackoff
	}
	return c
}

func (c ClusterConfig) validate() error {
	if c.Machines < 1 {
		return fmt.Errorf("machines must be at least 1, got %d", c.Machines)
	}
	if c.LogDir == "" {
		return errors.New("log directory is required")
	}
	if len(c.TickRates) > 0 && len(c.TickRates) != c.Machines {
		return fmt.Errorf("got %d tick rates for %d machines", len(c.TickRates), c.Machines)
	}
	return nil
}

// DrawRates picks one tick rate per machine uniformly from the variation's range.
func DrawRates(r node.Rand, machines int, v Variation) []int {
	lo, hi := v.RateRange()
	rates := make([]int, machines)
	for i := range rates {
		rates[i] = lo + r.IntN(hi-lo+1)
	}
	return rates
}

// RunCluster runs Machines nodes in this process for Duration, each logging
// to LogDir/machine_<id>.log, then stops them all.
//
// Every listener is bound before the first node starts, so a bind failure
// aborts the run before any log is written and dialing never races a peer
// that hasn't started listening yet. Nodes still start Stagger apart.
func RunCluster(ctx context.Context, cfg ClusterConfig, opts ...ClusterOption) (*Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := clusterOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	listeners, err := bindAll(cfg)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, len(listeners))
	for i, l := range listeners {
		addrs[i] = l.Addr().String()
	}

	rates := cfg.TickRates
	if len(rates) == 0 {
		rates = DrawRates(o.rand, cfg.Machines, cfg.Variation)
	}

	nodes := make([]*node.Node, 0, cfg.Machines)
	sinks := make([]eventlog.Sink, 0, cfg.Machines)
	cleanup := func() {
		for _, n := range nodes {
			n.Stop()
		}
		for _, l := range listeners[len(nodes):] {
			l.Close()
		}
		for _, s := range sinks {
			s.Close()
		}
	}

	for i := range cfg.Machines {
		sink, err := openSink(ctx, cfg.LogDir, i, o)
		if err != nil {
			cleanup()
			return nil, err
		}
		sinks = append(sinks, sink)

		n, err := node.New(node.Config{
			ID:           i,
			TickRate:     rates[i],
			InternalProb: cfg.InternalProb,
			Peers:        peersOf(addrs, i),
			DialAttempts: cfg.DialAttempts,
			DialBackoff:  cfg.DialBackoff,
			Enriched:     cfg.Enriched,
		},
			node.WithListener(listeners[i]),
			node.WithSink(sink),
			node.WithLogger(o.logger.With("node", i)),
		)
		if err != nil {
			cleanup()
			return nil, err
		}
		nodes = append(nodes, n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, n := range nodes {
		if i > 0 && cfg.Stagger > 0 {
			select {
			case <-runCtx.Done():
			case <-time.After(cfg.Stagger):
			}
		}
		o.logger.Info("starting machine", "node", i, "addr", addrs[i], "tick_rate", rates[i])
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.Run(runCtx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %d: %w", n.ID(), err))
				mu.Unlock()
			}
		}()
	}

	o.logger.Info("cluster running", "machines", cfg.Machines, "duration", cfg.Duration, "log_dir", cfg.LogDir)
	select {
	case <-ctx.Done():
		o.logger.Info("cluster interrupted")
	case <-time.After(cfg.Duration):
	}

	cancel()
	wg.Wait()
	for _, n := range nodes {
		n.Stop()
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	res := &Result{LogDir: cfg.LogDir, Addrs: addrs, Rates: rates, Clocks: make([]int64, len(nodes))}
	for i, n := range nodes {
		res.Clocks[i] = n.Clock()
	}
	o.logger.Info("cluster stopped", "clocks", res.Clocks)
	return res, errors.Join(errs...)
}

func bindAll(cfg ClusterConfig) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, cfg.Machines)
	for i := range cfg.Machines {
		port := 0
		if cfg.BasePort > 0 {
			port = cfg.BasePort + i
		}
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, prev := range listeners {
				prev.Close()
			}
			return nil, &node.Error{Code: node.ErrCodeBind, Message: fmt.Sprintf("machine %d cannot bind", i), Addr: addr, Err: err}
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// openSink truncates any previous log for the node so each trial starts clean.
func openSink(ctx context.Context, dir string, id int, o clusterOptions) (eventlog.Sink, error) {
	path := eventlog.FileName(dir, id)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reset log: %w", err)
	}
	file, err := eventlog.OpenFile(path)
	if err != nil {
		return nil, err
	}
	if o.store == nil {
		return file, nil
	}
	db, err := o.store.NewNodeSink(ctx, o.runID, id)
	if err != nil {
		file.Close()
		return nil, err
	}
	return eventlog.Tee(file, db), nil
}

// peersOf returns every address except the node's own, in id order.
func peersOf(addrs []string, self int) []string {
	peers := make([]string, 0, len(addrs)-1)
	for i, a := range addrs {
		if i != self {
			peers = append(peers, a)
		}
	}
	return peers
}

package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lamportlab/internal/discovery"
	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/experiment"
	"github.com/roach88/lamportlab/internal/node"
	"github.com/roach88/lamportlab/internal/store"
	"github.com/roach88/lamportlab/internal/telemetry"
)

// Environment fallbacks for flags that were not set explicitly.
const (
	EnvInternalProb = "INTERNAL_EVENT_PROB"
	EnvVariation    = "CLOCK_RATE_VARIATION"
)

// NodeOptions holds flags for the node command.
type NodeOptions struct {
	*RootOptions
	ID           int
	TickRate     int
	InternalProb float64
	Variation    string
	Host         string
	Listen       string
	Peers        []string
	BasePort     int
	Machines     int
	LogDir       string
	Database     string
	RunID        string
	MetricsAddr  string
	Duration     time.Duration
	DialAttempts int
	DialBackoff  time.Duration
	Enriched     bool
	Etcd         []string
	Cluster      string
}

// NewNodeCommand creates the node command.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one machine",
		Long: `Run a single machine as its own process.

Without --peer the machine assumes a local cluster of --machines nodes
listening on --base-port+id and dials every other one. With --etcd the
machine registers its address under --cluster and waits until --machines
members have registered instead.

Without --tick-rate a rate is drawn from the variation range
(normal: 1-6, small: 3-4).

Environment:
  INTERNAL_EVENT_PROB    default for --internal-prob
  CLOCK_RATE_VARIATION   default for --variation

Examples:
  lamportlab node --id 0
  lamportlab node --id 1 --tick-rate 4 --log-dir logs/manual
  lamportlab node --id 2 --listen :9002 --peer host-a:9000 --peer host-b:9001
  lamportlab node --id 0 --etcd http://127.0.0.1:2379 --cluster demo --metrics-addr :9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.ID, "id", 0, "machine id (required)")
	_ = cmd.MarkFlagRequired("id")
	f.IntVar(&opts.TickRate, "tick-rate", 0, "ticks per second (0 draws one from --variation)")
	f.Float64Var(&opts.InternalProb, "internal-prob", node.DefaultInternalProb, "probability of an internal event on an idle tick")
	f.StringVar(&opts.Variation, "variation", string(experiment.VariationNormal), "tick rate range (normal|small)")
	f.StringVar(&opts.Host, "host", "127.0.0.1", "host of the local cluster")
	f.StringVar(&opts.Listen, "listen", "", "listen address (default host:base-port+id)")
	f.StringArrayVar(&opts.Peers, "peer", nil, "peer address, repeatable, in peer index order")
	f.IntVar(&opts.BasePort, "base-port", 8000, "first port of the local cluster")
	f.IntVar(&opts.Machines, "machines", 3, "cluster size")
	f.StringVar(&opts.LogDir, "log-dir", "logs", "directory for machine_<id>.log")
	f.StringVar(&opts.Database, "db", "", "also record events into this SQLite database")
	f.StringVar(&opts.RunID, "run", "", "run id in --db (default: a new UUIDv7)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.IntVar(&opts.DialAttempts, "dial-attempts", node.DefaultDialAttempts, "connection attempts per peer")
	f.DurationVar(&opts.DialBackoff, "dial-backoff", node.DefaultDialBackoff, "pause between connection attempts")
	f.BoolVar(&opts.Enriched, "enriched", false, "prefix messages with the sender id")
	f.StringSliceVar(&opts.Etcd, "etcd", nil, "etcd endpoints for peer discovery")
	f.StringVar(&opts.Cluster, "cluster", "default", "discovery cluster name")

	return cmd
}

// applyEnv fills flags the user left alone from the environment.
func (o *NodeOptions) applyEnv(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("internal-prob") {
		if v, ok := os.LookupEnv(EnvInternalProb); ok && v != "" {
			p, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q", EnvInternalProb, v))
			}
			o.InternalProb = p
		}
	}
	if !cmd.Flags().Changed("variation") {
		if v, ok := os.LookupEnv(EnvVariation); ok && v != "" {
			o.Variation = v
		}
	}
	return nil
}

func parseVariation(v string) (experiment.Variation, error) {
	switch experiment.Variation(v) {
	case experiment.VariationNormal, experiment.VariationSmall:
		return experiment.Variation(v), nil
	}
	return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid variation %q: must be normal or small", v))
}

func runNode(opts *NodeOptions, cmd *cobra.Command) error {
	if err := opts.applyEnv(cmd); err != nil {
		return err
	}
	variation, err := parseVariation(opts.Variation)
	if err != nil {
		return err
	}
	if len(opts.Peers) > 0 && len(opts.Etcd) > 0 {
		return NewExitError(ExitCommandError, "--peer and --etcd are mutually exclusive")
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(opts.ID)))
	tickRate := opts.TickRate
	if tickRate == 0 {
		tickRate = experiment.DrawRates(rng, 1, variation)[0]
	}

	cfg := node.Config{
		ID:           opts.ID,
		ListenAddr:   opts.Listen,
		TickRate:     tickRate,
		InternalProb: opts.InternalProb,
		DialAttempts: opts.DialAttempts,
		DialBackoff:  opts.DialBackoff,
		Enriched:     opts.Enriched,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = net.JoinHostPort(opts.Host, strconv.Itoa(opts.BasePort+opts.ID))
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid node configuration", err)
	}

	// Bound up front so the address registered for discovery is the real one.
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to bind", &node.Error{
			Code: node.ErrCodeBind, Message: "cannot bind listening endpoint", Addr: cfg.ListenAddr, Err: err,
		})
	}

	cfg.Peers, err = opts.resolvePeers(ctx, advertiseAddr(listener.Addr(), opts.Host))
	if err != nil {
		listener.Close()
		return err
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		listener.Close()
		return WrapExitError(ExitCommandError, "failed to create log directory", err)
	}
	file, err := eventlog.OpenFile(eventlog.FileName(opts.LogDir, opts.ID))
	if err != nil {
		listener.Close()
		return WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	defer file.Close()

	var sink eventlog.Sink = file
	if opts.Database != "" {
		st, runID, err := openRun(ctx, opts.Database, opts.RunID, filepath.Base(filepath.Clean(opts.LogDir)))
		if err != nil {
			listener.Close()
			return err
		}
		defer st.Close()
		dbSink, err := st.NewNodeSink(ctx, runID, opts.ID)
		if err != nil {
			listener.Close()
			return WrapExitError(ExitCommandError, "failed to open run", err)
		}
		sink = eventlog.Tee(file, dbSink)
		slog.Info("recording into database", "db", opts.Database, "run", runID)
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
	}

	n, err := node.New(cfg,
		node.WithListener(listener),
		node.WithSink(sink),
		node.WithRand(rng),
		node.WithLogger(slog.Default().With("node", opts.ID)),
	)
	if err != nil {
		listener.Close()
		if node.IsConfigError(err) {
			return WrapExitError(ExitCommandError, "invalid node configuration", err)
		}
		return WrapExitError(ExitFailure, "failed to create node", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Machine %d listening on %s (tick rate %d, internal prob %.2f)\n",
		opts.ID, n.Addr(), tickRate, opts.InternalProb)

	if err := n.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "node error", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Machine %d stopped at logical clock %d\n", opts.ID, n.Clock())
	return nil
}

// resolvePeers returns explicit peers, peers found through etcd, or the
// local cluster layout, in that order of preference.
func (o *NodeOptions) resolvePeers(ctx context.Context, self string) ([]string, error) {
	if len(o.Peers) > 0 {
		return o.Peers, nil
	}

	if len(o.Etcd) > 0 {
		cli, err := discovery.NewClient(o.Etcd)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to etcd", err)
		}
		reg := discovery.NewEtcdRegistry(cli, o.Cluster, discovery.DefaultTTL)
		if err := reg.Register(ctx, discovery.Member{ID: o.ID, Addr: self}); err != nil {
			reg.Close()
			return nil, WrapExitError(ExitFailure, "failed to register", err)
		}
		go func() {
			<-ctx.Done()
			reg.Close()
		}()
		slog.Info("waiting for cluster", "cluster", o.Cluster, "machines", o.Machines)
		peers, err := discovery.Resolve(ctx, reg, o.ID, o.Machines, 0)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "peer discovery failed", err)
		}
		return peers, nil
	}

	peers := make([]string, 0, o.Machines)
	for j := range o.Machines {
		if j != o.ID {
			peers = append(peers, net.JoinHostPort(o.Host, strconv.Itoa(o.BasePort+j)))
		}
	}
	return peers, nil
}

// openRun opens the store and makes sure runID exists, creating it (with a
// fresh UUIDv7 when runID is empty).
func openRun(ctx context.Context, path, runID, name string) (*store.Store, string, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if runID == "" {
		runID = store.UUIDv7Generator{}.Generate()
	}
	_, err = st.ReadRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		err = st.CreateRun(ctx, store.Run{ID: runID, Name: name, CreatedAt: time.Now().UTC()})
	}
	if err != nil {
		st.Close()
		return nil, "", WrapExitError(ExitCommandError, "failed to prepare run", err)
	}
	return st, runID, nil
}

// advertiseAddr is the address peers should dial: the bound address with an
// unspecified host replaced by host.
func advertiseAddr(bound net.Addr, host string) string {
	tcp, ok := bound.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return bound.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

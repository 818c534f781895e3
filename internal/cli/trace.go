package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lamportlab/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Node     int
	Limit    int
}

// TraceEvent is one stored record in the trace output.
type TraceEvent struct {
	Node       int     `json:"node"`
	Seq        int64   `json:"seq"`
	Type       string  `json:"type"`
	Timestamp  float64 `json:"ts"`
	QueueDepth int     `json:"queue_depth"`
	Clock      int64   `json:"clock"`
	Extra      string  `json:"extra,omitempty"`
}

// TraceResult is the JSON payload of a run trace.
type TraceResult struct {
	RunID  string       `json:"run_id"`
	Name   string       `json:"name"`
	Events []TraceEvent `json:"events"`
}

// RunInfo is one entry of the run listing.
type RunInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Nodes     int       `json:"nodes"`
	Events    int       `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded events",
		Long: `Show the events recorded for a run, interleaved by wall time.

Without --run the runs in the database are listed instead. With --node only
that machine's events are shown, in log order.

Examples:
  lamportlab trace --db runs.db
  lamportlab trace --db runs.db --run 0192f3c4-...
  lamportlab trace --db runs.db --run 0192f3c4-... --node 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show")
	cmd.Flags().IntVar(&opts.Node, "node", -1, "show only this machine")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many events (0 shows all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.RunID == "" {
		return listRuns(opts, st, cmd)
	}

	ctx := cmd.Context()
	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	var events []store.Event
	if opts.Node >= 0 {
		events, err = st.ReadNodeEvents(ctx, opts.RunID, opts.Node)
	} else {
		events, err = st.ReadTimeline(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}

	res := TraceResult{RunID: run.ID, Name: run.Name, Events: make([]TraceEvent, len(events))}
	for i, ev := range events {
		res.Events[i] = TraceEvent{
			Node:       ev.NodeID,
			Seq:        ev.Seq,
			Type:       string(ev.Type),
			Timestamp:  ev.Timestamp,
			QueueDepth: ev.QueueDepth,
			Clock:      ev.Clock,
			Extra:      ev.Extra,
		}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, res, nil)
	}

	fmt.Fprintf(w, "Run: %s (%s)\n", run.Name, run.ID)
	if len(res.Events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-18s  %4s  %5s  %-8s  %6s  %5s  %s\n", "TIME", "NODE", "SEQ", "TYPE", "CLOCK", "QUEUE", "EXTRA")
	for _, ev := range res.Events {
		fmt.Fprintf(w, "%-18s  %4d  %5d  %-8s  %6d  %5d  %s\n",
			strconv.FormatFloat(ev.Timestamp, 'f', 6, 64), ev.Node, ev.Seq, ev.Type, ev.Clock, ev.QueueDepth, ev.Extra)
	}
	return nil
}

func listRuns(opts *TraceOptions, st *store.Store, cmd *cobra.Command) error {
	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	infos := make([]RunInfo, len(runs))
	for i, r := range runs {
		infos[i] = RunInfo{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, Nodes: r.Nodes, Events: r.Events}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(w, infos, nil)
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range infos {
		fmt.Fprintf(w, "%s  %-28s  %d machines  %d events  %s\n",
			r.ID, r.Name, r.Nodes, r.Events, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

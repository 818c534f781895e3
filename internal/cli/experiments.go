package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lamportlab/internal/experiment"
	"github.com/roach88/lamportlab/internal/store"
)

// ExperimentsOptions holds flags for the experiments command.
type ExperimentsOptions struct {
	*RootOptions
	LogDir   string
	Database string
	Only     []string
}

// TrialSummary is the reported outcome of one trial.
type TrialSummary struct {
	Name   string  `json:"name"`
	LogDir string  `json:"log_dir"`
	RunID  string  `json:"run_id,omitempty"`
	Rates  []int   `json:"tick_rates"`
	Clocks []int64 `json:"final_clocks"`
}

// NewExperimentsCommand creates the experiments command.
func NewExperimentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExperimentsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "experiments [plan.cue|plan.yaml]",
		Short: "Run a plan of experiments",
		Long: `Run every trial of every experiment in a plan, one cluster at a time.

Without a plan file the built-in study runs: five trials of the baseline
model (original_trial1..5), small_variation and small_internal_prob.
Each trial writes <log-dir>/<trial>/machine_<id>.log.

Examples:
  lamportlab experiments
  lamportlab experiments plans/study.cue --log-dir out
  lamportlab experiments --only small_variation --db runs.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := experiment.DefaultPlan()
			if len(args) == 1 {
				var err error
				plan, err = experiment.LoadPlan(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid plan", err)
				}
			}
			if len(opts.Only) > 0 {
				plan.Experiments = slices.DeleteFunc(plan.Experiments, func(e experiment.Experiment) bool {
					return !slices.Contains(opts.Only, e.Name)
				})
				if len(plan.Experiments) == 0 {
					return NewExitError(ExitCommandError, fmt.Sprintf("no experiment named %v in plan", opts.Only))
				}
			}
			return runPlan(cmd, opts.RootOptions, plan, opts.LogDir, opts.Database)
		},
	}

	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "logs", "root directory for trial logs")
	cmd.Flags().StringVar(&opts.Database, "db", "", "also record every trial into this SQLite database")
	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "run only the named experiments")

	return cmd
}

// runPlan executes plan with a Runner and reports each trial.
func runPlan(cmd *cobra.Command, opts *RootOptions, plan experiment.Plan, logDir, database string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	runner := &experiment.Runner{Root: logDir}
	if database != "" {
		st, err := store.Open(database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		runner.Store = st
	}

	w := cmd.OutOrStdout()
	start := time.Now()
	trials, err := runner.Run(ctx, plan)

	summaries := make([]TrialSummary, 0, len(trials))
	for _, tr := range trials {
		summaries = append(summaries, TrialSummary{
			Name:   tr.Name,
			LogDir: tr.Result.LogDir,
			RunID:  tr.RunID,
			Rates:  tr.Result.Rates,
			Clocks: tr.Result.Clocks,
		})
	}

	if opts.Format == "json" {
		var cliErr *CLIError
		if err != nil {
			cliErr = &CLIError{Code: "E_RUN_FAILED", Message: err.Error()}
		}
		if werr := writeJSON(w, summaries, cliErr); werr != nil {
			return werr
		}
	} else {
		for _, s := range summaries {
			fmt.Fprintf(w, "✓ %s: tick rates %v, final clocks %v\n", s.Name, s.Rates, s.Clocks)
			fmt.Fprintf(w, "  logs: %s\n", s.LogDir)
			if s.RunID != "" {
				fmt.Fprintf(w, "  run:  %s\n", s.RunID)
			}
		}
		if err == nil {
			fmt.Fprintf(w, "\n%d trial(s) completed in %s\n", len(summaries), time.Since(start).Round(time.Second))
		}
	}

	if err != nil {
		return WrapExitError(ExitFailure, "experiment failed", err)
	}
	return nil
}

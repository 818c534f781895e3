package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lamportlab/internal/experiment"
	"github.com/roach88/lamportlab/internal/node"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Machines     int
	Seconds      int
	InternalProb float64
	Variation    string
	BasePort     int
	Trials       int
	Stagger      time.Duration
	Pause        time.Duration
	Enriched     bool
	LogDir       string
	Database     string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one custom experiment",
		Long: `Run a cluster of machines in this process with custom parameters.

Logs go to <log-dir>/custom_m<machines>_d<seconds>[_i<prob>][_v<variation>],
where the probability and variation parts appear only when set explicitly.

Examples:
  lamportlab run --machines 5 --seconds 30
  lamportlab run --internal-prob 0.4 --variation small
  lamportlab run --base-port 0 --db runs.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			variation, err := parseVariation(opts.Variation)
			if err != nil {
				return err
			}

			var probPart *float64
			if cmd.Flags().Changed("internal-prob") {
				probPart = &opts.InternalProb
			}
			var variationPart experiment.Variation
			if cmd.Flags().Changed("variation") {
				variationPart = variation
			}

			e := experiment.NewExperiment(experiment.CustomName(opts.Machines, opts.Seconds, probPart, variationPart))
			e.Machines = opts.Machines
			e.Seconds = opts.Seconds
			e.BasePort = opts.BasePort
			e.InternalProb = opts.InternalProb
			e.Variation = variation
			e.Trials = opts.Trials
			e.StaggerMS = int(opts.Stagger / time.Millisecond)
			e.PauseMS = int(opts.Pause / time.Millisecond)
			e.Enriched = opts.Enriched

			if e.Machines < 1 || e.Seconds < 1 || e.Trials < 1 {
				return NewExitError(ExitCommandError, "--machines, --seconds and --trials must be at least 1")
			}

			return runPlan(cmd, opts.RootOptions, experiment.Plan{Experiments: []experiment.Experiment{e}}, opts.LogDir, opts.Database)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Machines, "machines", 3, "number of machines")
	f.IntVar(&opts.Seconds, "seconds", 60, "run duration in seconds")
	f.Float64Var(&opts.InternalProb, "internal-prob", node.DefaultInternalProb, "probability of an internal event on an idle tick")
	f.StringVar(&opts.Variation, "variation", string(experiment.VariationNormal), "tick rate range (normal|small)")
	f.IntVar(&opts.BasePort, "base-port", 8000, "machine i listens on base-port+i (0 picks free ports)")
	f.IntVar(&opts.Trials, "trials", 1, "number of trials")
	f.DurationVar(&opts.Stagger, "stagger", 500*time.Millisecond, "delay between machine starts")
	f.DurationVar(&opts.Pause, "pause", 5*time.Second, "pause between trials")
	f.BoolVar(&opts.Enriched, "enriched", false, "prefix messages with the sender id")
	f.StringVar(&opts.LogDir, "log-dir", "logs", "root directory for logs")
	f.StringVar(&opts.Database, "db", "", "also record events into this SQLite database")

	return cmd
}

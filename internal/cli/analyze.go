package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/roach88/lamportlab/internal/analysis"
	"github.com/roach88/lamportlab/internal/store"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	All      bool
	LogDir   string
	Database string
	RunID    string
	Lang     string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze [log-dir...]",
		Short: "Summarise experiment logs",
		Long: `Analyse the machine logs of one or more experiments.

For each experiment the report lists tick rates, event counts, logical
clock jumps, queue depths, final clocks and the clock drift between
machines at ten evenly spaced instants. A machine whose clock ever failed
to increase is reported as a violation.

Exit codes:
  0 - Every clock was monotonic
  1 - At least one violation was found
  2 - Command error (missing logs, bad flags)

Examples:
  lamportlab analyze logs/original_trial1
  lamportlab analyze --all --log-dir logs
  lamportlab analyze --db runs.db --run 0192f3c4-...
  lamportlab analyze logs/small_variation --lang de --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "analyse every experiment directory under --log-dir")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "logs", "root directory searched by --all")
	cmd.Flags().StringVar(&opts.Database, "db", "", "read the run from this SQLite database")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to analyse with --db")
	cmd.Flags().StringVar(&opts.Lang, "lang", "en", "language used to format numbers in text output")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, dirs []string, cmd *cobra.Command) error {
	tag, err := language.Parse(opts.Lang)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid language %q", opts.Lang), err)
	}

	var reports []*analysis.Report
	switch {
	case opts.Database != "":
		if opts.RunID == "" {
			return NewExitError(ExitCommandError, "--run is required with --db")
		}
		r, err := analyzeRun(cmd.Context(), opts.Database, opts.RunID)
		if err != nil {
			return err
		}
		reports = append(reports, r)

	default:
		if opts.All {
			found, err := experimentDirs(opts.LogDir)
			if err != nil {
				return err
			}
			dirs = append(dirs, found...)
		}
		if len(dirs) == 0 {
			return NewExitError(ExitCommandError, "no log directories given (pass directories, --all or --db)")
		}
		for _, dir := range dirs {
			r, err := analysis.AnalyzeDir(dir)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to analyse %s", dir), err)
			}
			reports = append(reports, r)
		}
	}

	violations := 0
	for _, r := range reports {
		violations += len(r.Violations)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		var cliErr *CLIError
		if violations > 0 {
			cliErr = &CLIError{Code: "E_NOT_MONOTONIC", Message: fmt.Sprintf("%d clock violation(s)", violations)}
		}
		if err := writeJSON(w, reports, cliErr); err != nil {
			return err
		}
	} else {
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(w, "\n---")
				fmt.Fprintln(w)
			}
			if err := r.WriteTextLang(w, tag); err != nil {
				return err
			}
		}
	}

	if violations > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d clock violation(s)", violations))
	}
	return nil
}

func analyzeRun(ctx context.Context, path, runID string) (*analysis.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read run", err)
	}
	logs, err := st.ReadLogs(ctx, runID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read events", err)
	}
	r, err := analysis.Analyze(run.Name, logs)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to analyse run %s", runID), err)
	}
	return r, nil
}

// experimentDirs returns the subdirectories of root that hold at least one
// machine log, in name order.
func experimentDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read log directory", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matches, _ := filepath.Glob(filepath.Join(root, e.Name(), "machine_*.log"))
		if len(matches) > 0 {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	if len(dirs) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no experiment logs under %s", root))
	}
	return dirs, nil
}

// openExisting opens a database that must already exist.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database string
	Name     string
}

// IngestResult is the JSON payload of a successful ingest.
type IngestResult struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Events int    `json:"events"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <log-dir>",
		Short: "Import machine logs into a database",
		Long: `Parse every machine_<id>.log in a directory and store the records as a
new run. Either every file is imported or nothing is.

Examples:
  lamportlab ingest logs/original_trial1 --db runs.db
  lamportlab ingest logs/manual --db runs.db --name manual-3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Name, "name", "", "run name (default: the directory name)")

	return cmd
}

func runIngest(opts *IngestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("log directory not found: %s", dir))
	}

	logs, err := eventlog.ReadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read logs", err)
	}
	if len(logs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no machine logs in %s", dir))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	name := opts.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}

	ctx := cmd.Context()
	res := IngestResult{RunID: store.UUIDv7Generator{}.Generate(), Name: name}
	if err := st.CreateRun(ctx, store.Run{ID: res.RunID, Name: name, CreatedAt: time.Now().UTC()}); err != nil {
		return WrapExitError(ExitCommandError, "failed to create run", err)
	}
	res.Events, err = st.ImportLogs(ctx, res.RunID, logs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to import logs", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), res, nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d events from %s\n  run: %s (%s)\n", res.Events, dir, res.RunID, res.Name)
	return nil
}

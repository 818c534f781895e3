package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lamportlab/internal/node"
	"github.com/roach88/lamportlab/internal/store"
)

// TrialResult is the outcome of one trial of one experiment.
type TrialResult struct {
	Experiment string
	Trial      int
	Name       string
	RunID      string // empty without a store
	Result     *Result
}

// Runner executes plans, one trial at a time.
type Runner struct {
	// Root is the directory trial log directories are created under.
	Root string

	// Store, when set, receives every record and one run row per trial.
	Store *store.Store
	IDs   store.RunIDGenerator

	Logger *slog.Logger
	Rates  node.Rand
	Now    func() time.Time

	// Adjust lets callers override cluster settings (ports, dial timing)
	// after a trial's config has been derived from the plan.
	Adjust func(*ClusterConfig)
}

// Run executes every trial of every experiment in order, pausing PauseMS
// between trials. It stops at the first failing trial.
func (r *Runner) Run(ctx context.Context, plan Plan) ([]TrialResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	ids := r.IDs
	if ids == nil {
		ids = store.UUIDv7Generator{}
	}

	var results []TrialResult
	total := 0
	for _, e := range plan.Experiments {
		total += e.Trials
	}

	done := 0
	for _, e := range plan.Experiments {
		for trial := 1; trial <= e.Trials; trial++ {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			tr := TrialResult{Experiment: e.Name, Trial: trial, Name: e.TrialName(trial)}
			cfg := e.Cluster(r.Root, trial)
			if r.Adjust != nil {
				r.Adjust(&cfg)
			}

			opts := []ClusterOption{WithLogger(logger.With("trial", tr.Name))}
			if r.Rates != nil {
				opts = append(opts, WithRateSource(r.Rates))
			}
			if r.Store != nil {
				tr.RunID = ids.Generate()
				if err := r.Store.CreateRun(ctx, store.Run{ID: tr.RunID, Name: tr.Name, CreatedAt: now()}); err != nil {
					return results, err
				}
				opts = append(opts, WithStore(r.Store, tr.RunID))
			}

			logger.Info("running trial", "name", tr.Name, "machines", cfg.Machines, "duration", cfg.Duration)
			res, err := RunCluster(ctx, cfg, opts...)
			if err != nil {
				return results, fmt.Errorf("trial %s: %w", tr.Name, err)
			}
			tr.Result = res
			results = append(results, tr)

			done++
			if done < total && e.PauseMS > 0 {
				select {
				case <-ctx.Done():
					return results, ctx.Err()
				case <-time.After(time.Duration(e.PauseMS) * time.Millisecond):
				}
			}
		}
	}
	return results, nil
}

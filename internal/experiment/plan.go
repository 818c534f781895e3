package experiment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roach88/lamportlab/internal/node"
)

// Variation selects the range tick rates are drawn from.
type Variation string

const (
	// VariationNormal draws tick rates uniformly from 1..6.
	VariationNormal Variation = "normal"
	// VariationSmall draws tick rates uniformly from 3..4.
	VariationSmall Variation = "small"
)

// RateRange returns the inclusive tick-rate bounds. Unknown variations
// behave like VariationNormal.
func (v Variation) RateRange() (lo, hi int) {
	if v == VariationSmall {
		return 3, 4
	}
	return 1, 6
}

// Experiment is one named cluster configuration, run Trials times.
type Experiment struct {
	Name         string    `json:"name"`
	Machines     int       `json:"machines"`
	Seconds      int       `json:"seconds"`
	BasePort     int       `json:"base_port"`
	InternalProb float64   `json:"internal_prob"`
	Variation    Variation `json:"variation"`
	Trials       int       `json:"trials"`
	StaggerMS    int       `json:"stagger_ms"`
	PauseMS      int       `json:"pause_ms"`
	Enriched     bool      `json:"enriched"`
}

// Plan is an ordered list of experiments.
type Plan struct {
	Experiments []Experiment `json:"experiments"`
}

// NewExperiment returns an experiment with every default applied.
func NewExperiment(name string) Experiment {
	return Experiment{
		Name:         name,
		Machines:     3,
		Seconds:      60,
		BasePort:     8000,
		InternalProb: node.DefaultInternalProb,
		Variation:    VariationNormal,
		Trials:       1,
		StaggerMS:    500,
		PauseMS:      5000,
	}
}

// DefaultPlan is the standard study: five trials of the baseline model, one
// run with a narrow tick-rate spread and one with fewer internal events.
func DefaultPlan() Plan {
	original := NewExperiment("original")
	original.Trials = 5

	small := NewExperiment("small_variation")
	small.Variation = VariationSmall

	lowInternal := NewExperiment("small_internal_prob")
	lowInternal.InternalProb = 0.4

	return Plan{Experiments: []Experiment{original, small, lowInternal}}
}

// CustomName names an ad-hoc run after its parameters, e.g.
// "custom_m3_d60_i0.4_vsmall". Defaults are left out.
func CustomName(machines, seconds int, internalProb *float64, variation Variation) string {
	name := fmt.Sprintf("custom_m%d_d%d", machines, seconds)
	if internalProb != nil {
		name += "_i" + strconv.FormatFloat(*internalProb, 'f', -1, 64)
	}
	if variation != "" {
		name += "_v" + string(variation)
	}
	return name
}

// TrialName is the log directory name of one trial.
// Single-trial experiments use the bare experiment name.
func (e Experiment) TrialName(trial int) string {
	if e.Trials <= 1 {
		return e.Name
	}
	return fmt.Sprintf("%s_trial%d", e.Name, trial)
}

// Cluster converts the experiment into a cluster configuration writing to
// root/<trial name>.
func (e Experiment) Cluster(root string, trial int) ClusterConfig {
	return ClusterConfig{
		Machines:     e.Machines,
		Duration:     time.Duration(e.Seconds) * time.Second,
		BasePort:     e.BasePort,
		InternalProb: e.InternalProb,
		Variation:    e.Variation,
		Stagger:      time.Duration(e.StaggerMS) * time.Millisecond,
		Enriched:     e.Enriched,
		LogDir:       filepath.Join(root, e.TrialName(trial)),
	}
}

package harness

import "github.com/roach88/lamportlab/internal/eventlog"

// TraceEvent is the record one step produced on its node.
// Timestamps are left out so traces compare byte for byte.
type TraceEvent struct {
	Step       int    `json:"step"`
	Node       int    `json:"node"`
	Type       string `json:"type"`
	Clock      int64  `json:"clock"`
	QueueDepth int    `json:"queue_depth"`
	Extra      string `json:"extra,omitempty"`
	Label      string `json:"label,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Clocks and Queues are the final clock and inbound queue depth per node.
	Clocks []int64 `json:"clocks"`
	Queues []int   `json:"queues"`

	// Logs holds every record each node wrote, including START.
	Logs [][]eventlog.Record `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Clocks: []int64{},
		Queues: []int{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends the event a step produced.
func (r *Result) AddTrace(step int, node int, rec eventlog.Record, label string) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:       step,
		Node:       node,
		Type:       string(rec.Type),
		Clock:      rec.Clock,
		QueueDepth: rec.QueueDepth,
		Extra:      rec.Extra,
		Label:      label,
	})
}

// labelled returns the trace event carrying label.
func (r *Result) labelled(label string) (TraceEvent, bool) {
	for _, e := range r.Trace {
		if e.Label == label {
			return e, true
		}
	}
	return TraceEvent{}, false
}

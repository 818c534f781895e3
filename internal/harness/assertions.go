package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/lamportlab/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] node %d %s clock=%d", event.Step, event.Node, event.Type, event.Clock)
			if event.Label != "" {
				fmt.Fprintf(&buf, " (%s)", event.Label)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// AssertionContext provides what store-backed assertions need.
type AssertionContext struct {
	Store *store.Store
	RunID string
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertClock:
		return assertClock(result, a)
	case AssertCausalOrder:
		return assertCausalOrder(result, a)
	case AssertQueueDepth:
		return assertQueueDepth(result, a)
	case AssertQueueEmpty:
		return assertQueueEmpty(result)
	case AssertEventCount:
		return assertEventCount(result, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertClock checks a node's final logical clock.
func assertClock(result *Result, a Assertion) error {
	id := *a.Node
	if id >= len(result.Clocks) {
		return fmt.Errorf("node %d does not exist", id)
	}
	if got := result.Clocks[id]; got != *a.Equals {
		return &AssertionError{
			Type:     AssertClock,
			Expected: fmt.Sprintf("node %d clock %d", id, *a.Equals),
			Actual:   fmt.Sprintf("clock %d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertCausalOrder checks that each labelled event has a strictly larger
// clock than the label before it, which every happens-before chain must.
func assertCausalOrder(result *Result, a Assertion) error {
	var prev TraceEvent
	for i, label := range a.Labels {
		ev, ok := result.labelled(label)
		if !ok {
			return &AssertionError{
				Type:     AssertCausalOrder,
				Expected: fmt.Sprintf("labelled event %q", label),
				Actual:   "label not in trace (did its step fail?)",
				Trace:    result.Trace,
			}
		}
		if i > 0 && ev.Clock <= prev.Clock {
			return &AssertionError{
				Type:     AssertCausalOrder,
				Expected: fmt.Sprintf("clock(%s) < clock(%s)", prev.Label, label),
				Actual:   fmt.Sprintf("%d >= %d", prev.Clock, ev.Clock),
				Trace:    result.Trace,
			}
		}
		prev = ev
	}
	return nil
}

func assertQueueDepth(result *Result, a Assertion) error {
	id := *a.Node
	if id >= len(result.Queues) {
		return fmt.Errorf("node %d does not exist", id)
	}
	if got := int64(result.Queues[id]); got != *a.Equals {
		return &AssertionError{
			Type:     AssertQueueDepth,
			Expected: fmt.Sprintf("node %d queue depth %d", id, *a.Equals),
			Actual:   fmt.Sprintf("depth %d", got),
		}
	}
	return nil
}

func assertQueueEmpty(result *Result) error {
	var busy []string
	for id, depth := range result.Queues {
		if depth > 0 {
			busy = append(busy, fmt.Sprintf("node %d has %d", id, depth))
		}
	}
	if len(busy) > 0 {
		return &AssertionError{
			Type:     AssertQueueEmpty,
			Expected: "every inbound queue empty",
			Actual:   strings.Join(busy, ", "),
		}
	}
	return nil
}

// assertEventCount counts stored records of one type, for one node or the
// whole run. It reads the store rather than the in-memory logs so the SQLite
// tee is exercised end to end.
func assertEventCount(result *Result, a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("event_count needs a store")
	}

	var (
		events []store.Event
		err    error
		scope  = "run"
	)
	if a.Node != nil {
		scope = fmt.Sprintf("node %d", *a.Node)
		events, err = actx.Store.ReadNodeEvents(actx.Ctx, actx.RunID, *a.Node)
	} else {
		events, err = actx.Store.ReadTimeline(actx.Ctx, actx.RunID)
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("events of %s", scope),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	count := 0
	for _, ev := range events {
		if string(ev.Type) == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s records in %s", a.Count, a.Event, scope),
			Actual:   fmt.Sprintf("%d records", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario wires Nodes nodes into a full mesh, drives them through a
// scripted list of steps and then checks assertions against the final
// clocks, queues and logs.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Nodes is the cluster size. Node ids are 0..Nodes-1 and every node
	// dials every other node in id order, so on node i peer index j is
	// node j when j < i and node j+1 otherwise.
	Nodes int `yaml:"nodes"`

	// Enriched makes nodes prefix messages with their sender id.
	Enriched bool `yaml:"enriched,omitempty"`

	// Steps run strictly one after another.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	// Supported types: clock, causal_order, queue_depth, queue_empty, event_count
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action on one node.
type Step struct {
	// Node is the id of the acting node.
	Node int `yaml:"node"`

	// Action is one of internal, send, broadcast or receive.
	Action string `yaml:"action"`

	// Targets lists peer indices for send.
	Targets []int `yaml:"targets,omitempty"`

	// Label names the resulting event for causal_order assertions.
	Label string `yaml:"label,omitempty"`
}

// Step actions.
const (
	ActionInternal  = "internal"
	ActionSend      = "send"
	ActionBroadcast = "broadcast"
	ActionReceive   = "receive"
)

// Assertion validates the final state of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "clock": node's final clock equals Equals
	// - "causal_order": labelled events have strictly increasing clocks
	// - "queue_depth": node's inbound queue holds Equals messages
	// - "queue_empty": every inbound queue is empty
	// - "event_count": Count records of Event were stored (for Node, if set)
	Type string `yaml:"type"`

	// Node is the node id (clock, queue_depth, optionally event_count).
	Node *int `yaml:"node,omitempty"`

	// Equals is the expected value for clock and queue_depth.
	Equals *int64 `yaml:"equals,omitempty"`

	// Labels is the expected causal chain for causal_order.
	Labels []string `yaml:"labels,omitempty"`

	// Event is the record type counted by event_count (START, SEND, ...).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of records for event_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertClock       = "clock"
	AssertCausalOrder = "causal_order"
	AssertQueueDepth  = "queue_depth"
	AssertQueueEmpty  = "queue_empty"
	AssertEventCount  = "event_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns every .yaml/.yml file under dir whose base name
// (without extension) matches filter, sorted. An empty filter matches all.
func FindScenarios(dir, filter string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Nodes < 1 {
		return fmt.Errorf("nodes must be at least 1, got %d", s.Nodes)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if step.Node < 0 || step.Node >= s.Nodes {
			return fmt.Errorf("steps[%d]: node %d out of range [0,%d)", i, step.Node, s.Nodes)
		}
		switch step.Action {
		case ActionInternal, ActionBroadcast, ActionReceive:
			if len(step.Targets) > 0 {
				return fmt.Errorf("steps[%d]: targets only apply to send", i)
			}
		case ActionSend:
			if len(step.Targets) == 0 {
				return fmt.Errorf("steps[%d]: send requires targets", i)
			}
			for _, t := range step.Targets {
				if t < 0 || t >= s.Nodes-1 {
					return fmt.Errorf("steps[%d]: peer index %d out of range [0,%d)", i, t, s.Nodes-1)
				}
			}
		case "":
			return fmt.Errorf("steps[%d]: action is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", i, step.Label)
			}
			labels[step.Label] = true
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.Nodes, labels); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, nodes int, labels map[string]bool) error {
	needNode := func() error {
		if a.Node == nil {
			return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
		}
		if *a.Node < 0 || *a.Node >= nodes {
			return fmt.Errorf("assertions[%d]: node %d out of range [0,%d)", index, *a.Node, nodes)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertClock, AssertQueueDepth:
		if err := needNode(); err != nil {
			return err
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for %s", index, a.Type)
		}
	case AssertCausalOrder:
		if len(a.Labels) < 2 {
			return fmt.Errorf("assertions[%d]: causal_order needs at least two labels", index)
		}
		for _, l := range a.Labels {
			if !labels[l] {
				return fmt.Errorf("assertions[%d]: unknown label %q", index, l)
			}
		}
	case AssertQueueEmpty:
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
		if a.Node != nil {
			if err := needNode(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

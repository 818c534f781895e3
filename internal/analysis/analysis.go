// Package analysis summarises the event logs of one cluster run.
//
// For each machine it reports the parameters recorded in START, event counts
// by type, logical clock jumps (steps larger than one, which only a RECEIVE can
// cause) and inbound queue depth. Across machines it samples clock drift: at
// DriftSamples evenly spaced instants between the first and last record of
// the run, the spread between the highest and lowest clock observed.
package analysis

import (
	"errors"
	"math"
	"path/filepath"
	"strconv"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// DriftSamples is the number of instants drift is sampled at.
const DriftSamples = 10

// ErrNoLogs is returned when there is nothing to analyse.
var ErrNoLogs = errors.New("no machine logs found")

// Machine holds the statistics of one node's log.
type Machine struct {
	NodeID       int            `json:"node_id"`
	ClockRate    int            `json:"clock_rate,omitempty"`
	InternalProb *float64       `json:"internal_prob,omitempty"`
	Events       map[string]int `json:"events"`
	Total        int            `json:"total"`
	Jumps        int            `json:"jumps"`
	AvgJump      float64        `json:"avg_jump"`
	MaxJump      int64          `json:"max_jump"`
	AvgQueue     float64        `json:"avg_queue"`
	MaxQueue     int            `json:"max_queue"`
	FinalClock   int64          `json:"final_clock"`
}

// Drift is the clock spread across machines at one instant.
type Drift struct {
	Offset float64 `json:"offset"` // seconds since the first record of the run
	Spread int64   `json:"spread"`
}

// Violation is a record whose clock did not move past its predecessor's.
type Violation struct {
	NodeID int   `json:"node_id"`
	Index  int   `json:"index"`
	Prev   int64 `json:"prev"`
	Clock  int64 `json:"clock"`
}

// Report is the analysis of one run.
type Report struct {
	Name       string      `json:"name"`
	Start      float64     `json:"start"`
	End        float64     `json:"end"`
	Machines   []Machine   `json:"machines"`
	Drift      []Drift     `json:"drift"`
	MaxDrift   int64       `json:"max_drift"`
	Violations []Violation `json:"violations"`
}

// Monotonic reports whether every node's clock strictly increased.
func (r *Report) Monotonic() bool { return len(r.Violations) == 0 }

// AnalyzeDir parses every machine_<id>.log in dir and analyses them.
// The report is named after the directory.
func AnalyzeDir(dir string) (*Report, error) {
	logs, err := eventlog.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return Analyze(filepath.Base(filepath.Clean(dir)), logs)
}

// Analyze builds a report from parsed node logs.
func Analyze(name string, logs []eventlog.NodeLog) (*Report, error) {
	if len(logs) == 0 {
		return nil, ErrNoLogs
	}

	r := &Report{
		Name:       name,
		Machines:   make([]Machine, 0, len(logs)),
		Violations: CheckMonotonic(logs),
	}
	for _, l := range logs {
		r.Machines = append(r.Machines, machineStats(l))
	}

	start, end, ok := span(logs)
	if ok {
		r.Start, r.End = start, end
		r.Drift = SampleDrift(logs, DriftSamples)
	} else {
		r.Drift = []Drift{}
	}
	for _, d := range r.Drift {
		r.MaxDrift = max(r.MaxDrift, d.Spread)
	}
	return r, nil
}

func machineStats(l eventlog.NodeLog) Machine {
	m := Machine{NodeID: l.NodeID, Events: make(map[string]int), Total: len(l.Records)}

	var jumpSum, queueSum int64
	for i, rec := range l.Records {
		m.Events[string(rec.Type)]++
		queueSum += int64(rec.QueueDepth)
		m.MaxQueue = max(m.MaxQueue, rec.QueueDepth)

		if rec.Type == eventlog.EventStart && m.ClockRate == 0 {
			params := eventlog.ParseParams(rec.Extra)
			if v, err := strconv.Atoi(params["clock_rate"]); err == nil {
				m.ClockRate = v
			}
			if v, err := strconv.ParseFloat(params["internal_prob"], 64); err == nil {
				m.InternalProb = &v
			}
		}

		if i > 0 {
			if jump := rec.Clock - l.Records[i-1].Clock; jump > 1 {
				m.Jumps++
				jumpSum += jump
				m.MaxJump = max(m.MaxJump, jump)
			}
		}
		m.FinalClock = rec.Clock
	}

	if m.Jumps > 0 {
		m.AvgJump = float64(jumpSum) / float64(m.Jumps)
	}
	if m.Total > 0 {
		m.AvgQueue = float64(queueSum) / float64(m.Total)
	}
	return m
}

// CheckMonotonic returns every record whose clock is not strictly greater
// than the previous record's on the same node. START is exempt as the first
// record; a node's log always begins at clock 0.
func CheckMonotonic(logs []eventlog.NodeLog) []Violation {
	violations := []Violation{}
	for _, l := range logs {
		for i := 1; i < len(l.Records); i++ {
			prev, cur := l.Records[i-1].Clock, l.Records[i].Clock
			if cur <= prev {
				violations = append(violations, Violation{NodeID: l.NodeID, Index: i, Prev: prev, Clock: cur})
			}
		}
	}
	return violations
}

// SampleDrift samples n evenly spaced instants from the first to the last
// record of the run, both included. At each instant every machine contributes
// the clock of its record closest in time (the earliest on a tie); the spread
// is the highest minus the lowest. Machines with empty logs are skipped.
func SampleDrift(logs []eventlog.NodeLog, n int) []Drift {
	start, end, ok := span(logs)
	if !ok || n < 1 {
		return []Drift{}
	}

	samples := make([]Drift, n)
	for i := range samples {
		at := start
		if n > 1 {
			at = start + (end-start)*float64(i)/float64(n-1)
		}

		lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
		for _, l := range logs {
			if len(l.Records) == 0 {
				continue
			}
			c := closest(l.Records, at).Clock
			lo, hi = min(lo, c), max(hi, c)
		}
		samples[i] = Drift{Offset: at - start, Spread: hi - lo}
	}
	return samples
}

func closest(records []eventlog.Record, at float64) eventlog.Record {
	best := records[0]
	bestDist := math.Abs(best.Timestamp - at)
	for _, r := range records[1:] {
		if d := math.Abs(r.Timestamp - at); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

// span returns the earliest and latest timestamps across all logs.
func span(logs []eventlog.NodeLog) (start, end float64, ok bool) {
	start, end = math.Inf(1), math.Inf(-1)
	for _, l := range logs {
		for _, r := range l.Records {
			start = min(start, r.Timestamp)
			end = max(end, r.Timestamp)
			ok = true
		}
	}
	return start, end, ok
}

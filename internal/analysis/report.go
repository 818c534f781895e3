package analysis

import (
	"encoding/json"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/lamportlab/internal/eventlog"
)

var eventOrder = []eventlog.EventType{
	eventlog.EventStart,
	eventlog.EventInternal,
	eventlog.EventSend,
	eventlog.EventReceive,
}

// WriteText renders the report for people, with numbers formatted for English.
func (r *Report) WriteText(w io.Writer) error {
	return r.WriteTextLang(w, language.English)
}

// WriteTextLang renders the report with numbers formatted for tag.
func (r *Report) WriteTextLang(w io.Writer, tag language.Tag) error {
	p := message.NewPrinter(tag)
	ew := &errWriter{w: w}

	p.Fprintf(ew, "Experiment: %s\n", r.Name)
	p.Fprintf(ew, "Machines: %d\n", len(r.Machines))

	p.Fprintf(ew, "\nClock rates:\n")
	for _, m := range r.Machines {
		if m.ClockRate == 0 {
			p.Fprintf(ew, "  machine %d: unknown\n", m.NodeID)
			continue
		}
		p.Fprintf(ew, "  machine %d: %d ticks/s", m.NodeID, m.ClockRate)
		if m.InternalProb != nil {
			p.Fprintf(ew, ", internal prob %.2f", *m.InternalProb)
		}
		p.Fprintf(ew, "\n")
	}

	p.Fprintf(ew, "\nEvents:\n")
	for _, m := range r.Machines {
		p.Fprintf(ew, "  machine %d:", m.NodeID)
		for _, t := range eventOrder {
			p.Fprintf(ew, " %s %d", t, m.Events[string(t)])
		}
		p.Fprintf(ew, " (total %d)\n", m.Total)
	}

	p.Fprintf(ew, "\nLogical clock jumps:\n")
	for _, m := range r.Machines {
		if m.Jumps == 0 {
			p.Fprintf(ew, "  machine %d: no jumps\n", m.NodeID)
			continue
		}
		p.Fprintf(ew, "  machine %d: %d jumps, avg %.2f, max %d\n", m.NodeID, m.Jumps, m.AvgJump, m.MaxJump)
	}

	p.Fprintf(ew, "\nQueue depth:\n")
	for _, m := range r.Machines {
		p.Fprintf(ew, "  machine %d: avg %.2f, max %d\n", m.NodeID, m.AvgQueue, m.MaxQueue)
	}

	p.Fprintf(ew, "\nFinal clocks:\n")
	for _, m := range r.Machines {
		p.Fprintf(ew, "  machine %d: %d\n", m.NodeID, m.FinalClock)
	}

	p.Fprintf(ew, "\nDrift:\n")
	for _, d := range r.Drift {
		p.Fprintf(ew, "  +%.2fs: %d\n", d.Offset, d.Spread)
	}
	p.Fprintf(ew, "  max: %d\n", r.MaxDrift)

	if r.Monotonic() {
		p.Fprintf(ew, "\nMonotonic: ok\n")
	} else {
		p.Fprintf(ew, "\nMonotonic: %d violations\n", len(r.Violations))
		for _, v := range r.Violations {
			p.Fprintf(ew, "  machine %d record %d: %d after %d\n", v.NodeID, v.Index, v.Clock, v.Prev)
		}
	}
	return ew.err
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// errWriter keeps the first write error so formatting code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

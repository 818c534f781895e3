// Package eventlog defines the per-node event record and its line format.
//
// Every observable event on a node (START, INTERNAL, SEND, RECEIVE) produces
// exactly one Record, appended synchronously to a Sink at the point the event
// happens. Records are never mutated after emission.
//
// # Line Format
//
//	eventType,timestampSeconds,queueDepth,logicalClock[,extra]
//
// extra is `clock_rate=<n>;internal_prob=<p>` for START, `all peers` or
// `peer(s) [i,j]` for SEND, and absent otherwise. Because extra may itself
// contain commas, parsers split on the first four commas only.
//
// Timestamps are float seconds since the Unix epoch, formatted with the
// shortest representation that round-trips exactly.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// EventType identifies the kind of event a Record describes.
type EventType string

const (
	EventStart    EventType = "START"
	EventInternal EventType = "INTERNAL"
	EventSend     EventType = "SEND"
	EventReceive  EventType = "RECEIVE"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventInternal, EventSend, EventReceive:
		return true
	}
	return false
}

// Record is one line of a node's event log.
type Record struct {
	Type       EventType
	Timestamp  float64 // wall-clock seconds since the Unix epoch
	QueueDepth int     // undelivered inbound messages at emission
	Clock      int64   // logical clock after the event
	Extra      string
}

// Seconds converts a wall-clock instant into the float seconds stored in Record.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time converts the record timestamp back to a time.Time (microsecond-ish precision).
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Format renders the record as a single log line without the trailing newline.
func Format(r Record) string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(r.Timestamp, 'f', -1, 64))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(r.QueueDepth))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(r.Clock, 10))
	if r.Extra != "" {
		b.WriteByte(',')
		b.WriteString(r.Extra)
	}
	return b.String()
}

// ParseError describes a log line that could not be parsed.
type ParseError struct {
	Line int // 1-based line number, 0 when parsing a single line
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes a single log line.
func Parse(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, ",", 5)
	if len(parts) < 4 {
		return Record{}, &ParseError{Text: line, Err: fmt.Errorf("expected at least 4 fields, got %d", len(parts))}
	}

	rec := Record{Type: EventType(parts[0])}
	if !rec.Type.Valid() {
		return Record{}, &ParseError{Text: line, Err: fmt.Errorf("unknown event type %q", parts[0])}
	}

	var err error
	if rec.Timestamp, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return Record{}, &ParseError{Text: line, Err: fmt.Errorf("timestamp: %w", err)}
	}
	if rec.QueueDepth, err = strconv.Atoi(parts[2]); err != nil {
		return Record{}, &ParseError{Text: line, Err: fmt.Errorf("queue depth: %w", err)}
	}
	if rec.Clock, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
		return Record{}, &ParseError{Text: line, Err: fmt.Errorf("logical clock: %w", err)}
	}
	if len(parts) == 5 {
		rec.Extra = parts[4]
	}

	return rec, nil
}

// ReadAll parses every non-blank line from r.
// The first malformed line aborts the read with a *ParseError carrying its line number.
func ReadAll(r io.Reader) ([]Record, error) {
	records := []Record{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := Parse(text)
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Line = lineNo
			}
			return nil, err
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return records, nil
}

// StartExtra builds the START record parameters.
func StartExtra(clockRate int, internalProb float64) string {
	return "clock_rate=" + strconv.Itoa(clockRate) + ";internal_prob=" + strconv.FormatFloat(internalProb, 'f', -1, 64)
}

// ParseParams splits START parameters into a map.
// Both ';' and ',' separators are accepted for older logs.
func ParseParams(extra string) map[string]string {
	params := make(map[string]string)
	for _, field := range strings.FieldsFunc(extra, func(r rune) bool { return r == ';' || r == ',' }) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}

// AllPeers is the SEND extra for a broadcast.
const AllPeers = "all peers"

// SendExtra describes the targets of a SEND. A nil slice means broadcast.
func SendExtra(targets []int) string {
	if targets == nil {
		return AllPeers
	}
	idx := make([]string, len(targets))
	for i, t := range targets {
		idx[i] = strconv.Itoa(t)
	}
	return "peer(s) [" + strings.Join(idx, ",") + "]"
}

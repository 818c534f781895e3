package eventlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink is an append-only destination for records.
//
// Append is called synchronously from the emitting node's scheduling loop,
// so log order matches event order. There is no retry and no batching.
type Sink interface {
	Append(rec Record) error
	Close() error
}

// FileName returns the conventional log file path for a node.
func FileName(dir string, nodeID int) string {
	return filepath.Join(dir, fmt.Sprintf("machine_%d.log", nodeID))
}

// FileSink appends formatted records to a file, one per line.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFile opens (or creates) path for appending.
// The parent directory is created if it doesn't exist.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes one line. Each call is a single write syscall.
func (s *FileSink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.f.WriteString(Format(rec) + "\n"); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Close closes the underlying file. Safe to call more than once.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// MemorySink keeps records in memory. Used by tests and the harness.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Last returns the most recent record, if any.
func (s *MemorySink) Last() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

type discard struct{}

func (discard) Append(Record) error { return nil }
func (discard) Close() error        { return nil }

// Discard drops every record.
var Discard Sink = discard{}

type tee []Sink

// Tee fans each record out to every sink. All sinks are attempted even if
// one fails; the failures are joined.
func Tee(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return tee(sinks)
}

func (t tee) Append(rec Record) error {
	var errs []error
	for _, s := range t {
		if err := s.Append(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) Close() error {
	var errs []error
	for _, s := range t {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

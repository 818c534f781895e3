package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lamportlab/internal/eventlog"
)

// runRoot executes the full command tree and returns stdout.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeMachineLogs writes a two-machine experiment into root/name. With
// broken set, machine 1 repeats a clock value.
func writeMachineLogs(t *testing.T, root, name string, broken bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	last := int64(4)
	if broken {
		last = 3
	}
	logs := [][]eventlog.Record{
		{
			{Type: eventlog.EventStart, Timestamp: 100, Clock: 0, Extra: eventlog.StartExtra(2, 0.7)},
			{Type: eventlog.EventInternal, Timestamp: 100.5, Clock: 1},
			{Type: eventlog.EventSend, Timestamp: 101, Clock: 2, Extra: eventlog.SendExtra([]int{0})},
		},
		{
			{Type: eventlog.EventStart, Timestamp: 100, Clock: 0, Extra: eventlog.StartExtra(3, 0.7)},
			{Type: eventlog.EventReceive, Timestamp: 101.2, Clock: 3},
			{Type: eventlog.EventInternal, Timestamp: 101.8, Clock: last},
		},
	}
	for id, records := range logs {
		sink, err := eventlog.OpenFile(eventlog.FileName(dir, id))
		require.NoError(t, err)
		for _, rec := range records {
			require.NoError(t, sink.Append(rec))
		}
		require.NoError(t, sink.Close())
	}
	return dir
}

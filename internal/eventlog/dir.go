package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// NodeIDFromFile extracts the node id from a "machine_<id>.log" file name.
func NodeIDFromFile(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "machine_") || !strings.HasSuffix(base, ".log") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "machine_"), ".log"))
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// NodeLog is the parsed log of one node.
type NodeLog struct {
	NodeID  int
	Path    string
	Records []Record
}

// ReadDir parses every node log in dir, ordered by node id.
// Files that don't follow the naming convention are ignored.
func ReadDir(dir string) ([]NodeLog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	logs := []NodeLog{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := NodeIDFromFile(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		records, err := readFile(path)
		if err != nil {
			return nil, err
		}
		logs = append(logs, NodeLog{NodeID: id, Path: path, Records: records})
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].NodeID < logs[j].NodeID })
	return logs, nil
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

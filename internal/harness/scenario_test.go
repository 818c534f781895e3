package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: ok
description: "minimal"
nodes: 2
steps:
  - { node: 0, action: send, targets: [0], label: A }
  - { node: 1, action: receive, label: B }
assertions:
  - { type: causal_order, labels: [A, B] }
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)
	assert.Equal(t, "ok", s.Name)
	assert.Equal(t, 2, s.Nodes)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, []int{0}, s.Steps[0].Targets)
	assert.Equal(t, []string{"A", "B"}, s.Assertions[0].Labels)
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nnodes: 1\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nnodes: 1\nsteps: [{node: 0, action: internal}]\nassertions: [{type: queue_empty}]\n",
			want: "name is required",
		},
		{
			name: "no nodes",
			yaml: "name: x\ndescription: d\nsteps: [{node: 0, action: internal}]\nassertions: [{type: queue_empty}]\n",
			want: "nodes must be at least 1",
		},
		{
			name: "node out of range",
			yaml: "name: x\ndescription: d\nnodes: 2\nsteps: [{node: 2, action: internal}]\nassertions: [{type: queue_empty}]\n",
			want: "node 2 out of range",
		},
		{
			name: "send without targets",
			yaml: "name: x\ndescription: d\nnodes: 2\nsteps: [{node: 0, action: send}]\nassertions: [{type: queue_empty}]\n",
			want: "send requires targets",
		},
		{
			name: "peer index out of range",
			yaml: "name: x\ndescription: d\nnodes: 2\nsteps: [{node: 0, action: send, targets: [1]}]\nassertions: [{type: queue_empty}]\n",
			want: "peer index 1 out of range",
		},
		{
			name: "unknown action",
			yaml: "name: x\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: jump}]\nassertions: [{type: queue_empty}]\n",
			want: `unknown action "jump"`,
		},
		{
			name: "duplicate label",
			yaml: "name: x\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: internal, label: A}, {node: 0, action: internal, label: A}]\nassertions: [{type: queue_empty}]\n",
			want: `duplicate label "A"`,
		},
		{
			name: "clock without equals",
			yaml: "name: x\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: internal}]\nassertions: [{type: clock, node: 0}]\n",
			want: "equals is required",
		},
		{
			name: "unknown label",
			yaml: "name: x\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: internal, label: A}]\nassertions: [{type: causal_order, labels: [A, Z]}]\n",
			want: `unknown label "Z"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: internal}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "path in name",
			yaml: "name: a/b\ndescription: d\nnodes: 1\nsteps: [{node: 0, action: internal}]\nassertions: [{type: queue_empty}]\n",
			want: "path separators",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

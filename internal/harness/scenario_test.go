package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one suggestion, budget one"
budget: 1
suggestions:
  - label: only
    params: {x: 1, rate: 0.5, tag: "a"}
assertions:
  - type: summary
    expect: {completed: 1}
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, 1, scenario.Budget)
	assert.Zero(t, scenario.Priming)
	require.Len(t, scenario.Suggestions, 1)
	assert.Equal(t, "only", scenario.Suggestions[0].Label)
	assert.Nil(t, scenario.SuggestErrorAfter)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_KeepsNumberKinds(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	ps, err := scenario.Suggestions[0].parameterSet()
	require.NoError(t, err)
	assert.Equal(t, `{"rate":0.5,"tag":"a","x":1}`, string(mustCanonical(t, ps)))
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	src := minimalScenario + "assertion: []\n"
	_, err := ParseScenario([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_ZeroSuggestErrorAfter(t *testing.T) {
	scenario, err := ParseScenario([]byte(minimalScenario + "suggest_error_after: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, scenario.SuggestErrorAfter)
	assert.Equal(t, 0, *scenario.SuggestErrorAfter)
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing name",
			src:  "description: d\nbudget: 1\nassertions: [{type: budget_bound}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			src:  "name: n\nbudget: 1\nassertions: [{type: budget_bound}]\n",
			want: "description is required",
		},
		{
			name: "zero budget",
			src:  "name: n\ndescription: d\nassertions: [{type: budget_bound}]\n",
			want: "budget must be >= 1",
		},
		{
			name: "negative priming",
			src:  "name: n\ndescription: d\nbudget: 1\npriming: -1\nassertions: [{type: budget_bound}]\n",
			want: "priming must be >= 0",
		},
		{
			name: "duplicate label",
			src: "name: n\ndescription: d\nbudget: 1\nsuggestions:\n" +
				"  - {label: a, params: {x: 1}}\n  - {label: a, params: {x: 2}}\n" +
				"assertions: [{type: budget_bound}]\n",
			want: `duplicate label "a"`,
		},
		{
			name: "empty params",
			src:  "name: n\ndescription: d\nbudget: 1\nsuggestions: [{label: a}]\nassertions: [{type: budget_bound}]\n",
			want: "params are required",
		},
		{
			name: "unknown completion label",
			src: "name: n\ndescription: d\nbudget: 1\nsuggestions: [{label: a, params: {x: 1}}]\n" +
				"completion_order: [b]\nassertions: [{type: budget_bound}]\n",
			want: `completion_order: unknown label "b"`,
		},
		{
			name: "unknown fail label",
			src: "name: n\ndescription: d\nbudget: 1\nsuggestions: [{label: a, params: {x: 1}}]\n" +
				"fail: [b]\nassertions: [{type: budget_bound}]\n",
			want: `fail: unknown label "b"`,
		},
		{
			name: "no assertions",
			src:  "name: n\ndescription: d\nbudget: 1\n",
			want: "assertions list is required",
		},
		{
			name: "unknown assertion",
			src:  "name: n\ndescription: d\nbudget: 1\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "unknown counter",
			src:  "name: n\ndescription: d\nbudget: 1\nassertions: [{type: summary, expect: {retries: 1}}]\n",
			want: `unknown counter "retries"`,
		},
		{
			name: "unknown state",
			src:  "name: n\ndescription: d\nbudget: 1\nassertions: [{type: state_order, states: [RUNNING]}]\n",
			want: `unknown state "RUNNING"`,
		},
		{
			name: "unknown event kind",
			src:  "name: n\ndescription: d\nbudget: 1\nassertions: [{type: event_count, kind: retry}]\n",
			want: `unknown event kind "retry"`,
		},
		{
			name: "unknown outcome",
			src:  "name: n\ndescription: d\nbudget: 1\nassertions: [{type: records, outcome: skipped}]\n",
			want: `unknown outcome "skipped"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_AllTestdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			_, err := LoadScenario(file)
			require.NoError(t, err)
		})
	}
}

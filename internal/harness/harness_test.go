package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

func mustCanonical(t *testing.T, ps ir.ParameterSet) []byte {
	t.Helper()
	b, err := ir.MarshalCanonical(ps.Object())
	require.NoError(t, err)
	return b
}

// TestScenarios runs every scenario file, checks its assertions and
// compares its trace against the golden file of the same name.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_SteadyStateRecords(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/steady_state.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	require.Len(t, result.Records, 10)
	first := result.Records[0]
	assert.Equal(t, ScenarioRunID, first.RunID)
	assert.Equal(t, "k2", first.SuggestionRef)
	assert.Equal(t, "[2]", first.Key)
	assert.Equal(t, 2.0, first.Metrics["score"])
	assert.Equal(t, ir.OutcomeSuccess, first.Outcome)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "assertions that do not hold"
priming: 1
budget: 2
suggestions:
  - {label: a, params: {x: 1}}
  - {label: b, params: {x: 2}}
assertions:
  - type: summary
    expect: {completed: 3}
  - type: event_order
    kind: complete
    labels: [b, a]
  - type: run_error
    code: SINK_FAILED
  - type: summary
    expect: {completed: 2}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "completed=2 (want 3)")
	assert.Contains(t, result.Errors[1], "complete events [a b]")
	assert.Contains(t, result.Errors[2], `error code "SINK_FAILED"`)
}

func TestRun_BudgetOfOne(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: budget_one
description: "budget smaller than the priming width"
priming: 3
budget: 1
suggestions:
  - {label: a, params: {x: 1}}
  - {label: b, params: {x: 2}}
assertions:
  - type: summary
    expect: {submitted: 1, completed: 1}
  - type: state_order
    states: [PRIMING, DRAINING, DONE]
  - type: budget_bound
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_ReportFailuresAreCounted(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: report_failures
description: "oracle report errors do not stop the run"
priming: 1
budget: 2
report_error: true
suggestions:
  - {label: a, params: {x: 1}}
  - {label: b, params: {x: 2}}
assertions:
  - type: summary
    expect: {completed: 2, report_failures: 2}
  - type: run_error
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRenderTrace_Ordering(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/duplicate_discarded.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(RenderTrace(result))), "\n")
	assert.Equal(t, "state PRIMING in_flight=0 completed=0", lines[0])
	assert.Equal(t, "discard a_again in_flight=1 completed=1", lines[5])
	assert.Equal(t, "final_push 1", lines[len(lines)-1])
}

package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidStudies(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json", "testdata/studies")
	require.NoError(t, err)

	resp, data := decode(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, data["valid"])

	studies := data["studies"].([]any)
	require.Len(t, studies, 1)
	s := studies[0].(map[string]any)
	assert.Equal(t, "tiny_grid", s["name"])
	assert.Equal(t, "grid", s["oracle"])
	assert.EqualValues(t, 4, s["params"])
}

func TestValidate_TextOutput(t *testing.T) {
	out, err := execute(t, "validate", "testdata/studies")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny_grid (table tiny_grid, objective quadratic, oracle grid, 4 params)")
}

func TestValidate_BrokenStudies(t *testing.T) {
	out, err := execute(t, "validate", "--format", "json", "../study/testdata/broken")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp, _ := decode(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)

	details := resp.Error.Details.(map[string]any)
	assert.Equal(t, false, details["valid"])
	codes := make(map[string]bool)
	for _, e := range details["errors"].([]any) {
		codes[e.(map[string]any)["code"].(string)] = true
	}
	assert.True(t, codes["E101"], "missing table reported")
	assert.True(t, codes["E105"], "unknown oracle reported")
}

func TestValidate_MissingDirectory(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E005]")
}

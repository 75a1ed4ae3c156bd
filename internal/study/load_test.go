package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

func TestLoad_Directory(t *testing.T) {
	result, errs := Load("testdata/xyz", LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Studies, 2)

	xyz, err := result.Find("xyz")
	require.NoError(t, err)
	assert.Equal(t, "XYZ_test", xyz.Table)
	assert.Equal(t, 60, xyz.Budget)
	assert.Equal(t, int64(1), xyz.Seed)

	grid, err := result.Find("xz_grid")
	require.NoError(t, err)
	assert.Equal(t, "grid", grid.Oracle)
	assert.Equal(t, []ir.IRValue{ir.IRInt(1), ir.IRInt(2)}, grid.Params[0].Values)

	_, err = result.Find("")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeAmbiguous, le.Code)

	_, err = result.Find("missing")
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	_, errs := Load("testdata/broken", LoadModeCollectAll)
	require.Len(t, errs, 2)

	codes := make(map[string]bool)
	for _, err := range errs {
		var le *LoadError
		require.ErrorAs(t, err, &le)
		codes[le.Code] = true
	}
	assert.True(t, codes[ErrCodeTable])
	assert.True(t, codes[ErrCodeOracle])
}

func TestLoad_FailFast(t *testing.T) {
	_, errs := Load("testdata/broken", LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, errs := Load("testdata/does-not-exist", LoadModeFailFast)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, errs := Load(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoadString_SingleStudy(t *testing.T) {
	result, errs := LoadString(`
		study: only: {
			table: "T"
			objective: "sleep"
			metric: name: "elapsed_ms"
			params: ms: {type: "int", min: 1, max: 3}
		}
	`, LoadModeFailFast)
	require.Empty(t, errs)

	spec, err := result.Find("")
	require.NoError(t, err)
	assert.Equal(t, "only", spec.Name)
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/engine"
	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/store"
)

func TestRun_MissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, "run", "testdata/studies")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestRun_GridStudyJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	out, err := execute(t, "run", "--db", db, "--workers", "2", "--format", "json", "testdata/studies")
	require.NoError(t, err)

	resp, data := decode(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "tiny_grid", data["study"])
	assert.EqualValues(t, 10, data["budget"])
	assert.EqualValues(t, 2, data["priming"])
	assert.EqualValues(t, 4, data["submitted"])
	assert.EqualValues(t, 4, data["completed"])
	assert.EqualValues(t, 0, data["failed"])

	best, ok := data["best"].(map[string]any)
	require.True(t, ok, "best trial reported")
	assert.Equal(t, "objective", best["metric"])
	assert.InDelta(t, 100.75, best["value"], 1e-9)
}

func TestRun_PersistsRunAndResults(t *testing.T) {
	db := runTiny(t, string(store.KindSQLite))

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.ReadResults(context.Background(), "tiny_grid", store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for _, rec := range recs {
		assert.Equal(t, ir.OutcomeSuccess, rec.Outcome)
		assert.Equal(t, "tiny_grid", rec.Table)
		assert.Equal(t, recs[0].RunID, rec.RunID)
	}

	runs, err := st.ReadRuns(context.Background(), "tiny_grid")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recs[0].RunID, runs[0].ID)
	assert.Equal(t, "quadratic", runs[0].Objective)
	assert.Equal(t, ir.EngineVersion, runs[0].Version)
}

func TestRun_FlagsOverrideStudy(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	out, err := execute(t, "run", "--db", db, "--budget", "3", "--priming", "1", "--format", "json", "testdata/studies")
	require.NoError(t, err)

	_, data := decode(t, out)
	assert.EqualValues(t, 3, data["budget"])
	assert.EqualValues(t, 1, data["priming"])
	assert.EqualValues(t, 3, data["completed"])
	assert.EqualValues(t, 1, data["max_in_flight"])
}

func TestRun_BadgerBackend(t *testing.T) {
	db := runTiny(t, string(store.KindBadger))

	out, err := execute(t, "results", "--db", db, "--backend", "badger", "--table", "tiny_grid", "--format", "json")
	require.NoError(t, err)
	_, data := decode(t, out)
	assert.Len(t, data["records"], 4)
}

func TestRun_TextOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	out, err := execute(t, "run", "--db", db, "testdata/studies")
	require.NoError(t, err)

	assert.Contains(t, out, "finished")
	assert.Contains(t, out, "tiny_grid")
	assert.Contains(t, out, "objective=100.75")
}

func TestRun_BroadcastDataset(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	_, err := execute(t, "run", "--db", db, "--dataset", "iris=testdata/datasets/iris.yaml", "--format", "json", "testdata/probe")
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.ReadResults(context.Background(), "probe_runs", store.Filter{
		Params: map[string]ir.IRValue{"dataset": ir.IRString("iris")},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3.0, recs[0].Metrics["rows"])
	assert.Equal(t, ir.IRBool(true), recs[0].Observables["transfer_succeeded"])

	missing, err := st.ReadResults(context.Background(), "probe_runs", store.Filter{
		Params: map[string]ir.IRValue{"dataset": ir.IRString("missing")},
	})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, ir.IRBool(false), missing[0].Observables["transfer_succeeded"])
}

func TestRun_DatasetDir(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	out, err := execute(t, "run", "--db", db, "--dataset-dir", "testdata/datasets", "--format", "json", "testdata/probe")
	require.NoError(t, err)

	_, data := decode(t, out)
	best := data["best"].(map[string]any)
	assert.InDelta(t, 3.0, best["value"], 1e-9)
}

func TestRun_BadDatasetFlag(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	_, err := execute(t, "run", "--db", db, "--dataset", "iris", "testdata/probe")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "want name=path")
}

func TestRun_UnknownStudy(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	_, err := execute(t, "run", "--db", db, "--study", "nope", "testdata/studies")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `study "nope" not found`)
}

func TestRun_InvalidStudyDir(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	_, err := execute(t, "run", "--db", db, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_, statErr := os.Stat(db)
	assert.True(t, os.IsNotExist(statErr), "no database created for a bad study")
}

func TestRun_RateLimitedWithFixedRunID(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sweep.db")
	reg := prometheus.NewRegistry()
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json", LogFormat: "text"},
		RunIDGen:    engine.NewFixedGenerator("run-fixed"),
		Registry:    reg,
	}

	out := &bytes.Buffer{}
	cmd := newRunCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--suggest-rate", "1000", "testdata/studies"})
	require.NoError(t, cmd.Execute())

	resp, data := decode(t, out.String())
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-fixed", data["run_id"])
	assert.Equal(t, "run-fixed", resp.RunID, "envelope carries the run ID")

	assert.Equal(t, 4.0, counterValue(t, reg, "sweep_submitted_total"))
	assert.Equal(t, 0.0, counterValue(t, reg, "sweep_discarded_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.NotEmpty(t, mf.GetMetric())
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

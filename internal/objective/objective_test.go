package objective

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/dataset"
	"github.com/roach88/sweep/internal/ir"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"quadratic", "probe", "sleep"} {
		fn, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, fn)
	}

	_, err := Lookup("rosenbrock")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe")
	assert.Equal(t, []string{"probe", "quadratic", "sleep"}, Names())
}

func TestQuadratic(t *testing.T) {
	res, err := Quadratic(context.Background(), Env{Params: ir.ParameterSet{
		"w": ir.IRFloat(2),
		"x": ir.IRInt(-1),
		"y": ir.IRFloat(0.5),
		"z": ir.IRString("a"),
	}})
	require.NoError(t, err)
	// 4 - 0.25 + (-1 * 97)
	assert.InDelta(t, -93.25, res.Metrics["objective"], 1e-9)
}

func TestQuadratic_BadParams(t *testing.T) {
	ctx := context.Background()
	_, err := Quadratic(ctx, Env{Params: ir.ParameterSet{"w": ir.IRFloat(1)}})
	assert.Error(t, err)

	_, err = Quadratic(ctx, Env{Params: ir.ParameterSet{
		"w": ir.IRFloat(1), "x": ir.IRInt(1), "y": ir.IRFloat(1), "z": ir.IRString(""),
	}})
	assert.Error(t, err)

	_, err = Quadratic(ctx, Env{Params: ir.ParameterSet{
		"w": ir.IRString("1"), "x": ir.IRInt(1), "y": ir.IRFloat(1), "z": ir.IRString("a"),
	}})
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	cache := dataset.NewCache()
	require.NoError(t, cache.Publish(&dataset.Dataset{
		Name:    "ref",
		Columns: []string{"a", "b"},
		Rows:    [][]ir.IRValue{{ir.IRInt(1), ir.IRInt(2)}, {ir.IRInt(3), ir.IRInt(4)}},
	}))
	ctx := context.Background()

	res, err := Probe(ctx, Env{Params: ir.ParameterSet{"dataset": ir.IRString("ref")}, Datasets: cache})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Metrics["rows"])
	assert.Equal(t, ir.IRBool(true), res.Observables["transfer_succeeded"])
	assert.Equal(t, ir.IRInt(2), res.Observables["columns"])

	res, err = Probe(ctx, Env{Params: ir.ParameterSet{"dataset": ir.IRString("missing")}, Datasets: cache})
	require.NoError(t, err)
	assert.Equal(t, ir.IRBool(false), res.Observables["transfer_succeeded"])

	res, err = Probe(ctx, Env{Params: ir.ParameterSet{"dataset": ir.IRString("ref")}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["rows"], "no datasets attached")
}

func TestSleep(t *testing.T) {
	res, err := Sleep(context.Background(), Env{Params: ir.ParameterSet{"ms": ir.IRInt(20)}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Metrics["elapsed_ms"], 20.0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Sleep(ctx, Env{Params: ir.ParameterSet{"ms": ir.IRInt(5000)}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = Sleep(context.Background(), Env{Params: ir.ParameterSet{"ms": ir.IRInt(-1)}})
	assert.Error(t, err)
}

package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

var score = ir.MetricSpec{Name: "score", Goal: ir.GoalMaximize}

func xyzSpace() []ir.ParamSpec {
	return []ir.ParamSpec{
		{Name: "w", Type: ir.ParamFloat, Min: 0, Max: 5},
		{Name: "x", Type: ir.ParamInt, Min: -2, Max: 2},
		{Name: "y", Type: ir.ParamDiscrete, Values: []ir.IRValue{ir.IRFloat(0.3), ir.IRFloat(7.2)}},
		{Name: "z", Type: ir.ParamCategorical, Values: []ir.IRValue{ir.IRString("a"), ir.IRString("g"), ir.IRString("k")}},
	}
}

func TestValidateSpace(t *testing.T) {
	require.NoError(t, ValidateSpace(xyzSpace()))

	tests := []struct {
		name   string
		params []ir.ParamSpec
	}{
		{"empty", nil},
		{"unnamed", []ir.ParamSpec{{Type: ir.ParamInt, Min: 0, Max: 1}}},
		{"duplicate", []ir.ParamSpec{{Name: "a", Type: ir.ParamInt}, {Name: "a", Type: ir.ParamInt}}},
		{"unknown type", []ir.ParamSpec{{Name: "a", Type: "complex"}}},
		{"empty float range", []ir.ParamSpec{{Name: "a", Type: ir.ParamFloat, Min: 1, Max: 1}}},
		{"fractional int", []ir.ParamSpec{{Name: "a", Type: ir.ParamInt, Min: 0.5, Max: 2}}},
		{"inverted int", []ir.ParamSpec{{Name: "a", Type: ir.ParamInt, Min: 3, Max: 2}}},
		{"no discrete values", []ir.ParamSpec{{Name: "a", Type: ir.ParamDiscrete}}},
		{"non-numeric discrete", []ir.ParamSpec{{Name: "a", Type: ir.ParamDiscrete, Values: []ir.IRValue{ir.IRString("x")}}}},
		{"no categories", []ir.ParamSpec{{Name: "a", Type: ir.ParamCategorical}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateSpace(tt.params))
		})
	}
}

func TestGrid_EnumeratesProductLastFastest(t *testing.T) {
	g, err := NewGrid([]ir.ParamSpec{
		{Name: "a", Type: ir.ParamInt, Min: 1, Max: 2},
		{Name: "b", Type: ir.ParamCategorical, Values: []ir.IRValue{ir.IRString("x"), ir.IRString("y"), ir.IRString("z")}},
	}, score)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Size())

	ctx := context.Background()
	first, err := g.Suggest(ctx, 4)
	require.NoError(t, err)
	rest, err := g.Suggest(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, first, 4)
	assert.Len(t, rest, 2, "short batch at the end of the grid")

	var got []string
	for _, s := range append(first, rest...) {
		a, _ := s.Params.Float("a")
		b, _ := s.Params.Text("b")
		got = append(got, b+string(rune('0'+int(a))))
	}
	assert.Equal(t, []string{"x1", "y1", "z1", "x2", "y2", "z2"}, got)

	empty, err := g.Suggest(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, empty, "an exhausted grid returns an empty batch")
}

func TestGrid_RejectsFloatRanges(t *testing.T) {
	_, err := NewGrid(xyzSpace(), score)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be enumerated")
}

func TestGrid_RefsAreUnique(t *testing.T) {
	g, err := NewGrid([]ir.ParamSpec{{Name: "n", Type: ir.ParamInt, Min: 0, Max: 9}}, score)
	require.NoError(t, err)

	batch, err := g.Suggest(context.Background(), 10)
	require.NoError(t, err)
	refs := make(map[string]bool)
	for _, s := range batch {
		refs[s.Ref] = true
	}
	assert.Len(t, refs, 10)
}

func TestRandom_StaysInsideSpace(t *testing.T) {
	r, err := NewRandom(xyzSpace(), score, 7)
	require.NoError(t, err)

	batch, err := r.Suggest(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, batch, 200)

	for _, s := range batch {
		w, ok := s.Params["w"].(ir.IRFloat)
		require.True(t, ok)
		assert.GreaterOrEqual(t, float64(w), 0.0)
		assert.Less(t, float64(w), 5.0)

		x, ok := s.Params["x"].(ir.IRInt)
		require.True(t, ok)
		assert.GreaterOrEqual(t, int64(x), int64(-2))
		assert.LessOrEqual(t, int64(x), int64(2))

		assert.Contains(t, []ir.IRValue{ir.IRFloat(0.3), ir.IRFloat(7.2)}, s.Params["y"])
		assert.Contains(t, []ir.IRValue{ir.IRString("a"), ir.IRString("g"), ir.IRString("k")}, s.Params["z"])
	}
}

func TestRandom_SeedIsDeterministic(t *testing.T) {
	draw := func(seed int64) []ir.Suggestion {
		r, err := NewRandom(xyzSpace(), score, seed)
		require.NoError(t, err)
		batch, err := r.Suggest(context.Background(), 5)
		require.NoError(t, err)
		return batch
	}
	assert.Equal(t, draw(1), draw(1))
	assert.NotEqual(t, draw(1), draw(2))
}

func TestRandom_Limit(t *testing.T) {
	r, err := NewRandom(xyzSpace(), score, 1, WithLimit(3))
	require.NoError(t, err)
	ctx := context.Background()

	a, err := r.Suggest(ctx, 2)
	require.NoError(t, err)
	b, err := r.Suggest(ctx, 2)
	require.NoError(t, err)
	c, err := r.Suggest(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, a, 2)
	assert.Len(t, b, 1)
	assert.Empty(t, c)
}

func TestBook_ReportAndBest(t *testing.T) {
	g, err := NewGrid([]ir.ParamSpec{{Name: "n", Type: ir.ParamInt, Min: 0, Max: 3}}, score)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = g.Best()
	assert.ErrorIs(t, err, ErrNoTrials)

	batch, err := g.Suggest(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, g.Report(ctx, batch[0].Ref, ir.Measurement{Metrics: map[string]float64{"score": 1}}))
	require.NoError(t, g.Report(ctx, batch[1].Ref, ir.Measurement{Metrics: map[string]float64{"score": 5}}))
	require.NoError(t, g.Report(ctx, batch[2].Ref, ir.Measurement{Failed: true, Reason: "boom"}))
	require.NoError(t, g.Report(ctx, batch[3].Ref, ir.Measurement{Metrics: map[string]float64{"score": 5}}))

	best, err := g.Best()
	require.NoError(t, err)
	assert.Equal(t, batch[1].Ref, best.Ref, "ties go to the earlier trial")
	assert.Equal(t, ir.IRInt(1), best.Params["n"])

	assert.ErrorIs(t, g.Report(ctx, batch[0].Ref, ir.Measurement{}), ErrAlreadyReported)
	assert.ErrorIs(t, g.Report(ctx, "trial-99", ir.Measurement{}), ErrUnknownSuggestion)

	trials := g.Trials()
	require.Len(t, trials, 4)
	assert.True(t, trials[2].Measurement.Failed)
}

func TestBook_Minimize(t *testing.T) {
	b := NewBook(ir.MetricSpec{Name: "loss", Goal: ir.GoalMinimize})
	ctx := context.Background()
	s1 := b.issue(ir.ParameterSet{"n": ir.IRInt(1)})
	s2 := b.issue(ir.ParameterSet{"n": ir.IRInt(2)})
	require.NoError(t, b.Report(ctx, s1.Ref, ir.Measurement{Metrics: map[string]float64{"loss": 0.5}}))
	require.NoError(t, b.Report(ctx, s2.Ref, ir.Measurement{Metrics: map[string]float64{"loss": 0.1}}))

	best, err := b.Best()
	require.NoError(t, err)
	assert.Equal(t, s2.Ref, best.Ref)
}

func TestBook_IssuedParamsAreCopied(t *testing.T) {
	b := NewBook(score)
	params := ir.ParameterSet{"n": ir.IRInt(1)}
	s := b.issue(params)
	params["n"] = ir.IRInt(2)

	assert.Equal(t, ir.IRInt(1), b.Trials()[0].Params["n"])
	assert.Equal(t, s.Ref, b.Trials()[0].Ref)
}

func TestRateLimited(t *testing.T) {
	inner, err := NewRandom(xyzSpace(), score, 1)
	require.NoError(t, err)

	_, err = NewRateLimited(inner, 0)
	assert.Error(t, err)

	rl, err := NewRateLimited(inner, 20)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()
	for range 3 {
		batch, err := rl.Suggest(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
	}
	// Burst of one: the second and third calls wait about 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Len(t, rl.Trials(), 3)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = rl.Suggest(canceled, 1)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	spec := &ir.StudySpec{Oracle: "grid", Params: []ir.ParamSpec{{Name: "n", Type: ir.ParamInt, Min: 0, Max: 1}}, Metric: score}
	tr, err := New(spec)
	require.NoError(t, err)
	assert.IsType(t, &Grid{}, tr)

	spec.Oracle = "random"
	tr, err = New(spec)
	require.NoError(t, err)
	assert.IsType(t, &Random{}, tr)

	spec.Oracle = "bayes"
	_, err = New(spec)
	assert.Error(t, err)
}

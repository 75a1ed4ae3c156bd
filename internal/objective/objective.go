// Package objective holds the named evaluation callables a study can
// refer to by its objective field.
package objective

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/roach88/sweep/internal/dataset"
	"github.com/roach88/sweep/internal/ir"
	"github.com/roach88/sweep/internal/pool"
)

var builtins = map[string]pool.EvalFunc{
	"quadratic": Quadratic,
	"probe":     Probe,
	"sleep":     Sleep,
}

// Lookup returns the objective called name.
func Lookup(name string) (pool.EvalFunc, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (available: %v)", name, Names())
	}
	return fn, nil
}

// Names lists the available objectives, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Quadratic computes w² − y² + x·ord(z), where ord(z) is the code point
// of the first character of z. Reported as metric "objective".
func Quadratic(_ context.Context, env Env) (ir.Result, error) {
	w, err := env.Params.Float("w")
	if err != nil {
		return ir.Result{}, err
	}
	x, err := env.Params.Float("x")
	if err != nil {
		return ir.Result{}, err
	}
	y, err := env.Params.Float("y")
	if err != nil {
		return ir.Result{}, err
	}
	z, err := env.Params.Text("z")
	if err != nil {
		return ir.Result{}, err
	}
	r, _ := utf8.DecodeRuneInString(z)
	if r == utf8.RuneError {
		return ir.Result{}, fmt.Errorf("parameter \"z\" must be a non-empty string")
	}

	return ir.Result{
		Metrics: map[string]float64{"objective": w*w - y*y + x*float64(r)},
	}, nil
}

// Probe checks that the dataset named by parameter "dataset" reached the
// task. It reports the row count as metric "rows" and whether the
// dataset was available as observable "transfer_succeeded".
func Probe(_ context.Context, env Env) (ir.Result, error) {
	name, err := env.Params.Text("dataset")
	if err != nil {
		return ir.Result{}, err
	}
	if env.Datasets == nil {
		return probeResult(nil), nil
	}

	ds, err := env.Datasets.Get(name)
	if errors.Is(err, dataset.ErrNotFound) {
		return probeResult(nil), nil
	}
	if err != nil {
		return ir.Result{}, fmt.Errorf("probe dataset %s: %w", name, err)
	}
	return probeResult(ds), nil
}

func probeResult(ds *dataset.Dataset) ir.Result {
	if ds == nil {
		return ir.Result{
			Metrics:     map[string]float64{"rows": 0},
			Observables: ir.IRObject{"transfer_succeeded": ir.IRBool(false)},
		}
	}
	return ir.Result{
		Metrics: map[string]float64{"rows": float64(len(ds.Rows))},
		Observables: ir.IRObject{
			"transfer_succeeded": ir.IRBool(true),
			"columns":            ir.IRInt(int64(len(ds.Columns))),
		},
	}
}

// Sleep waits "ms" milliseconds and reports the measured wait as metric
// "elapsed_ms". It returns early with an error if ctx ends.
func Sleep(ctx context.Context, env Env) (ir.Result, error) {
	ms, err := env.Params.Float("ms")
	if err != nil {
		return ir.Result{}, err
	}
	if ms < 0 {
		return ir.Result{}, fmt.Errorf("parameter \"ms\" must not be negative, got %v", ms)
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ir.Result{}, ctx.Err()
	case <-timer.C:
	}
	return ir.Result{
		Metrics: map[string]float64{"elapsed_ms": float64(time.Since(start).Microseconds()) / 1000},
	}, nil
}

// Env is the task environment objectives receive.
type Env = pool.Env

package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/sweep/internal/ir"
)

// Grid proposes every combination of the space's values once, varying
// the last declared parameter fastest.
type Grid struct {
	*Book

	mu     sync.Mutex
	names  []string
	values [][]ir.IRValue
	index  []int
	done   bool
}

// NewGrid creates a grid oracle over params. Float ranges are rejected.
func NewGrid(params []ir.ParamSpec, metric ir.MetricSpec) (*Grid, error) {
	if err := ValidateSpace(params); err != nil {
		return nil, fmt.Errorf("new grid: %w", err)
	}

	g := &Grid{Book: NewBook(metric), index: make([]int, len(params))}
	for _, p := range params {
		vals, err := gridValues(p)
		if err != nil {
			return nil, fmt.Errorf("new grid: %w", err)
		}
		g.names = append(g.names, p.Name)
		g.values = append(g.values, vals)
	}
	return g, nil
}

// Size returns the number of grid points.
func (g *Grid) Size() int {
	n := 1
	for _, vals := range g.values {
		n *= len(vals)
	}
	return n
}

// Suggest returns the next count grid points, fewer at the end of the
// grid, and an empty batch once every point has been issued.
func (g *Grid) Suggest(ctx context.Context, count int) ([]ir.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []ir.Suggestion
	for len(out) < count && !g.done {
		params := make(ir.ParameterSet, len(g.names))
		for i, name := range g.names {
			params[name] = g.values[i][g.index[i]]
		}
		out = append(out, g.issue(params))
		g.advance()
	}
	return out, nil
}

// advance steps the odometer; the last dimension turns fastest.
func (g *Grid) advance() {
	for i := len(g.index) - 1; i >= 0; i-- {
		g.index[i]++
		if g.index[i] < len(g.values[i]) {
			return
		}
		g.index[i] = 0
	}
	g.done = true
}

// Package dataset holds read-only reference data shared with every
// evaluation task.
//
// A Cache is published to once and read many times. Reads hand out deep
// copies, so a task that mutates its copy cannot corrupt the input of
// another task.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/roach88/sweep/internal/ir"
)

// ErrNotFound is returned when no dataset is published under a name.
var ErrNotFound = errors.New("dataset not found")

// Dataset is a named table of values.
type Dataset struct {
	Name    string
	Columns []string
	Rows    [][]ir.IRValue
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{
		Name:    d.Name,
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([][]ir.IRValue, len(d.Rows)),
	}
	for i, row := range d.Rows {
		cp := make([]ir.IRValue, len(row))
		for j, v := range row {
			cp[j] = ir.Clone(v)
		}
		out.Rows[i] = cp
	}
	return out
}

// Column returns the index of a named column.
func (d *Dataset) Column(name string) (int, bool) {
	for i, c := range d.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Loader fetches a dataset that has not been published yet.
type Loader func(ctx context.Context, name string) (*Dataset, error)

// Cache is an explicit name-to-dataset cache. It is safe for concurrent
// use by the coordinator and all pool workers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Dataset
	flight  singleflight.Group
	loader  Loader
}

// Option configures a Cache.
type Option func(*Cache)

// WithLoader sets the loader consulted by GetOrLoad on a miss.
func WithLoader(l Loader) Option {
	return func(c *Cache) {
		c.loader = l
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]*Dataset)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish stores a copy of ds under ds.Name, replacing any earlier
// dataset of the same name.
func (c *Cache) Publish(ds *Dataset) error {
	if ds == nil || ds.Name == "" {
		return fmt.Errorf("publish dataset: name is required")
	}
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return fmt.Errorf("publish dataset %q: row %d has %d values, want %d",
				ds.Name, i, len(row), len(ds.Columns))
		}
	}

	c.mu.Lock()
	c.entries[ds.Name] = ds.Clone()
	c.mu.Unlock()

	slog.Debug("dataset published", "name", ds.Name, "rows", len(ds.Rows))
	return nil
}

// Get returns a private copy of the named dataset.
func (c *Cache) Get(name string) (*Dataset, error) {
	c.mu.RLock()
	ds, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ds.Clone(), nil
}

// GetOrLoad returns a private copy of the named dataset, loading it on a
// miss. Concurrent misses for the same name share one load.
func (c *Cache) GetOrLoad(ctx context.Context, name string) (*Dataset, error) {
	if ds, err := c.Get(name); err == nil {
		return ds, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	v, err, _ := c.flight.Do(name, func() (any, error) {
		ds, err := c.loader(ctx, name)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			return nil, fmt.Errorf("%w: loader returned no dataset for %s", ErrNotFound, name)
		}
		ds.Name = name
		if err := c.Publish(ds); err != nil {
			return nil, err
		}
		return ds, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", name, err)
	}
	return v.(*Dataset).Clone(), nil
}

// Names returns the published dataset names in canonical order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	return ir.SortNames(names)
}

// fileFormat is the on-disk shape of a dataset. JSON files parse too,
// since JSON is a subset of YAML.
type fileFormat struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

// ReadFile parses a YAML or JSON dataset file. The dataset name defaults
// to the file's base name without extension.
func ReadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dataset file %s: %w", path, err)
	}

	ds := &Dataset{Name: f.Name, Columns: f.Columns, Rows: make([][]ir.IRValue, len(f.Rows))}
	if ds.Name == "" {
		base := filepath.Base(path)
		ds.Name = base[:len(base)-len(filepath.Ext(base))]
	}
	for i, row := range f.Rows {
		vals := make([]ir.IRValue, len(row))
		for j, cell := range row {
			v, err := ir.FromAny(cell)
			if err != nil {
				return nil, fmt.Errorf("dataset %s row %d col %d: %w", ds.Name, i, j, err)
			}
			vals[j] = v
		}
		ds.Rows[i] = vals
	}
	return ds, nil
}

// DirLoader returns a Loader that reads <dir>/<name>.yaml, .yml or .json.
func DirLoader(dir string) Loader {
	return func(_ context.Context, name string) (*Dataset, error) {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return ReadFile(path)
			}
		}
		return nil, fmt.Errorf("%w: no file for %s in %s", ErrNotFound, name, dir)
	}
}

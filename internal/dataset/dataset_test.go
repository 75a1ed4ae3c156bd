package dataset

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

func sample() *Dataset {
	return &Dataset{
		Name:    "census",
		Columns: []string{"city", "pop"},
		Rows: [][]ir.IRValue{
			{ir.IRString("a"), ir.IRInt(10)},
			{ir.IRString("b"), ir.IRInt(20)},
		},
	}
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Publish(sample()))

	first, err := c.Get("census")
	require.NoError(t, err)
	first.Rows[0][1] = ir.IRInt(999)
	first.Columns[0] = "mutated"

	second, err := c.Get("census")
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(10), second.Rows[0][1], "mutation must not leak between readers")
	assert.Equal(t, "city", second.Columns[0])
}

func TestCache_PublishCopiesInput(t *testing.T) {
	c := NewCache()
	ds := sample()
	require.NoError(t, c.Publish(ds))

	ds.Rows[1][0] = ir.IRString("changed")

	got, err := c.Get("census")
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("b"), got.Rows[1][0])
}

func TestCache_PublishValidates(t *testing.T) {
	c := NewCache()
	assert.Error(t, c.Publish(&Dataset{}))
	assert.Error(t, c.Publish(&Dataset{
		Name:    "bad",
		Columns: []string{"a", "b"},
		Rows:    [][]ir.IRValue{{ir.IRInt(1)}},
	}))
}

func TestCache_GetMissing(t *testing.T) {
	_, err := NewCache().Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_GetOrLoadSharesOneLoad(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewCache(WithLoader(func(ctx context.Context, name string) (*Dataset, error) {
		calls.Add(1)
		<-release
		return sample(), nil
	}))

	var wg sync.WaitGroup
	results := make([]*Dataset, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, err := c.GetOrLoad(context.Background(), "census")
			assert.NoError(t, err)
			results[i] = ds
		}(i)
	}
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	for _, ds := range results {
		require.NotNil(t, ds)
		assert.Len(t, ds.Rows, 2)
	}

	// Subsequent reads are served from the cache.
	before := calls.Load()
	_, err := c.GetOrLoad(context.Background(), "census")
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
	assert.Equal(t, []string{"census"}, c.Names())
}

func TestCache_GetOrLoadNilDataset(t *testing.T) {
	c := NewCache(WithLoader(func(context.Context, string) (*Dataset, error) {
		return nil, nil
	}))

	ds, err := c.GetOrLoad(context.Background(), "census")
	require.Error(t, err)
	assert.Nil(t, ds)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, c.Names(), "nothing is published")
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.yaml")
	content := `
columns: [x, label, weight]
rows:
  - [1, "a", 0.5]
  - [2, "b", 1.0]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	ds, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "points", ds.Name)
	assert.Equal(t, []string{"x", "label", "weight"}, ds.Columns)
	assert.Equal(t, []ir.IRValue{ir.IRInt(2), ir.IRString("b"), ir.IRFloat(1)}, ds.Rows[1])

	idx, ok := ds.Column("label")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.json"),
		[]byte(`{"columns": ["v"], "rows": [[1], [2], [3]]}`), 0644))

	c := NewCache(WithLoader(DirLoader(dir)))
	ds, err := c.GetOrLoad(context.Background(), "small")
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 3)

	_, err = c.GetOrLoad(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

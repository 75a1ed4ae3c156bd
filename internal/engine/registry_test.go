package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/pool"
)

func TestRegistry_AddLookupRetire(t *testing.T) {
	r := NewRegistry()
	pw := &PendingWork{Key: "k0", Handle: pool.Handle{ID: 1}, Seq: 1}
	require.NoError(t, r.Add(pw))

	assert.True(t, r.Has("k0"))
	got, ok := r.Lookup("k0")
	require.True(t, ok)
	assert.Same(t, pw, got)
	assert.Equal(t, 1, r.Len())

	retired, ok := r.Retire("k0")
	require.True(t, ok)
	assert.Same(t, pw, retired)
	assert.False(t, r.Has("k0"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RejectsDuplicateKey(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&PendingWork{Key: "k0", Handle: pool.Handle{ID: 1}}))

	err := r.Add(&PendingWork{Key: "k0", Handle: pool.Handle{ID: 2}})
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, CorrelationKey("k0"), dup.Key)

	pw, _ := r.Lookup("k0")
	assert.Equal(t, uint64(1), pw.Handle.ID, "original entry is kept")
}

func TestRegistry_RetireIsExactlyOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&PendingWork{Key: "k0"}))

	_, ok := r.Retire("k0")
	assert.True(t, ok)
	_, ok = r.Retire("k0")
	assert.False(t, ok)
	_, ok = r.Retire("never-added")
	assert.False(t, ok)
}

func TestRegistry_KeyCanBeReusedAfterRetire(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&PendingWork{Key: "k0", Seq: 1}))
	r.Retire("k0")
	assert.NoError(t, r.Add(&PendingWork{Key: "k0", Seq: 2}))
}

func TestRegistry_KeysInSubmissionOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&PendingWork{Key: "c", Seq: 3}))
	require.NoError(t, r.Add(&PendingWork{Key: "a", Seq: 1}))
	require.NoError(t, r.Add(&PendingWork{Key: "b", Seq: 2}))

	assert.Equal(t, []CorrelationKey{"a", "b", "c"}, r.Keys())
}

package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sweep/internal/ir"
)

func params(w, x, y float64, z string) ir.ParameterSet {
	return ir.ParameterSet{
		"w": ir.IRFloat(w),
		"x": ir.IRFloat(x),
		"y": ir.IRFloat(y),
		"z": ir.IRString(z),
	}
}

func TestKeyer_DeriveOrdersBySchema(t *testing.T) {
	k := NewKeyer()
	key, err := k.Derive(ir.ParameterSet{
		"z": ir.IRString("g"),
		"y": ir.IRFloat(0.3),
		"x": ir.IRInt(-1),
		"w": ir.IRFloat(2.5),
	})
	require.NoError(t, err)
	assert.Equal(t, CorrelationKey(`[2.5,-1,0.3,"g"]`), key)
	assert.Equal(t, []string{"w", "x", "y", "z"}, k.Schema())
}

func TestKeyer_EqualValuesGiveEqualKeys(t *testing.T) {
	k := NewKeyer()
	a, err := k.Derive(params(1.5, 2, 3, "a"))
	require.NoError(t, err)
	b, err := k.Derive(params(1.5, 2, 3, "a"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestKeyer_DistinctValuesGiveDistinctKeys(t *testing.T) {
	k := NewKeyer()
	seen := make(map[CorrelationKey]ir.ParameterSet)
	for _, p := range []ir.ParameterSet{
		params(0, 0, 0, "a"),
		params(0, 0, 0, "b"),
		params(0, 0, 1, "a"),
		params(0, 1, 0, "a"),
		params(1, 0, 0, "a"),
		params(0.1, 0, 0, "a"),
		params(0, 0, 0, "a,0"),
		params(0, 0, 0, `a"`),
	} {
		key, err := k.Derive(p)
		require.NoError(t, err)
		if prev, dup := seen[key]; dup {
			t.Fatalf("key %s shared by %v and %v", key, prev, p)
		}
		seen[key] = p
	}
}

func TestKeyer_IntAndFloatAreDistinct(t *testing.T) {
	k := NewKeyer()
	i, err := k.Derive(ir.ParameterSet{"n": ir.IRInt(1)})
	require.NoError(t, err)
	f, err := k.Derive(ir.ParameterSet{"n": ir.IRFloat(1)})
	require.NoError(t, err)
	assert.NotEqual(t, i, f)
}

func TestKeyer_NegativeZeroFoldsToZero(t *testing.T) {
	k := NewKeyer()
	a, err := k.Derive(ir.ParameterSet{"n": ir.IRFloat(math.Copysign(0, -1))})
	require.NoError(t, err)
	b, err := k.Derive(ir.ParameterSet{"n": ir.IRFloat(0)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKeyer_UnicodeNormalization(t *testing.T) {
	k := NewKeyer()
	composed, err := k.Derive(ir.ParameterSet{"s": ir.IRString("café")})
	require.NoError(t, err)
	decomposed, err := k.Derive(ir.ParameterSet{"s": ir.IRString("cafe\u0301")})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestKeyer_SchemaMismatch(t *testing.T) {
	k := NewKeyer()
	_, err := k.Derive(params(1, 2, 3, "a"))
	require.NoError(t, err)

	_, err = k.Derive(ir.ParameterSet{"w": ir.IRFloat(1), "x": ir.IRFloat(2)})
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"w", "x", "y", "z"}, mismatch.Expected)
	assert.Equal(t, []string{"w", "x"}, mismatch.Got)

	_, err = k.Derive(ir.ParameterSet{"w": ir.IRFloat(1), "x": ir.IRFloat(2), "y": ir.IRFloat(3), "q": ir.IRString("a")})
	assert.ErrorAs(t, err, &mismatch)
}

func TestKeyer_RejectsEmptyAndNonFinite(t *testing.T) {
	k := NewKeyer()
	_, err := k.Derive(ir.ParameterSet{})
	assert.Error(t, err)
	assert.Nil(t, k.Schema(), "a failed derive must not capture a schema")

	_, err = k.Derive(ir.ParameterSet{"n": ir.IRFloat(math.NaN())})
	assert.Error(t, err)
	_, err = k.Derive(ir.ParameterSet{"n": ir.IRFloat(math.Inf(1))})
	assert.Error(t, err)
}

func TestKeyer_SchemaIsCopied(t *testing.T) {
	k := NewKeyer()
	_, err := k.Derive(params(1, 2, 3, "a"))
	require.NoError(t, err)

	s := k.Schema()
	s[0] = "mutated"
	assert.Equal(t, "w", k.Schema()[0])
}

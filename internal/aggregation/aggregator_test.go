package aggregation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{TypeCount, TypeHLL, TypeSet}, r.Types())

	_, err := r.New("median", Settings{})
	assert.ErrorIs(t, err, ErrUnknownAggregator)

	assert.Panics(t, func() { r.Register(TypeCount, newCount) })
}

func TestAggregators_SetSemantics(t *testing.T) {
	for _, typ := range []string{TypeCount, TypeSet, TypeHLL} {
		t.Run(typ, func(t *testing.T) {
			agg, err := DefaultRegistry().New(typ, Settings{})
			require.NoError(t, err)

			assert.True(t, agg.Add("a"))
			assert.False(t, agg.Add("a"), "re-adding a value must not change state")
			assert.True(t, agg.Add("b"))

			if c, ok := agg.(Counter); ok {
				assert.Equal(t, int64(2), c.Cardinality())
			}

			fresh := agg.New()
			assert.Equal(t, agg.Type(), fresh.Type())
			assert.True(t, fresh.Add("a"), "New must return an empty instance")

			agg.Reset()
			assert.True(t, agg.Add("a"), "Reset must clear state")
		})
	}
}

func TestCount_NumericIdentity(t *testing.T) {
	agg, err := newCount(Settings{})
	require.NoError(t, err)
	assert.True(t, agg.Add(3))
	assert.False(t, agg.Add(float64(3)))
	assert.False(t, agg.Add("3"))
	assert.Equal(t, []string{"3"}, agg.(MemberSet).Members())
}

func TestLimits(t *testing.T) {
	agg, err := newCount(Settings{HardLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, agg.HardLimit())
	assert.False(t, agg.DisableLimitChecks())

	def, err := newSet(Settings{})
	require.NoError(t, err)
	assert.Equal(t, DefaultHardLimit, def.HardLimit())

	hll, err := newHLL(Settings{})
	require.NoError(t, err)
	assert.True(t, hll.DisableLimitChecks())

	_, err = newHLL(Settings{Precision: 9})
	assert.Error(t, err)
}

func TestHLL_MergeBinary(t *testing.T) {
	a, err := newHLL(Settings{})
	require.NoError(t, err)
	b := a.New()
	for i := 0; i < 1000; i++ {
		a.Add(fmt.Sprintf("user-%d", i))
		b.Add(fmt.Sprintf("user-%d", i+500))
	}
	data, err := b.(Sketch).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, a.(Sketch).MergeBinary(data))

	est := a.(Counter).Cardinality()
	assert.InDelta(t, 1500, est, 1500*0.05)
}

func TestKeys(t *testing.T) {
	k := FormatKey("12_3", 60, "host-a")
	assert.Equal(t, "12_3_000000000060_host-a", k)

	bucket, key, err := SplitKey("12_3", k)
	require.NoError(t, err)
	assert.Equal(t, int64(60), bucket)
	assert.Equal(t, "host-a", key)

	rai, err := ParseRuleActionID(k)
	require.NoError(t, err)
	assert.Equal(t, "12_3", rai)

	_, _, err = SplitKey("12_4", k)
	assert.Error(t, err)

	assert.Less(t, FormatKey("1_0", 60, "zzz"), FormatKey("1_0", 120, "aaa"), "lexical order must follow bucket order")
	assert.Equal(t, int64(120), Align(179, 60))
	assert.Equal(t, int64(0), Align(-5, 60))
}

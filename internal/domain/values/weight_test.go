package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeight_Arithmetic(t *testing.T) {
	w := NewWeight(1).MulRatio(101, 100)
	assert.Equal(t, "1.01", w.String())

	trusted := w.MulRatio(3, 2)
	assert.True(t, trusted.Equal(MustNewWeightFromString("1.515")))

	sum := NewWeight(1).Add(w).Add(w)
	assert.True(t, sum.Equal(MustNewWeightFromString("3.02")))
	assert.True(t, sum.GreaterThanOrEqual(NewWeight(3)))
	assert.False(t, NewWeight(2).GreaterThanOrEqual(sum))
	assert.Equal(t, 1, sum.Cmp(NewWeight(3)))
	assert.InDelta(t, 3.02, sum.Float64(), 1e-9)
}

func TestNewWeightFromString(t *testing.T) {
	_, err := NewWeightFromString("-1")
	assert.Error(t, err)

	_, err = NewWeightFromString("abc")
	assert.Error(t, err)

	w, err := NewWeightFromString("2.5")
	require.NoError(t, err)
	assert.Equal(t, "2.5", w.String())
}

func TestWeight_JSON(t *testing.T) {
	data, err := json.Marshal(MustNewWeightFromString("1.515"))
	require.NoError(t, err)
	assert.Equal(t, `"1.515"`, string(data))

	var w Weight
	require.NoError(t, json.Unmarshal(data, &w))
	assert.True(t, w.Equal(MustNewWeightFromString("1.515")))

	assert.Error(t, json.Unmarshal([]byte(`"-3"`), &w))
}

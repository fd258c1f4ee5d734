package values

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAmount(t *testing.T) {
	a, err := NewAmount(100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.Int64())

	_, err = NewAmount(-1)
	assert.Error(t, err)

	zero, err := NewAmount(0)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestAmount_Percent(t *testing.T) {
	tests := []struct {
		amount Amount
		pct    int
		want   Amount
	}{
		{amount: 100, pct: 10, want: 10},
		{amount: 99, pct: 10, want: 9},
		{amount: 5, pct: 10, want: 0},
		{amount: 1000, pct: 0, want: 0},
		{amount: 1000, pct: 100, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.amount.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.amount.Percent(tt.pct))
		})
	}
}

func TestAmount_Add(t *testing.T) {
	sum, err := Amount(100).Add(50)
	require.NoError(t, err)
	assert.Equal(t, Amount(150), sum)

	sum, err = Amount(math.MaxInt64 - 1).Add(1)
	require.NoError(t, err)
	assert.Equal(t, Amount(math.MaxInt64), sum)

	_, err = Amount(100).Add(math.MaxInt64)
	assert.Error(t, err)

	_, err = Amount(100).Add(-1)
	assert.Error(t, err)
}

func TestAmount_Split(t *testing.T) {
	share, rem := Amount(101).Split(2)
	assert.Equal(t, Amount(50), share)
	assert.Equal(t, Amount(1), rem)

	share, rem = Amount(2).Split(3)
	assert.Equal(t, Amount(0), share)
	assert.Equal(t, Amount(2), rem)

	share, rem = Amount(10).Split(0)
	assert.Equal(t, Amount(0), share)
	assert.Equal(t, Amount(10), rem)
}

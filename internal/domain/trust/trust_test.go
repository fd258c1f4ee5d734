package trust_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
)

func TestValidateLevel(t *testing.T) {
	for _, level := range []int{0, 50, 100} {
		assert.NoError(t, trust.ValidateLevel(level), level)
	}
	for _, level := range []int{-1, 101} {
		assert.ErrorIs(t, trust.ValidateLevel(level), errors.ErrInvalidTrustLevel, level)
	}
}

func TestEstablish(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	r, err := trust.Establish(nil, "account-a", "guardian-h", 80, t0)
	require.NoError(t, err)
	assert.Equal(t, t0, r.EstablishedAt)
	assert.Equal(t, t0, r.LastInteraction)

	updated, err := trust.Establish(r, "account-a", "guardian-h", 40, t1)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.TrustLevel)
	assert.Equal(t, t0, updated.EstablishedAt)
	assert.Equal(t, t1, updated.LastInteraction)
	// the previous value is not modified in place
	assert.Equal(t, 80, r.TrustLevel)

	_, err = trust.Establish(nil, "account-a", "guardian-h", 101, t0)
	assert.ErrorIs(t, err, errors.ErrInvalidTrustLevel)
}

func TestRelation_AtLeast(t *testing.T) {
	var missing *trust.Relation
	assert.False(t, missing.AtLeast(0))

	r := &trust.Relation{TrustLevel: 50}
	assert.True(t, r.AtLeast(50))
	assert.False(t, r.AtLeast(51))
}

package events_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
)

func TestNew(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))

	e := events.New(events.RecoveryExecuted, "rec-1", at, map[string]interface{}{"account": "a"})

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.True(t, e.OccurredAt.Equal(at))
	assert.Equal(t, "rec-1", e.Subject)
}

func TestEvent_Classification(t *testing.T) {
	tests := []struct {
		typ      events.Type
		recovery bool
		guardian bool
	}{
		{typ: events.GuardianEnrolled, guardian: true},
		{typ: events.GuardianSlashed, guardian: true},
		{typ: events.ReputationUpdated, guardian: true},
		{typ: events.TrustEstablished, guardian: true},
		{typ: events.AccountConfigured},
		{typ: events.RecoveryInitiated, recovery: true},
		{typ: events.RecoveryConfirmed, recovery: true},
		{typ: events.RecoveryExecuted, recovery: true},
		{typ: events.RecoveryCancelled, recovery: true},
		{typ: events.RecoveryExpired, recovery: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			e := events.New(tt.typ, "s", time.Now(), nil)
			assert.Equal(t, tt.recovery, e.IsRecovery())
			assert.Equal(t, tt.guardian, e.IsGuardian())
		})
	}
}

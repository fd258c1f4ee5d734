// Package events defines the observable notifications emitted by the
// recovery protocol. Events are for external monitoring only; no protocol
// decision depends on them.
package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	GuardianEnrolled  Type = "guardian.enrolled"
	GuardianSlashed   Type = "guardian.slashed"
	ReputationUpdated Type = "guardian.reputation_updated"
	TrustEstablished  Type = "trust.established"
	AccountConfigured Type = "account.recovery_configured"
	RecoveryInitiated Type = "recovery.initiated"
	RecoveryConfirmed Type = "recovery.confirmed"
	RecoveryExecuted  Type = "recovery.executed"
	RecoveryCancelled Type = "recovery.cancelled"
	RecoveryExpired   Type = "recovery.expired"
)

// Event is one protocol notification
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       Type                   `json:"type"`
	Subject    string                 `json:"subject"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func New(t Type, subject string, at time.Time, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Subject:    subject,
		OccurredAt: at.UTC(),
		Data:       data,
	}
}

// IsRecovery reports whether the event concerns a recovery request
func (e Event) IsRecovery() bool {
	switch e.Type {
	case RecoveryInitiated, RecoveryConfirmed, RecoveryExecuted, RecoveryCancelled, RecoveryExpired:
		return true
	}
	return false
}

// IsGuardian reports whether the event changes guardian state
func (e Event) IsGuardian() bool {
	switch e.Type {
	case GuardianEnrolled, GuardianSlashed, ReputationUpdated, TrustEstablished:
		return true
	}
	return false
}

// Package fixtures builds protocol aggregates with sensible defaults.
package fixtures

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/testutil"
)

// GuardianBuilder builds guardian.Guardian values
type GuardianBuilder struct {
	g guardian.Guardian
}

func NewGuardianBuilder(addr values.Address) *GuardianBuilder {
	return &GuardianBuilder{g: guardian.Guardian{
		Address:          addr,
		ReputationScore:  100,
		StakedAmount:     100,
		IsActive:         true,
		LastActivityTime: testutil.Epoch,
		EnrolledAt:       testutil.Epoch,
	}}
}

func (b *GuardianBuilder) WithReputation(score int) *GuardianBuilder {
	b.g.ReputationScore = score
	return b
}

func (b *GuardianBuilder) WithStake(amount values.Amount) *GuardianBuilder {
	b.g.StakedAmount = amount
	return b
}

func (b *GuardianBuilder) WithRecoveries(successful, failed int) *GuardianBuilder {
	b.g.SuccessfulRecoveries = successful
	b.g.FailedAttempts = failed
	return b
}

func (b *GuardianBuilder) WithEndorsements(n int) *GuardianBuilder {
	b.g.TotalEndorsements = n
	return b
}

func (b *GuardianBuilder) Inactive() *GuardianBuilder {
	b.g.IsActive = false
	return b
}

func (b *GuardianBuilder) Build() *guardian.Guardian {
	g := b.g
	return &g
}

// Trust builds an edge established at Epoch
func Trust(truster, trustee values.Address, level int) *trust.Relation {
	return &trust.Relation{
		Truster:         truster,
		Trustee:         trustee,
		TrustLevel:      level,
		EstablishedAt:   testutil.Epoch,
		LastInteraction: testutil.Epoch,
	}
}

// AccountConfig builds a config trusting the given guardians
func AccountConfig(account values.Address, trusted ...values.Address) *recovery.AccountConfig {
	return &recovery.AccountConfig{
		AccountAddress:    account,
		PreferredStrategy: "standard",
		TrustedGuardians:  values.NewAddressSet(trusted...),
		UpdatedAt:         testutil.Epoch,
	}
}

// RecoveryBuilder builds recovery.Request values
type RecoveryBuilder struct {
	p recovery.NewRequestParams
}

func NewRecoveryBuilder(id string, account values.Address) *RecoveryBuilder {
	return &RecoveryBuilder{p: recovery.NewRequestParams{
		ID:                    id,
		Account:               account,
		NewOwner:              "new-owner",
		Initiator:             "initiator",
		StrategyID:            "standard",
		RequiredConfirmations: 3,
		InitiatedAt:           testutil.Epoch,
		Timeout:               7 * 24 * time.Hour,
	}}
}

func (b *RecoveryBuilder) WithInitiator(addr values.Address) *RecoveryBuilder {
	b.p.Initiator = addr
	return b
}

func (b *RecoveryBuilder) WithFee(fee values.Amount) *RecoveryBuilder {
	b.p.RecoveryFee = fee
	return b
}

func (b *RecoveryBuilder) InitiatedAt(t time.Time) *RecoveryBuilder {
	b.p.InitiatedAt = t
	return b
}

func (b *RecoveryBuilder) Emergency() *RecoveryBuilder {
	b.p.IsEmergency = true
	return b
}

func (b *RecoveryBuilder) Build() *recovery.Request {
	return recovery.NewRequest(b.p)
}

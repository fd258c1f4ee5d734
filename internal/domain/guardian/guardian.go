package guardian

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// Guardian is a staked participant eligible to confirm recovery requests.
// An active guardian always holds at least the minimum stake.
type Guardian struct {
	Address              values.Address `json:"address"`
	ReputationScore      int            `json:"reputation_score"`
	SuccessfulRecoveries int            `json:"successful_recoveries"`
	FailedAttempts       int            `json:"failed_attempts"`
	StakedAmount         values.Amount  `json:"staked_amount"`
	LastActivityTime     time.Time      `json:"last_activity_time"`
	IsActive             bool           `json:"is_active"`
	TotalEndorsements    int            `json:"total_endorsements"`
	EnrolledAt           time.Time      `json:"enrolled_at"`
}

// Enroll creates a guardian with the starting reputation
func Enroll(addr values.Address, stake values.Amount, p policy.Params, now time.Time) (*Guardian, error) {
	if stake < p.MinGuardianStake {
		return nil, errors.ErrInvalidStake
	}
	return &Guardian{
		Address:          addr,
		ReputationScore:  p.ClampReputation(p.MinReputationScore),
		StakedAmount:     stake,
		LastActivityTime: now,
		IsActive:         true,
		EnrolledAt:       now,
	}, nil
}

// AddStake tops up an existing guardian and reactivates it
func (g *Guardian) AddStake(stake values.Amount, p policy.Params, now time.Time) error {
	if stake < p.MinGuardianStake {
		return errors.ErrInvalidStake
	}
	total, err := g.StakedAmount.Add(stake)
	if err != nil {
		return errors.ErrStakeOverflow.WithCause(err)
	}
	g.StakedAmount = total
	g.IsActive = true
	g.LastActivityTime = now
	return nil
}

// CanConfirm reports whether the guardian may confirm under the given reputation floor
func (g *Guardian) CanConfirm(floor int) error {
	if !g.IsActive {
		return errors.ErrGuardianInactive
	}
	if g.ReputationScore < floor {
		return errors.ErrInsufficientReputation
	}
	return nil
}

// Endorse records a high-trust edge pointing at this guardian.
// Endorsements only ever accumulate.
func (g *Guardian) Endorse(now time.Time) {
	g.TotalEndorsements++
	g.LastActivityTime = now
}

// Touch marks guardian activity
func (g *Guardian) Touch(now time.Time) {
	g.LastActivityTime = now
}

// RecordSuccess rewards participation in an executed recovery
func (g *Guardian) RecordSuccess(p policy.Params, now time.Time) {
	g.SuccessfulRecoveries++
	g.ReputationScore = p.ClampReputation(g.ReputationScore + p.SuccessReward)
	g.LastActivityTime = now
}

// RecordFailure penalizes participation in a failed recovery
func (g *Guardian) RecordFailure(p policy.Params, now time.Time) {
	g.FailedAttempts++
	g.ReputationScore = p.ClampReputation(g.ReputationScore - p.FailurePenalty)
	g.LastActivityTime = now
}

// Slash removes the slash percentage of stake and reputation, deactivating the
// guardian in the same step when the stake falls below the minimum.
// It returns the amount of stake removed.
func (g *Guardian) Slash(p policy.Params, now time.Time) values.Amount {
	slashed := g.StakedAmount.Percent(p.SlashPercentage)
	g.StakedAmount -= slashed
	g.ReputationScore = p.ClampReputation(g.ReputationScore - p.SlashReputationLoss)
	g.FailedAttempts++
	if g.StakedAmount < p.MinGuardianStake {
		g.IsActive = false
	}
	g.LastActivityTime = now
	return slashed
}

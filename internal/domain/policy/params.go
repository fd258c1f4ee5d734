// Package policy holds the tunable constants of the recovery protocol and
// the catalog of recovery strategies built from them.
package policy

import (
	"fmt"
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// Params carries every deploy-time constant of a protocol instance.
// Instances are passed explicitly so tests can run isolated protocols
// with different parameters side by side.
type Params struct {
	MinReputationScore       int           `koanf:"min_reputation_score"`
	MaxReputationScore       int           `koanf:"max_reputation_score"`
	MinGuardians             int           `koanf:"min_guardians"`
	MaxGuardians             int           `koanf:"max_guardians"`
	RecoveryTimeout          time.Duration `koanf:"recovery_timeout"`
	EmergencyRecoveryTimeout time.Duration `koanf:"emergency_recovery_timeout"`
	MinGuardianStake         values.Amount `koanf:"min_guardian_stake"`
	SlashPercentage          int           `koanf:"slash_percentage"`

	SuccessReward         int `koanf:"success_reward"`
	FailurePenalty        int `koanf:"failure_penalty"`
	SlashReputationLoss   int `koanf:"slash_reputation_loss"`
	EndorsementTrustLevel int `koanf:"endorsement_trust_level"`
	WeightTrustLevel      int `koanf:"weight_trust_level"`

	// StakeToken is the token moved by stake and fee transfers
	StakeToken string `koanf:"stake_token"`
	// Custody is the protocol-held address that receives stake and fee escrow
	Custody values.Address `koanf:"custody"`
}

// DefaultParams returns the reference parameter set
func DefaultParams() Params {
	return Params{
		MinReputationScore:       100,
		MaxReputationScore:       10000,
		MinGuardians:             3,
		MaxGuardians:             20,
		RecoveryTimeout:          7 * 24 * time.Hour,
		EmergencyRecoveryTimeout: 24 * time.Hour,
		MinGuardianStake:         100,
		SlashPercentage:          10,
		SuccessReward:            50,
		FailurePenalty:           100,
		SlashReputationLoss:      500,
		EndorsementTrustLevel:    70,
		WeightTrustLevel:         50,
		StakeToken:               "GRD",
		Custody:                  "recovery-custody",
	}
}

// Validate rejects parameter sets that would break the protocol invariants
func (p Params) Validate() error {
	switch {
	case p.MaxReputationScore <= 0:
		return fmt.Errorf("max reputation score must be positive")
	case p.MinReputationScore < 0 || p.MinReputationScore > p.MaxReputationScore:
		return fmt.Errorf("min reputation score must be within [0, %d]", p.MaxReputationScore)
	case p.MinGuardians <= 0 || p.MaxGuardians < p.MinGuardians:
		return fmt.Errorf("guardian bounds are inconsistent: min=%d max=%d", p.MinGuardians, p.MaxGuardians)
	case p.RecoveryTimeout <= 0 || p.EmergencyRecoveryTimeout <= 0:
		return fmt.Errorf("recovery timeouts must be positive")
	case p.MinGuardianStake <= 0:
		return fmt.Errorf("min guardian stake must be positive")
	case p.SlashPercentage < 0 || p.SlashPercentage > 100:
		return fmt.Errorf("slash percentage must be within [0, 100]")
	case p.SuccessReward < 0 || p.FailurePenalty < 0 || p.SlashReputationLoss < 0:
		return fmt.Errorf("reputation adjustments must not be negative")
	case p.EndorsementTrustLevel < 0 || p.EndorsementTrustLevel > 100 ||
		p.WeightTrustLevel < 0 || p.WeightTrustLevel > 100:
		return fmt.Errorf("trust level thresholds must be within [0, 100]")
	case p.StakeToken == "":
		return fmt.Errorf("stake token is required")
	case p.Custody.IsZero():
		return fmt.Errorf("custody address is required")
	}
	return nil
}

// ClampReputation bounds a score to [0, MaxReputationScore]
func (p Params) ClampReputation(score int) int {
	if score < 0 {
		return 0
	}
	if score > p.MaxReputationScore {
		return p.MaxReputationScore
	}
	return score
}

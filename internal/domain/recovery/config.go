package recovery

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// AccountConfig holds an account's own overrides of the recovery policy
type AccountConfig struct {
	AccountAddress        values.Address    `json:"account_address"`
	PreferredStrategy     string            `json:"preferred_strategy"`
	TrustedGuardians      values.AddressSet `json:"trusted_guardians"`
	RecoveryThreshold     int               `json:"recovery_threshold"`
	AllowNetworkGuardians bool              `json:"allow_network_guardians"`
	MinGuardianReputation int               `json:"min_guardian_reputation"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// AddTrustedGuardian adds a guardian to the allowlist; adding a member twice is a no-op
func (c *AccountConfig) AddTrustedGuardian(g values.Address, maxGuardians int, now time.Time) error {
	if c.TrustedGuardians == nil {
		c.TrustedGuardians = values.NewAddressSet()
	}
	if c.TrustedGuardians.Contains(g) {
		return nil
	}
	if len(c.TrustedGuardians) >= maxGuardians {
		return errors.ErrTooManyGuardians
	}
	c.TrustedGuardians.Add(g)
	c.UpdatedAt = now
	return nil
}

// Admits reports whether a guardian may confirm this account's recoveries.
// An account with no allowlist admits every guardian.
func (c *AccountConfig) Admits(g values.Address) bool {
	if c == nil || c.AllowNetworkGuardians || len(c.TrustedGuardians) == 0 {
		return true
	}
	return c.TrustedGuardians.Contains(g)
}

// ReputationFloor raises a strategy floor to the account's own minimum
func (c *AccountConfig) ReputationFloor(strategyFloor int) int {
	if c == nil || c.MinGuardianReputation <= strategyFloor {
		return strategyFloor
	}
	return c.MinGuardianReputation
}

// Threshold returns the custom threshold or the fallback when unset
func (c *AccountConfig) Threshold(fallback int) int {
	if c == nil || c.RecoveryThreshold == 0 {
		return fallback
	}
	return c.RecoveryThreshold
}

package recovery

import "github.com/davidleathers/guardian-recovery/internal/domain/values"

// ConfirmationWeight scales a unit vote by reputation and account trust.
// A max-reputation guardian counts up to twice; a guardian the account
// trusts at the weight threshold counts half again.
func ConfirmationWeight(reputation, maxReputation int, trusted bool) values.Weight {
	bonus := int64(0)
	if maxReputation > 0 {
		bonus = int64(reputation) * 100 / int64(maxReputation)
	}
	w := values.NewWeight(1).MulRatio(100+bonus, 100)
	if trusted {
		w = w.MulRatio(3, 2)
	}
	return w
}

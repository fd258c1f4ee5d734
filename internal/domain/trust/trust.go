package trust

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

const (
	MinLevel = 0
	MaxLevel = 100
)

// Relation is a directed trust edge from any participant to a guardian.
// At most one relation exists per (truster, trustee) pair.
type Relation struct {
	Truster         values.Address `json:"truster"`
	Trustee         values.Address `json:"trustee"`
	TrustLevel      int            `json:"trust_level"`
	EstablishedAt   time.Time      `json:"established_at"`
	LastInteraction time.Time      `json:"last_interaction"`
}

// ValidateLevel checks a trust level is within [0, 100]
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return errors.ErrInvalidTrustLevel
	}
	return nil
}

// Establish builds a new edge, or overwrites the level of an existing one
// while keeping its original establishment time.
func Establish(existing *Relation, truster, trustee values.Address, level int, now time.Time) (*Relation, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}
	if existing != nil {
		r := *existing
		r.TrustLevel = level
		r.LastInteraction = now
		return &r, nil
	}
	return &Relation{
		Truster:         truster,
		Trustee:         trustee,
		TrustLevel:      level,
		EstablishedAt:   now,
		LastInteraction: now,
	}, nil
}

// AtLeast reports whether the edge carries at least the given level
func (r *Relation) AtLeast(level int) bool {
	return r != nil && r.TrustLevel >= level
}

package policy

import (
	"fmt"
	"sort"
	"time"
)

// Built-in strategy identifiers
const (
	StrategyStandard    = "standard"
	StrategyEmergency   = "emergency"
	StrategyMultifactor = "multifactor"
)

// Strategy is a named policy bundle for a recovery request
type Strategy struct {
	ID                    string        `json:"strategy_id" koanf:"id"`
	Name                  string        `json:"name" koanf:"name"`
	MinGuardians          int           `json:"min_guardians" koanf:"min_guardians"`
	TimeoutPeriod         time.Duration `json:"timeout_period" koanf:"timeout_period"`
	RequiresReputation    bool          `json:"requires_reputation" koanf:"requires_reputation"`
	MinReputationRequired int           `json:"min_reputation_required" koanf:"min_reputation_required"`
	AllowsEmergency       bool          `json:"allows_emergency" koanf:"allows_emergency"`
}

// ReputationFloor is the minimum reputation a participant needs under this strategy
func (s Strategy) ReputationFloor() int {
	if !s.RequiresReputation {
		return 0
	}
	return s.MinReputationRequired
}

func (s Strategy) validate(p Params) error {
	switch {
	case s.ID == "":
		return fmt.Errorf("strategy id is required")
	case s.MinGuardians <= 0 || s.MinGuardians > p.MaxGuardians:
		return fmt.Errorf("strategy %s: min guardians must be within [1, %d]", s.ID, p.MaxGuardians)
	case s.TimeoutPeriod <= 0:
		return fmt.Errorf("strategy %s: timeout must be positive", s.ID)
	case s.MinReputationRequired < 0 || s.MinReputationRequired > p.MaxReputationScore:
		return fmt.Errorf("strategy %s: reputation floor out of range", s.ID)
	}
	return nil
}

// Catalog is the read-only set of strategies a protocol instance accepts
type Catalog struct {
	strategies map[string]Strategy
}

// BuiltinStrategies mirrors the reference policy set
func BuiltinStrategies(p Params) []Strategy {
	return []Strategy{
		{
			ID:                    StrategyStandard,
			Name:                  "Standard Recovery",
			MinGuardians:          3,
			TimeoutPeriod:         p.RecoveryTimeout,
			RequiresReputation:    true,
			MinReputationRequired: 100,
			AllowsEmergency:       false,
		},
		{
			ID:                    StrategyEmergency,
			Name:                  "Emergency Recovery",
			MinGuardians:          5,
			TimeoutPeriod:         p.EmergencyRecoveryTimeout,
			RequiresReputation:    true,
			MinReputationRequired: 500,
			AllowsEmergency:       true,
		},
		{
			ID:                    StrategyMultifactor,
			Name:                  "Multi-Factor Recovery",
			MinGuardians:          2,
			TimeoutPeriod:         3 * 24 * time.Hour,
			RequiresReputation:    true,
			MinReputationRequired: 200,
			AllowsEmergency:       false,
		},
	}
}

// NewCatalog seeds the built-in strategies and appends any extras.
// Extras may not shadow a built-in or each other.
func NewCatalog(p Params, extra ...Strategy) (*Catalog, error) {
	c := &Catalog{strategies: make(map[string]Strategy)}
	for _, s := range BuiltinStrategies(p) {
		c.strategies[s.ID] = s
	}
	for _, s := range extra {
		if err := s.validate(p); err != nil {
			return nil, err
		}
		if _, exists := c.strategies[s.ID]; exists {
			return nil, fmt.Errorf("strategy %s already defined", s.ID)
		}
		c.strategies[s.ID] = s
	}
	return c, nil
}

// Get returns the strategy and whether it exists
func (c *Catalog) Get(id string) (Strategy, bool) {
	s, ok := c.strategies[id]
	return s, ok
}

// List returns all strategies ordered by id
func (c *Catalog) List() []Strategy {
	out := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

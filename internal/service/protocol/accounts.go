package protocol

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

func (s *service) ConfigureAccountRecovery(ctx context.Context, req *ConfigureRequest) (*recovery.AccountConfig, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.validateConfig(req); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Account); err != nil {
		return nil, err
	}

	var cfg *recovery.AccountConfig
	attrs := []attribute.KeyValue{attribute.String("account", req.Account.String())}
	_, err := s.mutate(ctx, "ConfigureAccountRecovery", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		// replaced wholesale, including the trusted set
		cfg = &recovery.AccountConfig{
			AccountAddress:        req.Account,
			PreferredStrategy:     req.PreferredStrategy,
			TrustedGuardians:      values.NewAddressSet(),
			RecoveryThreshold:     req.RecoveryThreshold,
			AllowNetworkGuardians: req.AllowNetworkGuardians,
			MinGuardianReputation: req.MinGuardianReputation,
			UpdatedAt:             now,
		}
		if err := tx.SaveAccountConfig(ctx, cfg); err != nil {
			return err
		}
		o.emit(events.New(events.AccountConfigured, req.Account.String(), now, map[string]interface{}{
			"preferred_strategy": req.PreferredStrategy,
			"recovery_threshold": req.RecoveryThreshold,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *service) validateConfig(req *ConfigureRequest) error {
	if req.PreferredStrategy != "" {
		if _, ok := s.catalog.Get(req.PreferredStrategy); !ok {
			return errors.ErrUnknownStrategy.WithDetails(map[string]interface{}{"strategy_id": req.PreferredStrategy})
		}
	}
	if req.RecoveryThreshold < 0 || req.RecoveryThreshold > s.params.MaxGuardians {
		return errors.ErrInvalidThreshold.WithDetails(map[string]interface{}{
			"recovery_threshold": req.RecoveryThreshold,
			"max":                s.params.MaxGuardians,
		})
	}
	if req.MinGuardianReputation > s.params.MaxReputationScore {
		return errors.ErrInvalidInput.WithDetails(map[string]interface{}{
			"min_guardian_reputation": req.MinGuardianReputation,
			"max":                     s.params.MaxReputationScore,
		})
	}
	return nil
}

func (s *service) AddTrustedGuardian(ctx context.Context, account, g values.Address) (*recovery.AccountConfig, error) {
	if account.IsZero() || g.IsZero() {
		return nil, errors.ErrInvalidAddress
	}
	if err := s.authorize(ctx, account); err != nil {
		return nil, err
	}

	var cfg *recovery.AccountConfig
	attrs := []attribute.KeyValue{
		attribute.String("account", account.String()),
		attribute.String("guardian", g.String()),
	}
	_, err := s.mutate(ctx, "AddTrustedGuardian", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		var err error
		if cfg, err = tx.GetAccountConfig(ctx, account); err != nil {
			return err
		}
		if _, err := tx.GetGuardian(ctx, g); err != nil {
			return err
		}
		if err := cfg.AddTrustedGuardian(g, s.params.MaxGuardians, s.now()); err != nil {
			return err
		}
		return tx.SaveAccountConfig(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *service) GetAccountConfig(ctx context.Context, account values.Address) (*recovery.AccountConfig, error) {
	var cfg *recovery.AccountConfig
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		cfg, err = tx.GetAccountConfig(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *service) GetStrategy(id string) (policy.Strategy, error) {
	st, ok := s.catalog.Get(id)
	if !ok {
		return policy.Strategy{}, errors.ErrUnknownStrategy.WithDetails(map[string]interface{}{"strategy_id": id})
	}
	return st, nil
}

func (s *service) ListStrategies() []policy.Strategy {
	return s.catalog.List()
}

// resolveStrategy picks the requested strategy, then the account's preference,
// then the standard strategy.
func (s *service) resolveStrategy(id string, cfg *recovery.AccountConfig) (policy.Strategy, error) {
	switch {
	case id != "":
	case cfg != nil && cfg.PreferredStrategy != "":
		id = cfg.PreferredStrategy
	default:
		id = policy.StrategyStandard
	}
	return s.GetStrategy(id)
}

// loadConfig returns nil when the account never configured recovery
func loadConfig(ctx context.Context, tx Tx, account values.Address) (*recovery.AccountConfig, error) {
	cfg, err := tx.GetAccountConfig(ctx, account)
	if errors.Is(err, errors.ErrConfigNotFound) {
		return nil, nil
	}
	return cfg, err
}

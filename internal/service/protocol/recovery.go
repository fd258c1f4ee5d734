package protocol

import (
	"context"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// maxIDAttempts bounds the nonce search for a fresh recovery id
const maxIDAttempts = 64

func (s *service) InitiateRecovery(ctx context.Context, req *InitiateRequest) (*recovery.Request, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.RecoveryFee < 0 {
		return nil, errors.ErrInvalidFee
	}
	if err := s.authorize(ctx, req.Initiator); err != nil {
		return nil, err
	}

	var created *recovery.Request
	attrs := []attribute.KeyValue{
		attribute.String("account", req.Account.String()),
		attribute.String("initiator", req.Initiator.String()),
	}
	_, err := s.mutate(ctx, "InitiateRecovery", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		cfg, err := loadConfig(ctx, tx, req.Account)
		if err != nil {
			return err
		}
		st, err := s.resolveStrategy(req.StrategyID, cfg)
		if err != nil {
			return err
		}
		if req.IsEmergency && !st.AllowsEmergency {
			return errors.ErrEmergencyNotAllowed.WithDetails(map[string]interface{}{"strategy_id": st.ID})
		}

		initiator, err := tx.GetGuardian(ctx, req.Initiator)
		switch {
		case errors.Is(err, errors.ErrUnknownGuardian):
			initiator = nil
		case err != nil:
			return err
		}
		// reputation only vouches for a guardian that still stands behind a stake
		if st.RequiresReputation && initiator != nil && !initiator.IsActive {
			return errors.ErrGuardianInactive.WithDetails(map[string]interface{}{
				"strategy_id": st.ID,
				"initiator":   initiator.Address.String(),
			})
		}
		if st.RequiresReputation && (initiator == nil || initiator.ReputationScore < st.MinReputationRequired) {
			return errors.ErrInsufficientReputation.WithDetails(map[string]interface{}{
				"strategy_id":    st.ID,
				"min_reputation": st.MinReputationRequired,
			})
		}

		timeout := st.TimeoutPeriod
		if req.IsEmergency {
			timeout = s.params.EmergencyRecoveryTimeout
		}
		id, err := newRecoveryID(ctx, tx, req, now)
		if err != nil {
			return err
		}
		r := recovery.NewRequest(recovery.NewRequestParams{
			ID:                    id,
			Account:               req.Account,
			NewOwner:              req.NewOwner,
			Initiator:             req.Initiator,
			StrategyID:            st.ID,
			RequiredConfirmations: cfg.Threshold(st.MinGuardians),
			IsEmergency:           req.IsEmergency,
			RecoveryFee:           req.RecoveryFee,
			InitiatedAt:           now,
			Timeout:               timeout,
		})

		if r.RecoveryFee > 0 {
			if err := s.transfer(ctx, "fee", r.Initiator, s.params.Custody, r.RecoveryFee); err != nil {
				return err
			}
		}
		if err := tx.SaveRecovery(ctx, r); err != nil {
			return err
		}
		if initiator != nil {
			initiator.Touch(now)
			if err := tx.SaveGuardian(ctx, initiator); err != nil {
				return err
			}
			o.touch(initiator.Address)
		}

		o.emit(events.New(events.RecoveryInitiated, r.ID, now, map[string]interface{}{
			"account":                r.AccountAddress.String(),
			"new_owner":              r.NewOwner.String(),
			"initiator":              r.Initiator.String(),
			"strategy_id":            r.StrategyID,
			"required_confirmations": r.RequiredConfirmations,
			"expires_at":             r.ExpiresAt,
			"is_emergency":           r.IsEmergency,
		}))
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("recovery initiated",
		zap.String("recovery_id", created.ID),
		zap.String("account", created.AccountAddress.String()),
		zap.String("strategy_id", created.StrategyID),
		zap.Int("required_confirmations", created.RequiredConfirmations),
	)
	return created, nil
}

func newRecoveryID(ctx context.Context, tx Tx, req *InitiateRequest, now time.Time) (string, error) {
	for nonce := uint32(0); nonce < maxIDAttempts; nonce++ {
		id := recovery.DeriveID(req.Account, req.NewOwner, req.Initiator, now, nonce)
		_, err := tx.GetRecovery(ctx, id)
		if errors.Is(err, errors.ErrRecoveryNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.NewInternalError("could not derive a unique recovery id")
}

func (s *service) ConfirmRecovery(ctx context.Context, caller values.Address, recoveryID string) (bool, error) {
	if caller.IsZero() {
		return false, errors.ErrInvalidAddress
	}
	if err := s.authorize(ctx, caller); err != nil {
		return false, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("recovery_id", recoveryID),
		attribute.String("guardian", caller.String()),
	}
	o, err := s.mutate(ctx, "ConfirmRecovery", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		r, err := tx.GetRecovery(ctx, recoveryID)
		if errors.Is(err, errors.ErrRecoveryNotFound) {
			return o.reject()
		}
		if err != nil {
			return err
		}
		if !r.IsConfirmable(now) || r.HasConfirmed(caller) {
			return o.reject()
		}

		g, err := tx.GetGuardian(ctx, caller)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(ctx, tx, r.AccountAddress)
		if err != nil {
			return err
		}
		st, err := s.GetStrategy(r.StrategyID)
		if err != nil {
			return err
		}
		if err := g.CanConfirm(cfg.ReputationFloor(st.ReputationFloor())); err != nil {
			return err
		}
		if !cfg.Admits(caller) {
			return errors.ErrGuardianNotTrusted
		}

		edge, err := tx.GetTrust(ctx, r.AccountAddress, caller)
		if err != nil && !errors.Is(err, errors.ErrTrustNotFound) {
			return err
		}
		weight := recovery.ConfirmationWeight(g.ReputationScore, s.params.MaxReputationScore, edge.AtLeast(s.params.WeightTrustLevel))
		if !r.AddConfirmation(caller, weight, now) {
			return o.reject()
		}

		g.Touch(now)
		if err := tx.SaveGuardian(ctx, g); err != nil {
			return err
		}
		o.touch(g.Address)
		o.weights = append(o.weights, weight)
		o.emit(events.New(events.RecoveryConfirmed, r.ID, now, map[string]interface{}{
			"guardian":              caller.String(),
			"weight":                weight.String(),
			"current_confirmations": r.CurrentConfirmations.String(),
			"required":              r.RequiredConfirmations,
		}))

		if r.ThresholdReached() {
			if err := s.execute(ctx, tx, r, now, o); err != nil {
				return err
			}
		}
		return tx.SaveRecovery(ctx, r)
	})
	if err != nil {
		return false, err
	}
	return !o.rejected, nil
}

func (s *service) CancelRecovery(ctx context.Context, caller values.Address, recoveryID string) (bool, error) {
	if caller.IsZero() {
		return false, errors.ErrInvalidAddress
	}
	if err := s.authorize(ctx, caller); err != nil {
		return false, err
	}

	attrs := []attribute.KeyValue{attribute.String("recovery_id", recoveryID)}
	o, err := s.mutate(ctx, "CancelRecovery", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		r, err := tx.GetRecovery(ctx, recoveryID)
		if errors.Is(err, errors.ErrRecoveryNotFound) {
			return o.reject()
		}
		if err != nil {
			return err
		}
		if r.IsTerminal() {
			return o.reject()
		}
		if !r.CanCancel(caller) {
			return errors.ErrNotRecoveryParty
		}

		r.MarkCancelled(now)
		if err := s.refund(ctx, r); err != nil {
			return err
		}
		if err := tx.SaveRecovery(ctx, r); err != nil {
			return err
		}

		o.closed = append(o.closed, recovery.StatusCancelled)
		o.emit(events.New(events.RecoveryCancelled, r.ID, now, map[string]interface{}{
			"cancelled_by": caller.String(),
			"refunded":     r.RecoveryFee.Int64(),
		}))
		return nil
	})
	if err != nil {
		return false, err
	}
	if !o.rejected {
		s.logger.Info("recovery cancelled", zap.String("recovery_id", recoveryID), zap.String("caller", caller.String()))
	}
	return !o.rejected, nil
}

// LiquidateRecovery is the governance path that closes an expired request
// and penalizes everyone who confirmed it.
func (s *service) LiquidateRecovery(ctx context.Context, recoveryID string) (bool, error) {
	if err := s.authorizeGovernance(ctx); err != nil {
		return false, err
	}

	attrs := []attribute.KeyValue{attribute.String("recovery_id", recoveryID)}
	o, err := s.mutate(ctx, "LiquidateRecovery", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		r, err := tx.GetRecovery(ctx, recoveryID)
		if errors.Is(err, errors.ErrRecoveryNotFound) {
			return o.reject()
		}
		if err != nil {
			return err
		}
		if r.IsTerminal() {
			return o.reject()
		}
		if !r.MarkExpired(now) {
			return errors.ErrRecoveryNotExpired.WithDetails(map[string]interface{}{"expires_at": r.ExpiresAt})
		}

		if err := s.updateGuardianStats(ctx, tx, r, false, now, o); err != nil {
			return err
		}
		if err := s.refund(ctx, r); err != nil {
			return err
		}
		if err := tx.SaveRecovery(ctx, r); err != nil {
			return err
		}

		o.closed = append(o.closed, recovery.StatusExpired)
		o.emit(events.New(events.RecoveryExpired, r.ID, now, map[string]interface{}{
			"account":       r.AccountAddress.String(),
			"confirmations": len(r.Confirmations),
		}))
		return nil
	})
	if err != nil {
		return false, err
	}
	if !o.rejected {
		s.logger.Info("recovery liquidated", zap.String("recovery_id", recoveryID))
	}
	return !o.rejected, nil
}

func (s *service) GetRecovery(ctx context.Context, recoveryID string) (*recovery.Request, error) {
	var r *recovery.Request
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		r, err = tx.GetRecovery(ctx, recoveryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ActiveRecoveriesForAccount evaluates expiry against the clock at the start
// of each range loop.
func (s *service) ActiveRecoveriesForAccount(ctx context.Context, account values.Address) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		now := s.now()
		var ids []string
		err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
			return tx.ScanAccountRecoveries(ctx, account, func(r *recovery.Request) bool {
				if r.IsConfirmable(now) {
					ids = append(ids, r.ID)
				}
				return true
			})
		})
		if err != nil {
			yield("", err)
			return
		}
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// refund returns an escrowed fee to the initiator
func (s *service) refund(ctx context.Context, r *recovery.Request) error {
	if r.RecoveryFee <= 0 {
		return nil
	}
	return s.transfer(ctx, "refund", s.params.Custody, r.Initiator, r.RecoveryFee)
}

// confirmingGuardians loads the registered guardians among a request's confirmers
func confirmingGuardians(ctx context.Context, tx Tx, r *recovery.Request) ([]*guardian.Guardian, error) {
	out := make([]*guardian.Guardian, 0, len(r.Confirmations))
	for _, addr := range r.ConfirmedBy() {
		g, err := tx.GetGuardian(ctx, addr)
		if errors.Is(err, errors.ErrUnknownGuardian) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

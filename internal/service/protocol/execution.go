package protocol

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// execute hands the account to its new owner. It runs inside the confirming
// transaction, so a hook failure also discards the confirmation that triggered it.
func (s *service) execute(ctx context.Context, tx Tx, r *recovery.Request, now time.Time, o *outcome) error {
	details := map[string]interface{}{
		"recovery_id": r.ID,
		"account":     r.AccountAddress.String(),
	}
	hookCtx := WithIdempotencyKey(ctx, callKey(ctx, "apply-owner", r.ID))
	applied, err := s.hook.ApplyNewOwner(hookCtx, r.AccountAddress, r.NewOwner, r.ID)
	if err != nil {
		s.logger.Error("account hook failed", zap.String("recovery_id", r.ID), zap.Error(err))
		return errors.ErrExecutionFailed.WithCause(err).WithDetails(details)
	}
	if !applied {
		s.logger.Warn("account hook refused new owner", zap.String("recovery_id", r.ID))
		return errors.ErrExecutionFailed.WithDetails(details)
	}

	r.MarkExecuted(now)
	if err := s.updateGuardianStats(ctx, tx, r, true, now, o); err != nil {
		return err
	}
	guardians, err := confirmingGuardians(ctx, tx, r)
	if err != nil {
		return err
	}
	paid := s.distributeFee(ctx, r, guardians, o)

	o.closed = append(o.closed, recovery.StatusExecuted)
	o.emit(events.New(events.RecoveryExecuted, r.ID, now, map[string]interface{}{
		"account":               r.AccountAddress.String(),
		"new_owner":             r.NewOwner.String(),
		"confirmed_by":          r.ConfirmedBy(),
		"current_confirmations": r.CurrentConfirmations.String(),
		"fee_paid":              paid.Int64(),
	}))

	s.logger.Info("recovery executed",
		zap.String("recovery_id", r.ID),
		zap.String("account", r.AccountAddress.String()),
		zap.String("new_owner", r.NewOwner.String()),
		zap.Int("confirmations", len(r.Confirmations)),
	)
	return nil
}

// updateGuardianStats rewards or penalizes every registered guardian that confirmed r
func (s *service) updateGuardianStats(ctx context.Context, tx Tx, r *recovery.Request, success bool, now time.Time, o *outcome) error {
	guardians, err := confirmingGuardians(ctx, tx, r)
	if err != nil {
		return err
	}
	for _, g := range guardians {
		before := g.ReputationScore
		if success {
			g.RecordSuccess(s.params, now)
		} else {
			g.RecordFailure(s.params, now)
		}
		if err := tx.SaveGuardian(ctx, g); err != nil {
			return err
		}
		o.touch(g.Address)
		o.emit(events.New(events.ReputationUpdated, g.Address.String(), now, map[string]interface{}{
			"recovery_id": r.ID,
			"success":     success,
			"previous":    before,
			"reputation":  g.ReputationScore,
		}))
	}
	return nil
}

// distributeFee splits the escrowed fee evenly; the indivisible remainder
// stays in custody. A failed payout does not undo the execution.
func (s *service) distributeFee(ctx context.Context, r *recovery.Request, guardians []*guardian.Guardian, o *outcome) (paid values.Amount) {
	if r.RecoveryFee <= 0 || len(guardians) == 0 {
		return 0
	}
	share, _ := r.RecoveryFee.Split(len(guardians))
	if share == 0 {
		return 0
	}

	var errs error
	for _, g := range guardians {
		if err := s.transfer(ctx, "payout", s.params.Custody, g.Address, share); err != nil {
			errs = multierr.Append(errs, err)
			o.payoutFailures++
			continue
		}
		paid += share
	}
	if errs != nil {
		s.logger.Error("fee payout incomplete",
			zap.String("recovery_id", r.ID),
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
	}
	return paid
}

package protocol

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

func (s *service) EnrollGuardian(ctx context.Context, req *EnrollRequest) (*guardian.Guardian, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Stake < s.params.MinGuardianStake {
		return nil, errors.ErrInvalidStake
	}
	if err := s.authorize(ctx, req.Guardian); err != nil {
		return nil, err
	}

	var enrolled *guardian.Guardian
	attrs := []attribute.KeyValue{attribute.String("guardian", req.Guardian.String())}
	_, err := s.mutate(ctx, "EnrollGuardian", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		g, err := tx.GetGuardian(ctx, req.Guardian)
		switch {
		case errors.Is(err, errors.ErrUnknownGuardian):
			g, err = guardian.Enroll(req.Guardian, req.Stake, s.params, now)
		case err != nil:
			return err
		default:
			err = g.AddStake(req.Stake, s.params, now)
		}
		if err != nil {
			return err
		}

		if err := s.transfer(ctx, "stake", req.Guardian, s.params.Custody, req.Stake); err != nil {
			return err
		}
		if err := tx.SaveGuardian(ctx, g); err != nil {
			return err
		}

		o.touch(g.Address)
		o.emit(events.New(events.GuardianEnrolled, g.Address.String(), now, map[string]interface{}{
			"stake":         req.Stake.Int64(),
			"staked_amount": g.StakedAmount.Int64(),
		}))
		enrolled = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("guardian enrolled",
		zap.String("guardian", enrolled.Address.String()),
		zap.Int64("staked_amount", enrolled.StakedAmount.Int64()),
	)
	return enrolled, nil
}

// GetGuardian reads through the cache. The generation is taken before the
// store read, so a fill racing a committed write is discarded.
func (s *service) GetGuardian(ctx context.Context, addr values.Address) (*guardian.Guardian, error) {
	var gen int64
	if s.cache != nil {
		cached, v, ok := s.cache.Get(ctx, addr)
		if ok {
			return cached, nil
		}
		gen = v
	}

	var g *guardian.Guardian
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		g, err = tx.GetGuardian(ctx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, g, gen)
	}
	return g, nil
}

// ListActiveGuardians takes a snapshot per range loop, so the sequence can be
// ranged over again to see newer state.
func (s *service) ListActiveGuardians(ctx context.Context) iter.Seq2[*guardian.Guardian, error] {
	return func(yield func(*guardian.Guardian, error) bool) {
		var active []*guardian.Guardian
		err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
			return tx.ScanGuardians(ctx, func(g *guardian.Guardian) bool {
				if g.IsActive {
					active = append(active, g)
				}
				return true
			})
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, g := range active {
			if !yield(g, nil) {
				return
			}
		}
	}
}

func (s *service) EstablishTrust(ctx context.Context, req *TrustRequest) (*trust.Relation, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := trust.ValidateLevel(req.TrustLevel); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Truster); err != nil {
		return nil, err
	}

	var rel *trust.Relation
	attrs := []attribute.KeyValue{
		attribute.String("truster", req.Truster.String()),
		attribute.String("trustee", req.Trustee.String()),
	}
	_, err := s.mutate(ctx, "EstablishTrust", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		g, err := tx.GetGuardian(ctx, req.Trustee)
		if err != nil {
			return err
		}
		if !g.IsActive {
			return errors.ErrUnknownGuardian.WithDetails(map[string]interface{}{"reason": "guardian is not active"})
		}

		existing, err := tx.GetTrust(ctx, req.Truster, req.Trustee)
		if err != nil && !errors.Is(err, errors.ErrTrustNotFound) {
			return err
		}
		rel, err = trust.Establish(existing, req.Truster, req.Trustee, req.TrustLevel, now)
		if err != nil {
			return err
		}
		if err := tx.SaveTrust(ctx, rel); err != nil {
			return err
		}

		if rel.AtLeast(s.params.EndorsementTrustLevel) {
			g.Endorse(now)
			if err := tx.SaveGuardian(ctx, g); err != nil {
				return err
			}
			o.touch(g.Address)
		}

		o.emit(events.New(events.TrustEstablished, req.Trustee.String(), now, map[string]interface{}{
			"truster":     req.Truster.String(),
			"trust_level": req.TrustLevel,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *service) GetTrust(ctx context.Context, truster, trustee values.Address) (*trust.Relation, error) {
	var rel *trust.Relation
	err := s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		rel, err = tx.GetTrust(ctx, truster, trustee)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *service) SlashGuardian(ctx context.Context, req *SlashRequest) (*guardian.Guardian, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.authorizeGovernance(ctx); err != nil {
		return nil, err
	}

	var slashed *guardian.Guardian
	var removed values.Amount
	attrs := []attribute.KeyValue{attribute.String("guardian", req.Guardian.String())}
	_, err := s.mutate(ctx, "SlashGuardian", attrs, func(ctx context.Context, tx Tx, o *outcome) error {
		now := s.now()
		g, err := tx.GetGuardian(ctx, req.Guardian)
		if err != nil {
			return err
		}

		removed = g.Slash(s.params, now)
		if err := tx.SaveGuardian(ctx, g); err != nil {
			return err
		}

		o.touch(g.Address)
		o.slashed = removed
		o.emit(events.New(events.GuardianSlashed, g.Address.String(), now, map[string]interface{}{
			"reason":           req.Reason,
			"slashed_amount":   removed.Int64(),
			"staked_amount":    g.StakedAmount.Int64(),
			"reputation_score": g.ReputationScore,
			"is_active":        g.IsActive,
		}))
		slashed = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("guardian slashed",
		zap.String("guardian", slashed.Address.String()),
		zap.String("reason", req.Reason),
		zap.Int64("slashed_amount", removed.Int64()),
		zap.Bool("is_active", slashed.IsActive),
	)
	return slashed, nil
}

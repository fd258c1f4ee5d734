package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tx adapts a pgx transaction to protocol.Tx
type tx struct {
	q querier
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

const guardianColumns = `address, reputation_score, successful_recoveries, failed_attempts,
	staked_amount, last_activity_time, is_active, total_endorsements, enrolled_at`

func scanGuardian(row pgx.Row) (*guardian.Guardian, error) {
	var (
		g      guardian.Guardian
		addr   string
		staked int64
	)
	err := row.Scan(&addr, &g.ReputationScore, &g.SuccessfulRecoveries, &g.FailedAttempts,
		&staked, &g.LastActivityTime, &g.IsActive, &g.TotalEndorsements, &g.EnrolledAt)
	if err != nil {
		return nil, err
	}
	g.Address = values.Address(addr)
	g.StakedAmount = values.Amount(staked)
	g.LastActivityTime = utc(g.LastActivityTime)
	g.EnrolledAt = utc(g.EnrolledAt)
	return &g, nil
}

func (t *tx) GetGuardian(ctx context.Context, addr values.Address) (*guardian.Guardian, error) {
	g, err := scanGuardian(t.q.QueryRow(ctx,
		`SELECT `+guardianColumns+` FROM guardians WHERE address = $1`, addr.String()))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrUnknownGuardian
	}
	if err != nil {
		return nil, fmt.Errorf("get guardian: %w", err)
	}
	return g, nil
}

func (t *tx) SaveGuardian(ctx context.Context, g *guardian.Guardian) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO guardians (`+guardianColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			reputation_score      = EXCLUDED.reputation_score,
			successful_recoveries = EXCLUDED.successful_recoveries,
			failed_attempts       = EXCLUDED.failed_attempts,
			staked_amount         = EXCLUDED.staked_amount,
			last_activity_time    = EXCLUDED.last_activity_time,
			is_active             = EXCLUDED.is_active,
			total_endorsements    = EXCLUDED.total_endorsements`,
		g.Address.String(), g.ReputationScore, g.SuccessfulRecoveries, g.FailedAttempts,
		g.StakedAmount.Int64(), g.LastActivityTime, g.IsActive, g.TotalEndorsements, g.EnrolledAt)
	if err != nil {
		return fmt.Errorf("save guardian: %w", err)
	}
	return nil
}

// ScanGuardians reads the whole result before calling fn so fn may use the tx
func (t *tx) ScanGuardians(ctx context.Context, fn func(*guardian.Guardian) bool) error {
	rows, err := t.q.Query(ctx, `SELECT `+guardianColumns+` FROM guardians ORDER BY address`)
	if err != nil {
		return fmt.Errorf("scan guardians: %w", err)
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*guardian.Guardian, error) {
		return scanGuardian(row)
	})
	if err != nil {
		return fmt.Errorf("scan guardians: %w", err)
	}
	for _, g := range all {
		if !fn(g) {
			return nil
		}
	}
	return nil
}

func (t *tx) GetTrust(ctx context.Context, truster, trustee values.Address) (*trust.Relation, error) {
	var (
		r        trust.Relation
		from, to string
	)
	err := t.q.QueryRow(ctx, `
		SELECT truster, trustee, trust_level, established_at, last_interaction
		FROM trust_relations WHERE truster = $1 AND trustee = $2`,
		truster.String(), trustee.String(),
	).Scan(&from, &to, &r.TrustLevel, &r.EstablishedAt, &r.LastInteraction)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrTrustNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trust: %w", err)
	}
	r.Truster, r.Trustee = values.Address(from), values.Address(to)
	r.EstablishedAt, r.LastInteraction = utc(r.EstablishedAt), utc(r.LastInteraction)
	return &r, nil
}

func (t *tx) SaveTrust(ctx context.Context, r *trust.Relation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO trust_relations (truster, trustee, trust_level, established_at, last_interaction)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (truster, trustee) DO UPDATE SET
			trust_level      = EXCLUDED.trust_level,
			last_interaction = EXCLUDED.last_interaction`,
		r.Truster.String(), r.Trustee.String(), r.TrustLevel, r.EstablishedAt, r.LastInteraction)
	if err != nil {
		return fmt.Errorf("save trust: %w", err)
	}
	return nil
}

func (t *tx) GetAccountConfig(ctx context.Context, account values.Address) (*recovery.AccountConfig, error) {
	var (
		c       recovery.AccountConfig
		trusted []string
	)
	err := t.q.QueryRow(ctx, `
		SELECT preferred_strategy, trusted_guardians, recovery_threshold,
			allow_network_guardians, min_guardian_reputation, updated_at
		FROM account_configs WHERE account_address = $1`, account.String(),
	).Scan(&c.PreferredStrategy, &trusted, &c.RecoveryThreshold,
		&c.AllowNetworkGuardians, &c.MinGuardianReputation, &c.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account config: %w", err)
	}

	c.AccountAddress = account
	c.TrustedGuardians = values.NewAddressSet()
	for _, a := range trusted {
		c.TrustedGuardians.Add(values.Address(a))
	}
	c.UpdatedAt = utc(c.UpdatedAt)
	return &c, nil
}

func (t *tx) SaveAccountConfig(ctx context.Context, c *recovery.AccountConfig) error {
	trusted := make([]string, 0, len(c.TrustedGuardians))
	for _, a := range c.TrustedGuardians.Slice() {
		trusted = append(trusted, a.String())
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO account_configs (account_address, preferred_strategy, trusted_guardians,
			recovery_threshold, allow_network_guardians, min_guardian_reputation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_address) DO UPDATE SET
			preferred_strategy      = EXCLUDED.preferred_strategy,
			trusted_guardians       = EXCLUDED.trusted_guardians,
			recovery_threshold      = EXCLUDED.recovery_threshold,
			allow_network_guardians = EXCLUDED.allow_network_guardians,
			min_guardian_reputation = EXCLUDED.min_guardian_reputation,
			updated_at              = EXCLUDED.updated_at`,
		c.AccountAddress.String(), c.PreferredStrategy, trusted,
		c.RecoveryThreshold, c.AllowNetworkGuardians, c.MinGuardianReputation, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account config: %w", err)
	}
	return nil
}

const recoveryColumns = `recovery_id, account_address, new_owner, initiator, strategy_id,
	required_confirmations, current_confirmations::text, confirmations, initiated_at,
	expires_at, status, is_emergency, recovery_fee, closed_at`

func scanRecovery(row pgx.Row) (*recovery.Request, error) {
	var (
		r                         recovery.Request
		account, owner, initiator string
		weight, status            string
		confirmations             []byte
		fee                       int64
	)
	err := row.Scan(&r.ID, &account, &owner, &initiator, &r.StrategyID,
		&r.RequiredConfirmations, &weight, &confirmations, &r.InitiatedAt,
		&r.ExpiresAt, &status, &r.IsEmergency, &fee, &r.ClosedAt)
	if err != nil {
		return nil, err
	}

	if r.CurrentConfirmations, err = values.NewWeightFromString(weight); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(confirmations, &r.Confirmations); err != nil {
		return nil, fmt.Errorf("decode confirmations: %w", err)
	}
	r.AccountAddress = values.Address(account)
	r.NewOwner = values.Address(owner)
	r.Initiator = values.Address(initiator)
	r.Status = recovery.Status(status)
	r.RecoveryFee = values.Amount(fee)
	r.InitiatedAt, r.ExpiresAt = utc(r.InitiatedAt), utc(r.ExpiresAt)
	if r.ClosedAt != nil {
		closed := utc(*r.ClosedAt)
		r.ClosedAt = &closed
	}
	return &r, nil
}

func (t *tx) GetRecovery(ctx context.Context, id string) (*recovery.Request, error) {
	r, err := scanRecovery(t.q.QueryRow(ctx,
		`SELECT `+recoveryColumns+` FROM recovery_requests WHERE recovery_id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.ErrRecoveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recovery: %w", err)
	}
	return r, nil
}

func (t *tx) SaveRecovery(ctx context.Context, r *recovery.Request) error {
	confirmations, err := json.Marshal(r.Confirmations)
	if err != nil {
		return fmt.Errorf("encode confirmations: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO recovery_requests (recovery_id, account_address, new_owner, initiator, strategy_id,
			required_confirmations, current_confirmations, confirmations, initiated_at,
			expires_at, status, is_emergency, recovery_fee, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::jsonb, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (recovery_id) DO UPDATE SET
			current_confirmations = EXCLUDED.current_confirmations,
			confirmations         = EXCLUDED.confirmations,
			status                = EXCLUDED.status,
			closed_at             = EXCLUDED.closed_at`,
		r.ID, r.AccountAddress.String(), r.NewOwner.String(), r.Initiator.String(), r.StrategyID,
		r.RequiredConfirmations, r.CurrentConfirmations.String(), string(confirmations), r.InitiatedAt,
		r.ExpiresAt, string(r.Status), r.IsEmergency, r.RecoveryFee.Int64(), r.ClosedAt)
	if err != nil {
		return fmt.Errorf("save recovery: %w", err)
	}
	return nil
}

func (t *tx) ScanAccountRecoveries(ctx context.Context, account values.Address, fn func(*recovery.Request) bool) error {
	rows, err := t.q.Query(ctx, `
		SELECT `+recoveryColumns+` FROM recovery_requests
		WHERE account_address = $1 ORDER BY initiated_at, recovery_id`, account.String())
	if err != nil {
		return fmt.Errorf("scan recoveries: %w", err)
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*recovery.Request, error) {
		return scanRecovery(row)
	})
	if err != nil {
		return fmt.Errorf("scan recoveries: %w", err)
	}
	for _, r := range all {
		if !fn(r) {
			return nil
		}
	}
	return nil
}

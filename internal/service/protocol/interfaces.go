package protocol

import (
	"context"
	"iter"
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/trust"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// Service is the guardian recovery protocol. Every mutating call is atomic
// and totally ordered with respect to every other mutating call.
type Service interface {
	// EnrollGuardian stakes tokens and creates or tops up a guardian
	EnrollGuardian(ctx context.Context, req *EnrollRequest) (*guardian.Guardian, error)
	// GetGuardian returns a guardian by address
	GetGuardian(ctx context.Context, addr values.Address) (*guardian.Guardian, error)
	// ListActiveGuardians scans active guardians afresh on every iteration
	ListActiveGuardians(ctx context.Context) iter.Seq2[*guardian.Guardian, error]

	// EstablishTrust upserts a directed trust edge towards an active guardian
	EstablishTrust(ctx context.Context, req *TrustRequest) (*trust.Relation, error)
	// GetTrust returns the edge from truster to trustee
	GetTrust(ctx context.Context, truster, trustee values.Address) (*trust.Relation, error)

	// ConfigureAccountRecovery replaces an account's recovery config
	ConfigureAccountRecovery(ctx context.Context, req *ConfigureRequest) (*recovery.AccountConfig, error)
	// AddTrustedGuardian adds a guardian to an existing config's allowlist
	AddTrustedGuardian(ctx context.Context, account, g values.Address) (*recovery.AccountConfig, error)
	// GetAccountConfig returns an account's recovery config
	GetAccountConfig(ctx context.Context, account values.Address) (*recovery.AccountConfig, error)

	// GetStrategy returns a catalog entry
	GetStrategy(id string) (policy.Strategy, error)
	// ListStrategies returns the whole catalog
	ListStrategies() []policy.Strategy

	// InitiateRecovery opens a recovery request self-confirmed by the initiator
	InitiateRecovery(ctx context.Context, req *InitiateRequest) (*recovery.Request, error)
	// ConfirmRecovery adds the caller's weighted confirmation, executing on quorum.
	// Inapplicable requests yield false with a nil error.
	ConfirmRecovery(ctx context.Context, caller values.Address, recoveryID string) (bool, error)
	// CancelRecovery closes an active request without touching the account
	CancelRecovery(ctx context.Context, caller values.Address, recoveryID string) (bool, error)
	// LiquidateRecovery closes an expired request and penalizes its confirmers
	LiquidateRecovery(ctx context.Context, recoveryID string) (bool, error)
	// GetRecovery returns a request by id
	GetRecovery(ctx context.Context, recoveryID string) (*recovery.Request, error)
	// ActiveRecoveriesForAccount yields ids of confirmable requests for the account
	ActiveRecoveriesForAccount(ctx context.Context, account values.Address) iter.Seq2[string, error]

	// SlashGuardian applies the governance penalty to a guardian
	SlashGuardian(ctx context.Context, req *SlashRequest) (*guardian.Guardian, error)
}

// Store runs protocol operations against persistent state
type Store interface {
	// WithinTx runs fn atomically; any error discards every write made by fn.
	// Calls are serialized against each other and fn runs once. Ledger and
	// hook calls made by fn carry idempotency keys that stay the same if a
	// store ever replays it.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn against a consistent read-only snapshot
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of aggregate repositories visible inside a Store call
type Tx interface {
	GuardianRepository
	TrustRepository
	AccountConfigRepository
	RecoveryRepository
}

// GuardianRepository stores guardians by address
type GuardianRepository interface {
	// GetGuardian returns errors.ErrUnknownGuardian when absent
	GetGuardian(ctx context.Context, addr values.Address) (*guardian.Guardian, error)
	SaveGuardian(ctx context.Context, g *guardian.Guardian) error
	// ScanGuardians calls fn for every guardian until fn returns false
	ScanGuardians(ctx context.Context, fn func(*guardian.Guardian) bool) error
}

// TrustRepository stores trust edges by (truster, trustee)
type TrustRepository interface {
	// GetTrust returns errors.ErrTrustNotFound when absent
	GetTrust(ctx context.Context, truster, trustee values.Address) (*trust.Relation, error)
	SaveTrust(ctx context.Context, r *trust.Relation) error
}

// AccountConfigRepository stores one config per account
type AccountConfigRepository interface {
	// GetAccountConfig returns errors.ErrConfigNotFound when absent
	GetAccountConfig(ctx context.Context, account values.Address) (*recovery.AccountConfig, error)
	SaveAccountConfig(ctx context.Context, c *recovery.AccountConfig) error
}

// RecoveryRepository stores recovery requests by id
type RecoveryRepository interface {
	// GetRecovery returns errors.ErrRecoveryNotFound when absent
	GetRecovery(ctx context.Context, id string) (*recovery.Request, error)
	SaveRecovery(ctx context.Context, r *recovery.Request) error
	// ScanAccountRecoveries calls fn for every request of the account until fn returns false
	ScanAccountRecoveries(ctx context.Context, account values.Address, fn func(*recovery.Request) bool) error
}

// TokenLedger moves stake and fees. A false result is a failed transfer.
type TokenLedger interface {
	Transfer(ctx context.Context, token string, from, to values.Address, amount values.Amount) (bool, error)
}

// AccountHook is the target account's own recovery entry point.
// A false result means the owner was not replaced.
type AccountHook interface {
	ApplyNewOwner(ctx context.Context, account, newOwner values.Address, recoveryID string) (bool, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key a ledger or hook call must be
// deduplicated by
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}

// Authorizer checks the caller's capabilities carried by ctx
type Authorizer interface {
	// Authorize reports whether the caller may act as principal
	Authorize(ctx context.Context, principal values.Address) (bool, error)
	// AuthorizeGovernance reports whether the caller holds the governance capability
	AuthorizeGovernance(ctx context.Context) (bool, error)
}

// EventPublisher receives events after the operation that produced them commits
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

// GuardianCache holds guardian snapshots for read paths. Entries are
// versioned by a per-guardian generation that Invalidate advances.
type GuardianCache interface {
	// Get returns the cached guardian, or on a miss the generation to fill at
	Get(ctx context.Context, addr values.Address) (g *guardian.Guardian, gen int64, ok bool)
	// Set stores g only if its generation is still gen
	Set(ctx context.Context, g *guardian.Guardian, gen int64)
	Invalidate(ctx context.Context, addrs ...values.Address)
}

// MetricsCollector records protocol activity
type MetricsCollector interface {
	// RecordOperation records a public call and how it ended
	RecordOperation(op, outcome string, duration time.Duration)
	// RecordConfirmation records an accepted confirmation's weight
	RecordConfirmation(weight values.Weight)
	// RecordRecoveryClosed records a request reaching a terminal status
	RecordRecoveryClosed(status recovery.Status)
	// RecordSlash records stake removed by slashing
	RecordSlash(amount values.Amount)
	// RecordPayoutFailure records a fee share that could not be paid
	RecordPayoutFailure()
}

// EnrollRequest stakes tokens for a guardian
type EnrollRequest struct {
	Guardian values.Address `json:"guardian" validate:"required,address"`
	Stake    values.Amount  `json:"stake"`
}

// TrustRequest establishes a trust edge
type TrustRequest struct {
	Truster    values.Address `json:"truster" validate:"required,address"`
	Trustee    values.Address `json:"trustee" validate:"required,address"`
	TrustLevel int            `json:"trust_level"`
}

// ConfigureRequest replaces an account's recovery config
type ConfigureRequest struct {
	Account               values.Address `json:"account" validate:"required,address"`
	PreferredStrategy     string         `json:"preferred_strategy"`
	RecoveryThreshold     int            `json:"recovery_threshold"`
	AllowNetworkGuardians bool           `json:"allow_network_guardians"`
	MinGuardianReputation int            `json:"min_guardian_reputation" validate:"gte=0"`
}

// InitiateRequest opens a recovery
type InitiateRequest struct {
	Initiator   values.Address `json:"initiator" validate:"required,address"`
	Account     values.Address `json:"account" validate:"required,address"`
	NewOwner    values.Address `json:"new_owner" validate:"required,address"`
	StrategyID  string         `json:"strategy_id"`
	IsEmergency bool           `json:"is_emergency"`
	RecoveryFee values.Amount  `json:"recovery_fee"`
}

// SlashRequest penalizes a guardian
type SlashRequest struct {
	Guardian values.Address `json:"guardian" validate:"required,address"`
	Reason   string         `json:"reason" validate:"required,max=512"`
}

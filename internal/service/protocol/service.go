package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// Operation outcomes reported to metrics
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Dependencies wires a protocol instance. Publisher, Cache, Metrics, Clock
// and Logger are optional.
type Dependencies struct {
	Store      Store
	Ledger     TokenLedger
	Hook       AccountHook
	Authorizer Authorizer
	Publisher  EventPublisher
	Cache      GuardianCache
	Metrics    MetricsCollector
	Catalog    *policy.Catalog
	Params     policy.Params
	Clock      clock.Clock
	Logger     *zap.Logger
}

// service implements the Service interface
type service struct {
	store     Store
	ledger    TokenLedger
	hook      AccountHook
	authz     Authorizer
	publisher EventPublisher
	cache     GuardianCache
	metrics   MetricsCollector
	catalog   *policy.Catalog
	params    policy.Params
	clock     clock.Clock
	logger    *zap.Logger
	tracer    trace.Tracer
	validate  *validator.Validate
}

// NewService creates a protocol instance
func NewService(deps Dependencies) (Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("token ledger is required")
	case deps.Hook == nil:
		return nil, fmt.Errorf("account hook is required")
	case deps.Authorizer == nil:
		return nil, fmt.Errorf("authorizer is required")
	}
	if err := deps.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid protocol params: %w", err)
	}

	catalog := deps.Catalog
	if catalog == nil {
		var err error
		if catalog, err = policy.NewCatalog(deps.Params); err != nil {
			return nil, err
		}
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		store:     deps.Store,
		ledger:    deps.Ledger,
		hook:      deps.Hook,
		authz:     deps.Authorizer,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		catalog:   catalog,
		params:    deps.Params,
		clock:     clk,
		logger:    logger.Named("protocol"),
		tracer:    otel.Tracer("service.protocol"),
		validate:  NewValidator(),
	}, nil
}

// NewValidator returns a validator that understands the "address" tag
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("address", func(fl validator.FieldLevel) bool {
		_, err := values.NewAddress(fl.Field().String())
		return err == nil
	})
	return v
}

// outcome collects the side effects of one operation. They are released
// only after the operation commits.
type outcome struct {
	events         []events.Event
	touched        []values.Address
	closed         []recovery.Status
	weights        []values.Weight
	slashed        values.Amount
	payoutFailures int
	rejected       bool
}

func (o *outcome) emit(e events.Event) {
	o.events = append(o.events, e)
}

func (o *outcome) touch(addrs ...values.Address) {
	o.touched = append(o.touched, addrs...)
}

// reject marks a state conflict: the call returns false and writes nothing
func (o *outcome) reject() error {
	o.rejected = true
	return nil
}

// mutate runs fn in a store transaction and releases its side effects on commit
func (s *service) mutate(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, tx Tx, o *outcome) error) (*outcome, error) {
	ctx, span := s.tracer.Start(ctx, "protocol."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := s.clock.Now()
	ctx = context.WithValue(ctx, operationKey{}, uuid.NewString())
	o := &outcome{}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		*o = outcome{}
		return fn(ctx, tx, o)
	})

	result := outcomeApplied
	switch {
	case err != nil:
		result = outcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case o.rejected:
		result = outcomeRejected
	}
	if s.metrics != nil {
		s.metrics.RecordOperation(op, result, s.clock.Since(start))
	}
	if err != nil {
		return nil, err
	}

	s.release(ctx, o)
	return o, nil
}

func (s *service) release(ctx context.Context, o *outcome) {
	if s.cache != nil && len(o.touched) > 0 {
		s.cache.Invalidate(ctx, o.touched...)
	}
	if s.metrics != nil {
		for _, w := range o.weights {
			s.metrics.RecordConfirmation(w)
		}
		for _, st := range o.closed {
			s.metrics.RecordRecoveryClosed(st)
		}
		if o.slashed > 0 {
			s.metrics.RecordSlash(o.slashed)
		}
		for i := 0; i < o.payoutFailures; i++ {
			s.metrics.RecordPayoutFailure()
		}
	}
	if s.publisher != nil {
		for _, e := range o.events {
			s.publisher.Publish(ctx, e)
		}
	}
}

type operationKey struct{}

// callKey names one external call of the current operation. It is stable
// for the lifetime of the operation and unique across operations.
func callKey(ctx context.Context, parts ...string) string {
	op, _ := ctx.Value(operationKey{}).(string)
	if op == "" {
		op = uuid.NewString()
	}
	return op + ":" + strings.Join(parts, ":")
}

func (s *service) authorize(ctx context.Context, principal values.Address) error {
	ok, err := s.authz.Authorize(ctx, principal)
	if err != nil {
		return errors.ErrUnauthorized.WithCause(err)
	}
	if !ok {
		return errors.ErrUnauthorized
	}
	return nil
}

func (s *service) authorizeGovernance(ctx context.Context) error {
	ok, err := s.authz.AuthorizeGovernance(ctx)
	if err != nil {
		return errors.ErrNotGovernance.WithCause(err)
	}
	if !ok {
		return errors.ErrNotGovernance
	}
	return nil
}

func (s *service) validateStruct(req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return errors.ErrInvalidInput.WithCause(err)
	}
	return nil
}

// transfer moves stake-token value; both a false result and an error are failures
func (s *service) transfer(ctx context.Context, purpose string, from, to values.Address, amount values.Amount) error {
	ctx = WithIdempotencyKey(ctx, callKey(ctx, purpose, from.String(), to.String()))
	ok, err := s.ledger.Transfer(ctx, s.params.StakeToken, from, to, amount)
	if err != nil {
		return errors.ErrTransferFailed.WithCause(err).WithDetails(map[string]interface{}{
			"from": from.String(), "to": to.String(), "amount": amount.Int64(),
		})
	}
	if !ok {
		return errors.ErrTransferFailed.WithDetails(map[string]interface{}{
			"from": from.String(), "to": to.String(), "amount": amount.Int64(),
		})
	}
	return nil
}

func (s *service) now() time.Time {
	return s.clock.Now().UTC()
}

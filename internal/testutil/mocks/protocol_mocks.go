package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// TokenLedger mock
type TokenLedger struct {
	mock.Mock
}

func (m *TokenLedger) Transfer(ctx context.Context, token string, from, to values.Address, amount values.Amount) (bool, error) {
	args := m.Called(ctx, token, from, to, amount)
	return args.Bool(0), args.Error(1)
}

// AccountHook mock
type AccountHook struct {
	mock.Mock
}

func (m *AccountHook) ApplyNewOwner(ctx context.Context, account, newOwner values.Address, recoveryID string) (bool, error) {
	args := m.Called(ctx, account, newOwner, recoveryID)
	return args.Bool(0), args.Error(1)
}

// Authorizer mock
type Authorizer struct {
	mock.Mock
}

func (m *Authorizer) Authorize(ctx context.Context, principal values.Address) (bool, error) {
	args := m.Called(ctx, principal)
	return args.Bool(0), args.Error(1)
}

func (m *Authorizer) AuthorizeGovernance(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

// GuardianCache mock
type GuardianCache struct {
	mock.Mock
}

func (m *GuardianCache) Get(ctx context.Context, addr values.Address) (*guardian.Guardian, int64, bool) {
	args := m.Called(ctx, addr)
	gen := args.Get(1).(int64)
	if args.Get(0) == nil {
		return nil, gen, args.Bool(2)
	}
	return args.Get(0).(*guardian.Guardian), gen, args.Bool(2)
}

func (m *GuardianCache) Set(ctx context.Context, g *guardian.Guardian, gen int64) {
	m.Called(ctx, g, gen)
}

func (m *GuardianCache) Invalidate(ctx context.Context, addrs ...values.Address) {
	m.Called(ctx, addrs)
}

// EventRecorder captures published events in order
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything published so far
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType filters recorded events by type
func (r *EventRecorder) OfType(t events.Type) []events.Event {
	var out []events.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MetricsRecorder counts collector calls
type MetricsRecorder struct {
	mu             sync.Mutex
	Operations     map[string]int
	Confirmations  []values.Weight
	Closed         map[recovery.Status]int
	Slashed        values.Amount
	PayoutFailures int
}

func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{
		Operations: make(map[string]int),
		Closed:     make(map[recovery.Status]int),
	}
}

func (m *MetricsRecorder) RecordOperation(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Operations[op+"/"+outcome]++
}

func (m *MetricsRecorder) RecordConfirmation(w values.Weight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirmations = append(m.Confirmations, w)
}

func (m *MetricsRecorder) RecordRecoveryClosed(status recovery.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed[status]++
}

func (m *MetricsRecorder) RecordSlash(amount values.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Slashed += amount
}

func (m *MetricsRecorder) RecordPayoutFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PayoutFailures++
}

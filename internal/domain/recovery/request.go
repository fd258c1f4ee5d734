package recovery

import (
	"time"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

// Status is the lifecycle position of a recovery request
type Status string

const (
	StatusActive    Status = "active"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Confirmation is one guardian's weighted vote on a request
type Confirmation struct {
	Guardian    values.Address `json:"guardian"`
	Weight      values.Weight  `json:"weight"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
}

// Request is a pending or finished attempt to replace an account's owner.
// CurrentConfirmations never decreases, and a terminal request is never mutated again.
type Request struct {
	ID                    string         `json:"recovery_id"`
	AccountAddress        values.Address `json:"account_address"`
	NewOwner              values.Address `json:"new_owner"`
	Initiator             values.Address `json:"initiator"`
	StrategyID            string         `json:"strategy_id"`
	RequiredConfirmations int            `json:"required_confirmations"`
	CurrentConfirmations  values.Weight  `json:"current_confirmations"`
	Confirmations         []Confirmation `json:"confirmations"`
	InitiatedAt           time.Time      `json:"initiated_at"`
	ExpiresAt             time.Time      `json:"expires_at"`
	Status                Status         `json:"status"`
	IsEmergency           bool           `json:"is_emergency"`
	RecoveryFee           values.Amount  `json:"recovery_fee"`
	ClosedAt              *time.Time     `json:"closed_at,omitempty"`
}

// NewRequestParams groups the inputs of NewRequest
type NewRequestParams struct {
	ID                    string
	Account               values.Address
	NewOwner              values.Address
	Initiator             values.Address
	StrategyID            string
	RequiredConfirmations int
	IsEmergency           bool
	RecoveryFee           values.Amount
	InitiatedAt           time.Time
	Timeout               time.Duration
}

// NewRequest creates an active request self-confirmed by its initiator with unit weight
func NewRequest(p NewRequestParams) *Request {
	return &Request{
		ID:                    p.ID,
		AccountAddress:        p.Account,
		NewOwner:              p.NewOwner,
		Initiator:             p.Initiator,
		StrategyID:            p.StrategyID,
		RequiredConfirmations: p.RequiredConfirmations,
		CurrentConfirmations:  values.NewWeight(1),
		Confirmations: []Confirmation{{
			Guardian:    p.Initiator,
			Weight:      values.NewWeight(1),
			ConfirmedAt: p.InitiatedAt,
		}},
		InitiatedAt: p.InitiatedAt,
		ExpiresAt:   p.InitiatedAt.Add(p.Timeout),
		Status:      StatusActive,
		IsEmergency: p.IsEmergency,
		RecoveryFee: p.RecoveryFee,
	}
}

// IsTerminal reports whether the request was executed, cancelled or liquidated
func (r *Request) IsTerminal() bool {
	return r.Status != StatusActive
}

// IsExpired reports whether the confirmation window has passed
func (r *Request) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// EffectiveStatus derives expiry lazily for requests nobody has liquidated
func (r *Request) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusActive && r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}

// IsConfirmable reports whether the request still accepts confirmations
func (r *Request) IsConfirmable(now time.Time) bool {
	return r.EffectiveStatus(now) == StatusActive
}

func (r *Request) HasConfirmed(guardian values.Address) bool {
	for _, c := range r.Confirmations {
		if c.Guardian == guardian {
			return true
		}
	}
	return false
}

// ConfirmedBy lists confirming addresses in confirmation order
func (r *Request) ConfirmedBy() []values.Address {
	out := make([]values.Address, 0, len(r.Confirmations))
	for _, c := range r.Confirmations {
		out = append(out, c.Guardian)
	}
	return out
}

// ThresholdReached reports whether accumulated weight meets the requirement
func (r *Request) ThresholdReached() bool {
	return r.CurrentConfirmations.GreaterThanOrEqual(values.NewWeight(int64(r.RequiredConfirmations)))
}

// AddConfirmation records a weighted confirmation. It returns false without
// mutating anything when the request is not confirmable or the guardian
// has already confirmed.
func (r *Request) AddConfirmation(guardian values.Address, weight values.Weight, now time.Time) bool {
	if !r.IsConfirmable(now) || r.HasConfirmed(guardian) {
		return false
	}
	r.Confirmations = append(r.Confirmations, Confirmation{
		Guardian:    guardian,
		Weight:      weight,
		ConfirmedAt: now,
	})
	r.CurrentConfirmations = r.CurrentConfirmations.Add(weight)
	return true
}

func (r *Request) close(status Status, now time.Time) bool {
	if r.IsTerminal() {
		return false
	}
	r.Status = status
	r.ClosedAt = &now
	return true
}

// MarkExecuted closes the request after the account applied the new owner
func (r *Request) MarkExecuted(now time.Time) bool {
	return r.close(StatusExecuted, now)
}

// MarkCancelled closes the request without touching the account
func (r *Request) MarkCancelled(now time.Time) bool {
	return r.close(StatusCancelled, now)
}

// MarkExpired closes a request whose window has passed
func (r *Request) MarkExpired(now time.Time) bool {
	if !r.IsExpired(now) {
		return false
	}
	return r.close(StatusExpired, now)
}

// CanCancel reports whether caller is a party allowed to cancel
func (r *Request) CanCancel(caller values.Address) bool {
	return caller == r.Initiator || caller == r.AccountAddress
}

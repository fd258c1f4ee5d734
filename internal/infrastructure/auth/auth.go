// Package auth issues and verifies bearer tokens and turns their claims into
// protocol capabilities.
package auth

import (
	"context"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// ScopeGovernance grants slashing and liquidation
const ScopeGovernance = "governance"

// Claims identify the caller. Subject is the caller's own address and
// ActAs lists further addresses the caller may act for.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
	ActAs  []string `json:"act_as,omitempty"`
}

// Principal is the caller's own address
func (c *Claims) Principal() values.Address {
	return values.Address(c.Subject)
}

// CanActAs reports whether the caller may act as addr
func (c *Claims) CanActAs(addr values.Address) bool {
	if addr.IsZero() {
		return false
	}
	return c.Subject == addr.String() || slices.Contains(c.ActAs, addr.String())
}

// HasScope reports whether the token carries scope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

type claimsKey struct{}

// WithClaims attaches verified claims to ctx
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the verified claims carried by ctx, if any
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

var _ protocol.Authorizer = ClaimsAuthorizer{}

// ClaimsAuthorizer answers capability checks from the claims in ctx.
// A context without claims is authorized for nothing.
type ClaimsAuthorizer struct{}

func (ClaimsAuthorizer) Authorize(ctx context.Context, principal values.Address) (bool, error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return false, nil
	}
	return c.CanActAs(principal), nil
}

func (ClaimsAuthorizer) AuthorizeGovernance(ctx context.Context) (bool, error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return false, nil
	}
	return c.HasScope(ScopeGovernance), nil
}

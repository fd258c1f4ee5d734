package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/davidleathers/guardian-recovery/internal/domain/values"
)

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Config controls token issuance and verification
type Config struct {
	Secret      []byte
	Issuer      string
	TokenExpiry time.Duration
	// CacheSize bounds the verified-token cache
	CacheSize int
	Clock     clock.Clock
}

// Tokens mints and verifies HS256 tokens. Verified tokens are cached until
// they expire so hot callers skip signature checks.
type Tokens struct {
	secret []byte
	issuer string
	expiry time.Duration
	clock  clock.Clock
	parser *jwt.Parser
	cache  *lru.Cache[string, *Claims]
}

func NewTokens(cfg Config) (*Tokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.TokenExpiry <= 0 {
		return nil, fmt.Errorf("token expiry must be positive")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *Claims](size)
	if err != nil {
		return nil, fmt.Errorf("creating token cache: %w", err)
	}

	return &Tokens{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		expiry: cfg.TokenExpiry,
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clk.Now),
		),
		cache: cache,
	}, nil
}

// Mint issues a token for subject with the given scopes and delegations
func (t *Tokens) Mint(subject values.Address, scopes []string, actAs ...values.Address) (string, error) {
	if subject.IsZero() {
		return "", fmt.Errorf("subject is required")
	}
	now := t.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scopes: scopes,
	}
	for _, a := range actAs {
		claims.ActAs = append(claims.ActAs, a.String())
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses and validates raw, returning its claims
func (t *Tokens) Verify(raw string) (*Claims, error) {
	if c, ok := t.cache.Get(raw); ok {
		if c.ExpiresAt != nil && t.clock.Now().Before(c.ExpiresAt.Time) {
			return c, nil
		}
		t.cache.Remove(raw)
		return nil, ErrInvalidToken
	}

	var claims Claims
	token, err := t.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	t.cache.Add(raw, &claims)
	return &claims, nil
}

// Package chain talks to the token ledger and to recoverable accounts over
// HTTP. Both are external systems the protocol does not own.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// RetryPolicy bounds retries of transport failures and retryable statuses
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}
}

// Config locates an endpoint
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   RetryPolicy
}

// client posts JSON commands. Every logical command carries one
// Idempotency-Key across its retries.
type client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	retry   RetryPolicy
	logger  *zap.Logger
}

func newClient(cfg Config, logger *zap.Logger, name string) (*client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		retry:   cfg.Retry,
		logger:  logger.Named(name),
	}, nil
}

// rejection is a definitive non-2xx answer; retrying would not change it
type rejection struct {
	status int
	body   string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("rejected with status %d: %s", r.status, r.body)
}

// post sends body to path and decodes the 2xx response into out
func (c *client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternalError("failed to marshal request").WithCause(err)
	}
	key, ok := protocol.IdempotencyKey(ctx)
	if !ok {
		key = uuid.NewString()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		retryable, err := c.do(ctx, path, key, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || attempt == c.retry.MaxAttempts {
			break
		}

		c.logger.Warn("retrying chain request",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay(attempt)):
		}
	}
	return lastErr
}

func (c *client) do(ctx context.Context, path, key string, payload []byte, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, errors.NewInternalError("failed to create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "guardiand/1.0")
	req.Header.Set("Idempotency-Key", key)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if isRetryable(resp.StatusCode) {
			return true, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		}
		return false, &rejection{status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return false, nil
}

func (c *client) delay(attempt int) time.Duration {
	d := c.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.retry.BackoffFactor)
		if d > c.retry.MaxDelay {
			return c.retry.MaxDelay
		}
	}
	return d
}

func isRetryable(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

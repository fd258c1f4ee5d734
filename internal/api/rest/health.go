package rest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const healthTimeout = 3 * time.Second

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check concurrently. Any failure turns the
// answer into 503.
func healthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.Handler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			healthy = true
			results = make(map[string]string, len(names))
		)
		for _, name := range names {
			wg.Add(1)
			go func(name string, check HealthCheck) {
				defer wg.Done()
				status := "ok"
				if err := check(ctx); err != nil {
					logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
					status = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[name] = status
				if status != "ok" {
					healthy = false
				}
			}(name, checks[name])
		}
		wg.Wait()

		resp := HealthResponse{Status: "ok", Checks: results}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

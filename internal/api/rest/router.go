package rest

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/config"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// Config wires the API. Events, Gatherer, Contract, Checks and Recorders
// are optional.
type Config struct {
	Service   protocol.Service
	Tokens    *auth.Tokens
	RateLimit config.RateLimitConfig

	// Events serves the websocket event feed
	Events    http.Handler
	Gatherer  prometheus.Gatherer
	Contract  *ContractValidator
	Checks    map[string]HealthCheck
	Recorders []RequestRecorder
	Logger    *zap.Logger
}

type router struct {
	mux       *http.ServeMux
	handlers  *Handlers
	auth      Middleware
	limit     Middleware
	recorders []RequestRecorder
	logger    *zap.Logger
}

// route registers a pattern. Authenticated routes verify the bearer token
// before the caller's rate limit is charged.
func (rt *router) route(pattern string, h http.Handler, authenticated bool) {
	mws := []Middleware{instrument(pattern, rt.logger, rt.recorders)}
	if authenticated {
		mws = append(mws, rt.auth)
	}
	mws = append(mws, rt.limit)
	rt.mux.Handle(pattern, Chain(h, mws...))
}

func (rt *router) api(pattern string, fn apiFunc, authenticated bool) {
	rt.route(pattern, rt.handlers.serve(fn), authenticated)
}

// NewRouter builds the HTTP API
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rest")

	limiter, err := NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize, 0)
	if err != nil {
		return nil, err
	}

	rt := &router{
		mux:       http.NewServeMux(),
		handlers:  NewHandlers(cfg.Service, logger),
		auth:      AuthMiddleware(cfg.Tokens, logger),
		limit:     limiter.Middleware(logger),
		recorders: cfg.Recorders,
		logger:    logger,
	}
	h := rt.handlers

	rt.api("GET /v1/guardians", h.listGuardians, true)
	rt.api("POST /v1/guardians", h.enrollGuardian, true)
	rt.api("GET /v1/guardians/{address}", h.getGuardian, true)
	rt.api("POST /v1/guardians/{address}/slash", h.slashGuardian, true)

	rt.api("POST /v1/trust", h.establishTrust, true)
	rt.api("GET /v1/trust/{truster}/{trustee}", h.getTrust, true)

	rt.api("GET /v1/accounts/{account}/recovery-config", h.getAccountConfig, true)
	rt.api("PUT /v1/accounts/{account}/recovery-config", h.configureAccount, true)
	rt.api("POST /v1/accounts/{account}/trusted-guardians", h.addTrustedGuardian, true)
	rt.api("GET /v1/accounts/{account}/recoveries", h.accountRecoveries, true)

	rt.api("GET /v1/strategies", h.listStrategies, false)
	rt.api("GET /v1/strategies/{id}", h.getStrategy, false)

	rt.api("POST /v1/recoveries", h.initiateRecovery, true)
	rt.api("GET /v1/recoveries/{id}", h.getRecovery, true)
	rt.api("POST /v1/recoveries/{id}/confirm", h.confirmRecovery, true)
	rt.api("POST /v1/recoveries/{id}/cancel", h.cancelRecovery, true)
	rt.api("POST /v1/recoveries/{id}/liquidate", h.liquidateRecovery, true)

	if cfg.Events != nil {
		rt.route("GET /v1/events/ws", cfg.Events, true)
	}

	rt.mux.Handle("GET /v1/openapi.yaml", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(OpenAPIDocument())
	}))
	rt.mux.Handle("GET /healthz", healthHandler(cfg.Checks, logger))
	if cfg.Gatherer != nil {
		rt.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mws := []Middleware{RecoveryMiddleware(logger)}
	if cfg.Contract != nil {
		mws = append(mws, cfg.Contract.Middleware(logger))
	}
	return Chain(rt.mux, mws...), nil
}

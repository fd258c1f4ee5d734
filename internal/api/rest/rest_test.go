package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainevents "github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/recovery"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/config"
	eventbus "github.com/davidleathers/guardian-recovery/internal/infrastructure/events"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/kvstore"
	"github.com/davidleathers/guardian-recovery/internal/metrics"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
	"github.com/davidleathers/guardian-recovery/internal/testutil/mocks"
)

type testAPI struct {
	server   *httptest.Server
	tokens   *auth.Tokens
	ledger   *mocks.TokenLedger
	hook     *mocks.AccountHook
	bus      *eventbus.Bus
	registry *prometheus.Registry
}

type apiOption func(cfg *Config)

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := kvstore.Open(kvstore.InMemoryConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a := &testAPI{
		ledger:   &mocks.TokenLedger{},
		hook:     &mocks.AccountHook{},
		bus:      eventbus.NewBus(16, logger),
		registry: prometheus.NewRegistry(),
	}
	t.Cleanup(a.bus.Close)
	a.ledger.On("Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
	a.hook.On("ApplyNewOwner", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()

	a.tokens, err = auth.NewTokens(auth.Config{
		Secret:      []byte("test-secret"),
		Issuer:      "guardiand-test",
		TokenExpiry: time.Hour,
		CacheSize:   64,
	})
	require.NoError(t, err)

	prom := metrics.NewPrometheus(a.registry)
	svc, err := protocol.NewService(protocol.Dependencies{
		Store:      store,
		Ledger:     a.ledger,
		Hook:       a.hook,
		Authorizer: auth.ClaimsAuthorizer{},
		Publisher:  a.bus,
		Metrics:    prom,
		Params:     policy.DefaultParams(),
		Logger:     logger,
	})
	require.NoError(t, err)

	contract, err := NewContractValidator()
	require.NoError(t, err)

	cfg := Config{
		Service:   svc,
		Tokens:    a.tokens,
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Events:    eventbus.NewHub(a.bus, eventbus.DefaultHubConfig(), logger),
		Gatherer:  a.registry,
		Contract:  contract,
		Recorders: []RequestRecorder{prom},
		Logger:    logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler, err := NewRouter(cfg)
	require.NoError(t, err)
	a.server = httptest.NewServer(handler)
	t.Cleanup(a.server.Close)
	return a
}

func (a *testAPI) token(t *testing.T, sub values.Address, scopes ...string) string {
	t.Helper()
	tok, err := a.tokens.Mint(sub, scopes)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error.Code
}

func (a *testAPI) enroll(t *testing.T, addr values.Address) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/v1/guardians", a.token(t, addr),
		map[string]interface{}{"guardian": addr, "stake": 100})
	require.Equal(t, http.StatusOK, status, string(body))
}

func TestAPI_Authentication(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "wrong scheme", header: "Basic " + a.token(t, "alice")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, a.server.URL+"/v1/guardians", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := a.server.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	t.Run("valid", func(t *testing.T) {
		status, body := a.do(t, http.MethodGet, "/v1/guardians", a.token(t, "alice"), nil)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"guardians":[]}`, string(body))
	})

	t.Run("public strategies", func(t *testing.T) {
		status, body := a.do(t, http.MethodGet, "/v1/strategies", "", nil)
		require.Equal(t, http.StatusOK, status)
		var list StrategyList
		require.NoError(t, json.Unmarshal(body, &list))
		assert.Len(t, list.Strategies, 3)

		status, body = a.do(t, http.MethodGet, "/v1/strategies/emergency", "", nil)
		require.Equal(t, http.StatusOK, status)
		var st policy.Strategy
		require.NoError(t, json.Unmarshal(body, &st))
		assert.True(t, st.AllowsEmergency)
	})
}

func TestAPI_RecoveryLifecycle(t *testing.T) {
	a := newTestAPI(t)
	for _, g := range []values.Address{"guardian-a", "guardian-b", "guardian-c"} {
		a.enroll(t, g)
	}

	status, body := a.do(t, http.MethodPost, "/v1/recoveries", a.token(t, "guardian-a"), map[string]interface{}{
		"initiator": "guardian-a",
		"account":   "vault-1",
		"new_owner": "owner-2",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created recovery.Request
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, recovery.StatusActive, created.Status)
	assert.Equal(t, 3, created.RequiredConfirmations)

	status, body = a.do(t, http.MethodGet, "/v1/accounts/vault-1/recoveries", a.token(t, "guardian-a"), nil)
	require.Equal(t, http.StatusOK, status)
	var ids RecoveryIDList
	require.NoError(t, json.Unmarshal(body, &ids))
	assert.Equal(t, []string{created.ID}, ids.RecoveryIDs)

	confirm := func(who values.Address) bool {
		status, body := a.do(t, http.MethodPost, "/v1/recoveries/"+created.ID+"/confirm", a.token(t, who), nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var resp AppliedResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		return resp.Applied
	}

	assert.True(t, confirm("guardian-b"))
	assert.False(t, confirm("guardian-b"), "second confirmation by the same guardian")
	assert.True(t, confirm("guardian-c"))

	status, body = a.do(t, http.MethodGet, "/v1/recoveries/"+created.ID, a.token(t, "guardian-a"), nil)
	require.Equal(t, http.StatusOK, status)
	var got recovery.Request
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, recovery.StatusExecuted, got.Status)
	a.hook.AssertCalled(t, "ApplyNewOwner", mock.Anything, values.Address("vault-1"), values.Address("owner-2"), created.ID)

	// executed requests no longer accept confirmations or cancellation
	status, body = a.do(t, http.MethodPost, "/v1/recoveries/"+created.ID+"/cancel", a.token(t, "guardian-a"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"applied":false}`, string(body))
}

func TestAPI_AccountConfiguration(t *testing.T) {
	a := newTestAPI(t)
	a.enroll(t, "guardian-a")
	owner := a.token(t, "vault-1")

	status, body := a.do(t, http.MethodPut, "/v1/accounts/vault-1/recovery-config", owner, map[string]interface{}{
		"preferred_strategy":      "multifactor",
		"allow_network_guardians": true,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = a.do(t, http.MethodPost, "/v1/accounts/vault-1/trusted-guardians", owner,
		map[string]interface{}{"guardian": "guardian-a"})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = a.do(t, http.MethodGet, "/v1/accounts/vault-1/recovery-config", owner, nil)
	require.Equal(t, http.StatusOK, status)
	var cfg recovery.AccountConfig
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, "multifactor", cfg.PreferredStrategy)
	assert.True(t, cfg.TrustedGuardians.Contains("guardian-a"))

	status, body = a.do(t, http.MethodPost, "/v1/trust", owner, map[string]interface{}{
		"truster":     "vault-1",
		"trustee":     "guardian-a",
		"trust_level": 80,
	})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = a.do(t, http.MethodGet, "/v1/trust/vault-1/guardian-a", owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"trust_level":80`)

	// another caller may not configure this account
	status, _ = a.do(t, http.MethodPut, "/v1/accounts/vault-1/recovery-config", a.token(t, "mallory"),
		map[string]interface{}{"preferred_strategy": "standard"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.enroll(t, "guardian-a")
	alice := a.token(t, "guardian-a")

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown guardian",
			method:     http.MethodGet,
			path:       "/v1/guardians/nobody",
			wantStatus: http.StatusNotFound,
			wantCode:   "UNKNOWN_GUARDIAN",
		},
		{
			name:       "stake below minimum",
			method:     http.MethodPost,
			path:       "/v1/guardians",
			body:       map[string]interface{}{"guardian": "guardian-a", "stake": 1},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_STAKE",
		},
		{
			name:       "enroll on behalf of someone else",
			method:     http.MethodPost,
			path:       "/v1/guardians",
			body:       map[string]interface{}{"guardian": "guardian-z", "stake": 100},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "slash without governance",
			method:     http.MethodPost,
			path:       "/v1/guardians/guardian-a/slash",
			body:       map[string]interface{}{"reason": "misbehaved"},
			wantStatus: http.StatusForbidden,
			wantCode:   "NOT_GOVERNANCE",
		},
		{
			name:       "unknown field",
			method:     http.MethodPost,
			path:       "/v1/guardians",
			body:       map[string]interface{}{"guardian": "guardian-a", "stake": 100, "bonus": 1},
			wantStatus: http.StatusBadRequest,
			wantCode:   "CONTRACT_VIOLATION",
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			path:       "/v1/trust",
			body:       `{"truster":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "CONTRACT_VIOLATION",
		},
		{
			name:       "recovery not found",
			method:     http.MethodGet,
			path:       "/v1/recoveries/missing",
			wantStatus: http.StatusNotFound,
			wantCode:   "RECOVERY_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(t, tt.method, tt.path, alice, tt.body)
			assert.Equal(t, tt.wantStatus, status, string(body))
			assert.Equal(t, tt.wantCode, errorCode(t, body))
		})
	}
}

func TestAPI_GovernanceSlash(t *testing.T) {
	a := newTestAPI(t)
	a.enroll(t, "guardian-a")

	status, body := a.do(t, http.MethodPost, "/v1/guardians/guardian-a/slash", a.token(t, "council", auth.ScopeGovernance),
		map[string]interface{}{"reason": "double signing"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"staked_amount":90`)
	assert.Contains(t, string(body), `"is_active":false`)
}

func TestAPI_WithoutContractValidation(t *testing.T) {
	a := newTestAPI(t, func(cfg *Config) { cfg.Contract = nil })

	status, body := a.do(t, http.MethodPost, "/v1/trust", a.token(t, "vault-1"), `{"truster":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_JSON", errorCode(t, body))

	status, body = a.do(t, http.MethodPost, "/v1/guardians", a.token(t, "guardian-a"),
		map[string]interface{}{"guardian": "has space", "stake": 100})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ADDRESS", errorCode(t, body))
}

func TestAPI_RateLimit(t *testing.T) {
	a := newTestAPI(t, func(cfg *Config) {
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2}
	})
	alice := a.token(t, "alice")

	for i := 0; i < 2; i++ {
		status, _ := a.do(t, http.MethodGet, "/v1/guardians", alice, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := a.do(t, http.MethodGet, "/v1/guardians", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, body))

	// buckets are per caller
	status, _ = a.do(t, http.MethodGet, "/v1/guardians", a.token(t, "bob"), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		a := newTestAPI(t, func(cfg *Config) {
			cfg.Checks = map[string]HealthCheck{"store": func(context.Context) error { return nil }}
		})
		status, body := a.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"status":"ok","checks":{"store":"ok"}}`, string(body))
	})

	t.Run("degraded", func(t *testing.T) {
		a := newTestAPI(t, func(cfg *Config) {
			cfg.Checks = map[string]HealthCheck{
				"store": func(context.Context) error { return nil },
				"redis": func(context.Context) error { return stderrors.New("connection refused") },
			}
		})
		status, body := a.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["redis"])
	})
}

func TestAPI_Metrics(t *testing.T) {
	a := newTestAPI(t)
	a.do(t, http.MethodGet, "/v1/strategies", "", nil)
	a.enroll(t, "guardian-a")

	status, body := a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `guardian_api_http_requests_total{method="GET",route="GET /v1/strategies",status="200"} 1`)
	assert.Contains(t, string(body), `guardian_protocol_operations_total{operation="EnrollGuardian",outcome="applied"} 1`)
}

func TestAPI_OpenAPIDocument(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodGet, "/v1/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, OpenAPIDocument(), body)
}

func TestAPI_EventStream(t *testing.T) {
	a := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/v1/events/ws?types=guardian.enrolled&access_token=" + a.token(t, "watcher")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return a.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	a.enroll(t, "guardian-a")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg eventbus.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, domainevents.GuardianEnrolled, msg.Event.Type)
	assert.Equal(t, "guardian-a", msg.Event.Subject)
}

func TestAPI_EventStreamRequiresToken(t *testing.T) {
	a := newTestAPI(t)
	wsURL := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/v1/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewRouter_RequiresCollaborators(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)
}

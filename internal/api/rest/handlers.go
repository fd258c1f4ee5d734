package rest

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
	"github.com/davidleathers/guardian-recovery/internal/domain/guardian"
	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
	"github.com/davidleathers/guardian-recovery/internal/domain/values"
	"github.com/davidleathers/guardian-recovery/internal/infrastructure/auth"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

const maxBodySize = 1 << 20

// apiFunc handles one route and returns the status and body to encode
type apiFunc func(r *http.Request) (int, interface{}, error)

// Handlers adapts the protocol service to HTTP
type Handlers struct {
	svc    protocol.Service
	logger *zap.Logger
}

func NewHandlers(svc protocol.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, logger: logger}
}

func (h *Handlers) serve(fn apiFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, body, err := fn(r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, status, body)
	})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched
// when optional is set.
func decode(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) && optional {
			return nil
		}
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return errInvalidJSON.WithCause(err)
	}
	if dec.InputOffset() > maxBodySize {
		return errBodyTooLarge
	}
	return nil
}

func pathAddress(r *http.Request, name string) (values.Address, error) {
	addr, err := values.NewAddress(r.PathValue(name))
	if err != nil {
		return "", errors.ErrInvalidAddress.WithDetails(map[string]interface{}{"parameter": name})
	}
	return addr, nil
}

// caller is the address a confirm or cancel acts as: the body's "caller"
// when given, else the token subject.
func caller(r *http.Request) (values.Address, error) {
	var body struct {
		Caller values.Address `json:"caller"`
	}
	if err := decode(r, &body, true); err != nil {
		return "", err
	}
	if !body.Caller.IsZero() {
		return body.Caller, nil
	}
	if c, ok := auth.ClaimsFromContext(r.Context()); ok {
		return c.Principal(), nil
	}
	return "", errors.ErrUnauthorized
}

// AppliedResponse answers state-changing calls that may be inapplicable
type AppliedResponse struct {
	Applied bool `json:"applied"`
}

type GuardianList struct {
	Guardians []*guardian.Guardian `json:"guardians"`
}

type StrategyList struct {
	Strategies []policy.Strategy `json:"strategies"`
}

type RecoveryIDList struct {
	RecoveryIDs []string `json:"recovery_ids"`
}

func (h *Handlers) enrollGuardian(r *http.Request) (int, interface{}, error) {
	var req protocol.EnrollRequest
	if err := decode(r, &req, false); err != nil {
		return 0, nil, err
	}
	g, err := h.svc.EnrollGuardian(r.Context(), &req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g, nil
}

func (h *Handlers) listGuardians(r *http.Request) (int, interface{}, error) {
	list := GuardianList{Guardians: []*guardian.Guardian{}}
	for g, err := range h.svc.ListActiveGuardians(r.Context()) {
		if err != nil {
			return 0, nil, err
		}
		list.Guardians = append(list.Guardians, g)
	}
	return http.StatusOK, list, nil
}

func (h *Handlers) getGuardian(r *http.Request) (int, interface{}, error) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		return 0, nil, err
	}
	g, err := h.svc.GetGuardian(r.Context(), addr)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g, nil
}

func (h *Handlers) slashGuardian(r *http.Request) (int, interface{}, error) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		return 0, nil, err
	}
	var req protocol.SlashRequest
	if err := decode(r, &req, false); err != nil {
		return 0, nil, err
	}
	req.Guardian = addr
	g, err := h.svc.SlashGuardian(r.Context(), &req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, g, nil
}

func (h *Handlers) establishTrust(r *http.Request) (int, interface{}, error) {
	var req protocol.TrustRequest
	if err := decode(r, &req, false); err != nil {
		return 0, nil, err
	}
	rel, err := h.svc.EstablishTrust(r.Context(), &req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, rel, nil
}

func (h *Handlers) getTrust(r *http.Request) (int, interface{}, error) {
	truster, err := pathAddress(r, "truster")
	if err != nil {
		return 0, nil, err
	}
	trustee, err := pathAddress(r, "trustee")
	if err != nil {
		return 0, nil, err
	}
	rel, err := h.svc.GetTrust(r.Context(), truster, trustee)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, rel, nil
}

func (h *Handlers) configureAccount(r *http.Request) (int, interface{}, error) {
	account, err := pathAddress(r, "account")
	if err != nil {
		return 0, nil, err
	}
	var req protocol.ConfigureRequest
	if err := decode(r, &req, false); err != nil {
		return 0, nil, err
	}
	req.Account = account
	cfg, err := h.svc.ConfigureAccountRecovery(r.Context(), &req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, cfg, nil
}

func (h *Handlers) getAccountConfig(r *http.Request) (int, interface{}, error) {
	account, err := pathAddress(r, "account")
	if err != nil {
		return 0, nil, err
	}
	cfg, err := h.svc.GetAccountConfig(r.Context(), account)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, cfg, nil
}

func (h *Handlers) addTrustedGuardian(r *http.Request) (int, interface{}, error) {
	account, err := pathAddress(r, "account")
	if err != nil {
		return 0, nil, err
	}
	var body struct {
		Guardian values.Address `json:"guardian"`
	}
	if err := decode(r, &body, false); err != nil {
		return 0, nil, err
	}
	if body.Guardian.IsZero() {
		return 0, nil, errors.ErrInvalidAddress.WithDetails(map[string]interface{}{"field": "guardian"})
	}
	cfg, err := h.svc.AddTrustedGuardian(r.Context(), account, body.Guardian)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, cfg, nil
}

func (h *Handlers) accountRecoveries(r *http.Request) (int, interface{}, error) {
	account, err := pathAddress(r, "account")
	if err != nil {
		return 0, nil, err
	}
	list := RecoveryIDList{RecoveryIDs: []string{}}
	for id, err := range h.svc.ActiveRecoveriesForAccount(r.Context(), account) {
		if err != nil {
			return 0, nil, err
		}
		list.RecoveryIDs = append(list.RecoveryIDs, id)
	}
	return http.StatusOK, list, nil
}

func (h *Handlers) listStrategies(*http.Request) (int, interface{}, error) {
	return http.StatusOK, StrategyList{Strategies: h.svc.ListStrategies()}, nil
}

func (h *Handlers) getStrategy(r *http.Request) (int, interface{}, error) {
	st, err := h.svc.GetStrategy(r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, st, nil
}

func (h *Handlers) initiateRecovery(r *http.Request) (int, interface{}, error) {
	var req protocol.InitiateRequest
	if err := decode(r, &req, false); err != nil {
		return 0, nil, err
	}
	rec, err := h.svc.InitiateRecovery(r.Context(), &req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, rec, nil
}

func (h *Handlers) getRecovery(r *http.Request) (int, interface{}, error) {
	rec, err := h.svc.GetRecovery(r.Context(), r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, rec, nil
}

func (h *Handlers) confirmRecovery(r *http.Request) (int, interface{}, error) {
	who, err := caller(r)
	if err != nil {
		return 0, nil, err
	}
	applied, err := h.svc.ConfirmRecovery(r.Context(), who, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, AppliedResponse{Applied: applied}, nil
}

func (h *Handlers) cancelRecovery(r *http.Request) (int, interface{}, error) {
	who, err := caller(r)
	if err != nil {
		return 0, nil, err
	}
	applied, err := h.svc.CancelRecovery(r.Context(), who, r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, AppliedResponse{Applied: applied}, nil
}

func (h *Handlers) liquidateRecovery(r *http.Request) (int, interface{}, error) {
	applied, err := h.svc.LiquidateRecovery(r.Context(), r.PathValue("id"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, AppliedResponse{Applied: applied}, nil
}

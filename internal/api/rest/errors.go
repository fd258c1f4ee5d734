package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/errors"
)

var (
	errInvalidJSON     = errors.NewValidationError("INVALID_JSON", "request body is not valid JSON")
	errBodyTooLarge    = errors.NewValidationError("BODY_TOO_LARGE", "request body exceeds the size limit")
	errMissingToken    = errors.NewUnauthorizedError("missing bearer token")
	errInvalidToken    = errors.NewUnauthorizedError("invalid or expired token")
	errRateLimited     = &errors.AppError{Type: errors.ErrorTypeBusiness, Code: "RATE_LIMITED", Message: "rate limit exceeded", Retryable: true, StatusCode: http.StatusTooManyRequests}
	errContractFailure = errors.NewValidationError("CONTRACT_VIOLATION", "request does not match the API contract")
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// toErrorResponse maps err onto a status code and body. Unknown errors never
// leak their message to the client.
func toErrorResponse(ctx context.Context, err error) (int, ErrorResponse) {
	var (
		status int
		detail ErrorDetail
	)

	var appErr *errors.AppError
	switch {
	case errors.As(err, &appErr):
		status = appErr.StatusCode
		detail = ErrorDetail{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
	case stderrors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
		detail = ErrorDetail{Code: "REQUEST_CANCELED", Message: "request was canceled"}
	case stderrors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		detail = ErrorDetail{Code: "REQUEST_TIMEOUT", Message: "request timed out", Retryable: true}
	default:
		status = http.StatusInternalServerError
		detail = ErrorDetail{Code: "INTERNAL_ERROR", Message: "an internal error occurred"}
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		detail.TraceID = sc.TraceID().String()
	}
	return status, ErrorResponse{Error: detail}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, body := toErrorResponse(r.Context(), err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

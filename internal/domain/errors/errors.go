package errors

import (
	"errors"
	"fmt"
)

// Error types for the recovery protocol
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels survive
// WithCause and WithDetails copies.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of the error wrapping cause
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func newNotFound(code, resource string) *AppError {
	e := NewNotFoundError(resource)
	e.Code = code
	return e
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewForbiddenError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(code, service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// Protocol errors
var (
	ErrInvalidInput           = NewValidationError("INVALID_INPUT", "invalid input provided")
	ErrInvalidAddress         = NewValidationError("INVALID_ADDRESS", "address must be non-empty and contain no whitespace")
	ErrInvalidStake           = NewValidationError("INVALID_STAKE", "stake amount is below the minimum guardian stake")
	ErrStakeOverflow          = NewValidationError("STAKE_OVERFLOW", "stake top-up would exceed the maximum representable stake")
	ErrInvalidTrustLevel      = NewValidationError("INVALID_TRUST_LEVEL", "trust level must be between 0 and 100")
	ErrInvalidThreshold       = NewValidationError("INVALID_THRESHOLD", "recovery threshold is out of range")
	ErrTooManyGuardians       = NewValidationError("TOO_MANY_GUARDIANS", "trusted guardian set exceeds the maximum size")
	ErrInvalidFee             = NewValidationError("INVALID_FEE", "recovery fee must not be negative")
	ErrUnknownStrategy        = NewValidationError("UNKNOWN_STRATEGY", "recovery strategy does not exist")
	ErrEmergencyNotAllowed    = NewBusinessError("EMERGENCY_NOT_ALLOWED", "strategy does not allow emergency recovery")
	ErrUnauthorized           = NewUnauthorizedError("caller is not authorized to act as this principal")
	ErrNotGovernance          = NewForbiddenError("NOT_GOVERNANCE", "caller does not hold the governance capability")
	ErrNotRecoveryParty       = NewForbiddenError("NOT_RECOVERY_PARTY", "only the initiator or the account may cancel a recovery")
	ErrGuardianInactive       = NewForbiddenError("GUARDIAN_INACTIVE", "guardian is not active")
	ErrInsufficientReputation = NewForbiddenError("INSUFFICIENT_REPUTATION", "guardian reputation is below the required floor")
	ErrGuardianNotTrusted     = NewForbiddenError("GUARDIAN_NOT_TRUSTED", "account only accepts confirmations from trusted guardians")
	ErrUnknownGuardian        = newNotFound("UNKNOWN_GUARDIAN", "guardian")
	ErrConfigNotFound         = newNotFound("CONFIG_NOT_FOUND", "account recovery config")
	ErrRecoveryNotFound       = newNotFound("RECOVERY_NOT_FOUND", "recovery request")
	ErrTrustNotFound          = newNotFound("TRUST_NOT_FOUND", "trust relation")
	ErrRecoveryNotExpired     = NewConflictError("RECOVERY_NOT_EXPIRED", "recovery request has not expired")
	ErrTransferFailed         = NewExternalError("TRANSFER_FAILED", "ledger", "token transfer failed")
	ErrExecutionFailed        = NewExternalError("EXECUTION_FAILED", "account", "account recovery hook did not apply the new owner")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

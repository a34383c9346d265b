package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error kinds. Every AppError wraps exactly one of these so callers can classify with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotImplemented    = errors.New("not implemented")
	ErrEngine            = errors.New("extraction engine failed")
	ErrEngineBilling     = fmt.Errorf("%w: billing or permission", ErrEngine)
	ErrEngineUnavailable = errors.New("extraction engine not configured")
	ErrInternal          = errors.New("internal error")
)

// Machine-readable codes surfaced to clients.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeEngineFailure     = "ENGINE_FAILURE"
	CodeEngineBilling     = "ENGINE_BILLING"
	CodeEngineUnavailable = "ENGINE_NOT_CONFIGURED"
	CodeInternal          = "INTERNAL_ERROR"
)

// NewAppError builds an AppError. cause should wrap one of the Err* kinds.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func ValidationError(message string) error {
	return NewAppError(CodeValidation, message, ErrValidation)
}

func ValidationErrorf(format string, args ...any) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

func PayloadTooLargeError(limitBytes int64) error {
	return NewAppError(CodePayloadTooLarge, fmt.Sprintf("file size exceeds %dMB", limitBytes>>20), ErrPayloadTooLarge)
}

func UnauthorizedError(message string) error {
	return NewAppError(CodeUnauthorized, message, ErrUnauthorized)
}

func NotImplementedError(message string) error {
	return NewAppError(CodeNotImplemented, message, ErrNotImplemented)
}

func EngineError(message string) error {
	return NewAppError(CodeEngineFailure, message, ErrEngine)
}

func EngineBillingError(message string) error {
	return NewAppError(CodeEngineBilling, message, ErrEngineBilling)
}

func EngineUnavailableError(message string) error {
	return NewAppError(CodeEngineUnavailable, message, ErrEngineUnavailable)
}

func InternalError(message string) error {
	return NewAppError(CodeInternal, message, ErrInternal)
}

func InternalErrorf(format string, args ...any) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ErrorCode returns the client-facing code for err. Errors that are not AppErrors are internal.
func ErrorCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// ErrorMessage returns the client-facing message for err.
func ErrorMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

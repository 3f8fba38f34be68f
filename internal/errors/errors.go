// Package errors provides the service error model shared by HTTP handlers,
// middleware and domain services.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeInvalidInput ErrorCode = "INVALID_FORMAT"
	CodeAuthRequired ErrorCode = "AUTH_REQUIRED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeRateLimited  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries a code, a client-safe message and the HTTP status used
// when the error crosses the API boundary.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// New creates a ServiceError.
func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError with the same code, so wrapped copies produced by
// WithDetails or Wrap still satisfy errors.Is against the sentinel.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := e.clone()
	if cp.Details == nil {
		cp.Details = make(map[string]interface{})
	}
	cp.Details[key] = value
	return cp
}

// Wrap returns a copy of e with err attached as cause.
func (e *ServiceError) Wrap(err error) *ServiceError {
	cp := e.clone()
	cp.Err = err
	return cp
}

func (e *ServiceError) clone() *ServiceError {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// BadRequest reports malformed client input.
func BadRequest(message string) *ServiceError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

// InvalidFormat reports a field that failed to parse.
func InvalidFormat(field, expected string) *ServiceError {
	return New(CodeInvalidInput, fmt.Sprintf("invalid %s", field), http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

// Unauthorized reports a missing or unusable credential.
func Unauthorized(message string) *ServiceError {
	return New(CodeAuthRequired, message, http.StatusUnauthorized)
}

// InvalidToken reports a JWT that failed validation.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{Code: CodeInvalidToken, Message: "invalid or expired token", HTTPStatus: http.StatusUnauthorized, Err: err}
}

// RateLimitExceeded reports a throttled caller. perSecond may be fractional.
func RateLimitExceeded(perSecond float64, burst int) *ServiceError {
	return New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("requests_per_second", perSecond).
		WithDetails("burst", burst)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

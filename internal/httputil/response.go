// Package httputil provides JSON request and response helpers shared by the
// HTTP handlers and middleware.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/R3E-Network/droplink/internal/errors"
)

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error *apperrors.ServiceError `json:"error"`
}

// WriteJSON writes data as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders err. Errors that are not ServiceErrors become a generic
// internal error so causes never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal error", err)
	}
	status := se.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, ErrorBody{Error: se})
}

// DecodeJSON decodes the request body into v, writing a 400 and returning
// false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		BadRequest(w, "empty request body")
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, "empty request body")
		} else {
			WriteError(w, apperrors.BadRequest("invalid JSON body").WithDetails("reason", err.Error()))
		}
		return false
	}
	return true
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, apperrors.BadRequest(message))
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, apperrors.Unauthorized(message))
}

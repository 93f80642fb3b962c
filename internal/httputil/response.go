// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/transit-hubs/internal/monitoring"
	"github.com/banshee-data/transit-hubs/internal/stops"
	"github.com/banshee-data/transit-hubs/internal/unify"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error      string            `json:"error"`
	Violations []stops.Violation `json:"violations,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Diagf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes data with 200 OK.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteError maps err onto a status code: precondition failures are 400,
// an unconfirmed reset is 409, invariant violations are 500 with the
// violations listed, anything else is 500.
func WriteError(w http.ResponseWriter, err error) {
	var inv *unify.InvariantError
	switch {
	case errors.Is(err, stops.ErrPrecondition):
		WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, unify.ErrResetRequired):
		WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &inv):
		monitoring.Opsf("invariant violation served: %v", err)
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: err.Error(), Violations: inv.Violations})
	default:
		monitoring.Opsf("request failed: %v", err)
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

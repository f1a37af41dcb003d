package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/copperline/txgate/model"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a typed error envelope to an HTTP status and writes it.
func writeError(w http.ResponseWriter, err error) {
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) {
		envelope = &model.ErrorEnvelope{
			Code:    model.ErrInternalError,
			Message: "An unexpected error occurred",
		}
	}
	writeJSON(w, statusFor(envelope.Code), envelope)
}

// statusFor maps error codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case model.ErrBadRequest, model.ErrValidationError:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict, model.ErrConcurrencyConflict:
		return http.StatusConflict
	case model.ErrUnknownTenant:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

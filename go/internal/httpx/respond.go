// Package httpx carries the HTTP conventions shared by all services:
// the response envelope, error mapping, guest identity extraction and
// per-client rate limiting.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tabsyteam/tabsy-core/go/internal/apperr"
)

// SessionIDHeader carries the caller's opaque guest session identity
const SessionIDHeader = "x-session-id"

type envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

// WriteData writes a success envelope
func WriteData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// WriteError maps the error onto the wire taxonomy and writes a failure
// envelope. Unrecognized errors become SERVER_ERROR with a generic
// message so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	apiErr := apperr.AsError(err)
	if apiErr == nil {
		log.Error().Err(err).Msg("internal error")
		apiErr = apperr.Server("internal server error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: apiErr}); err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}

// GuestID extracts the caller's guest session identity, or an
// UNAUTHORIZED error if the header is missing
func GuestID(r *http.Request) (string, error) {
	guestID := r.Header.Get(SessionIDHeader)
	if guestID == "" {
		return "", apperr.Unauthorized("missing %s header", SessionIDHeader)
	}
	return guestID, nil
}

// DecodeJSON decodes a request body, mapping malformed input to a
// VALIDATION_ERROR
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// Package httputil centralizes JSON encoding, request decoding, and
// domain-error to HTTP status mapping for handler packages.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "guestgate/pkg/domain-errors"
)

// Validatable is implemented by request DTOs that validate and parse
// themselves after JSON decoding.
type Validatable interface {
	Validate() error
}

// errorResponse is the wire shape for all error replies.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// codeStatus maps domain error codes to HTTP responses. Codes absent from the
// map are treated as internal.
var codeStatus = map[dErrors.Code]struct {
	status int
	wire   string
}{
	dErrors.CodeValidation:         {http.StatusBadRequest, "validation_error"},
	dErrors.CodeInvalidInput:       {http.StatusBadRequest, "invalid_input"},
	dErrors.CodeBadRequest:         {http.StatusBadRequest, "bad_request"},
	dErrors.CodeUnauthorized:       {http.StatusUnauthorized, "unauthorized"},
	dErrors.CodeForbidden:          {http.StatusForbidden, "forbidden"},
	dErrors.CodeNotFound:           {http.StatusNotFound, "not_found"},
	dErrors.CodeConflict:           {http.StatusConflict, "conflict"},
	dErrors.CodeTimeout:            {http.StatusGatewayTimeout, "timeout"},
	dErrors.CodeMissingConsent:     {http.StatusForbidden, "missing_consent"},
	dErrors.CodeChallengeExpired:   {http.StatusGone, "challenge_expired"},
	dErrors.CodeChannelFailed:      {http.StatusBadGateway, "channel_failed"},
	dErrors.CodeChannelUnavailable: {http.StatusServiceUnavailable, "channel_unavailable"},
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to an HTTP error response.
// Internal-class errors (internal, invariant violations, state misuse,
// persistence) get a generic body so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	m, ok := codeStatus[code]
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	WriteJSON(w, m.status, errorResponse{
		Error:            m.wire,
		ErrorDescription: dErrors.MessageOf(err),
	})
}

// DecodeAndPrepare decodes the JSON request body into T and, when T
// implements Validatable, validates it. On failure it writes the error
// response, logs at warn, and returns ok=false; handlers just return.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	v := new(T)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.WarnContext(ctx, "request body decode failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if val, ok := any(v).(Validatable); ok {
		if err := val.Validate(); err != nil {
			logger.WarnContext(ctx, "request validation failed",
				"request_id", requestID,
				"error", err,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return v, true
}

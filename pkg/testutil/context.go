package testutil

import (
	"context"
	"net/http"

	id "guestgate/pkg/domain"
	"guestgate/pkg/requestcontext"
)

// WithGuestID adds a guest ID to the request context.
// This simulates what the identity middleware would do for authenticated
// requests. If the guestID is not a valid UUID, it will not be added.
func WithGuestID(req *http.Request, guestID string) *http.Request {
	if parsed, err := id.ParseGuestID(guestID); err == nil {
		return req.WithContext(requestcontext.WithGuestID(req.Context(), parsed))
	}
	return req
}

// WithSessionID adds a verification session ID to the request context.
// If the sessionID is not a valid UUID, it will not be added.
func WithSessionID(req *http.Request, sessionID string) *http.Request {
	if parsed, err := id.ParseSessionID(sessionID); err == nil {
		return req.WithContext(requestcontext.WithSessionID(req.Context(), parsed))
	}
	return req
}

// WithIdentity adds both guest ID and session ID to the request context.
// This is the typical state for an authenticated request.
// Invalid IDs are silently ignored.
func WithIdentity(req *http.Request, guestID, sessionID string) *http.Request {
	ctx := req.Context()
	if guestID != "" {
		if parsed, err := id.ParseGuestID(guestID); err == nil {
			ctx = requestcontext.WithGuestID(ctx, parsed)
		}
	}
	if sessionID != "" {
		if parsed, err := id.ParseSessionID(sessionID); err == nil {
			ctx = requestcontext.WithSessionID(ctx, parsed)
		}
	}
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}

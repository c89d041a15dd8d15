// Package auth binds requests to the guest identity asserted by the booking
// platform's bearer token. Token issuance lives upstream; this middleware
// only verifies.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "guestgate/pkg/domain"
	"guestgate/pkg/requestcontext"
)

// TokenVerifier defines the interface for verifying bearer tokens.
type TokenVerifier interface {
	Verify(tokenString string) (*GuestClaims, error)
}

// GuestClaims is the guest identity a verified token asserts.
type GuestClaims struct {
	GuestID     id.GuestID
	Email       string
	DisplayName string
}

type contextKeyClaims struct{}

// GetClaims retrieves the verified guest claims from the context. Returns
// nil outside a RequireGuest-protected route.
func GetClaims(ctx context.Context) *GuestClaims {
	claims, ok := ctx.Value(contextKeyClaims{}).(*GuestClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims injects guest claims into a context. Useful for handler tests
// that don't run the middleware chain.
func WithClaims(ctx context.Context, claims *GuestClaims) context.Context {
	ctx = context.WithValue(ctx, contextKeyClaims{}, claims)
	return requestcontext.WithGuestID(ctx, claims.GuestID)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireGuest rejects requests without a valid bearer token and stores the
// verified claims plus the typed guest ID in the context.
func RequireGuest(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if after, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				token := after
				claims, err := verifier.Verify(token)
				if err != nil {
					ctx := r.Context()
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
					return
				}

				ctx := WithClaims(r.Context(), claims)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// No Authorization header or invalid format
			ctx := r.Context()
			logger.WarnContext(ctx, "unauthorized access - missing token",
				"request_id", requestcontext.RequestID(ctx),
			)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
		})
	}
}

// Package requestid assigns every request a correlation ID. Audit events
// and log lines carry it so one guest action can be traced across the
// engine, the outbox, and the Kafka sink.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"guestgate/pkg/requestcontext"
)

// Header is the inbound/outbound correlation header.
const Header = "X-Request-ID"

// Middleware takes the caller-supplied X-Request-ID when present, otherwise
// generates one, stores it in the context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

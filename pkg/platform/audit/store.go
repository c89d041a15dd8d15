package audit

import (
	"context"

	id "guestgate/pkg/domain"
)

// Store persists audit events. Implementations decide durability: the
// in-memory store serves tests and single-process runs, the Postgres store
// writes to a transactional outbox that the relay publishes to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error)
}

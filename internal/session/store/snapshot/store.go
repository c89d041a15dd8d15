// Package snapshot persists session resume state and score previews with a
// time-to-live.
package snapshot

import (
	"context"
	"time"

	"guestgate/internal/session/models"
	id "guestgate/pkg/domain"
)

// Store is the persistence boundary for session snapshots.
//
// Error Contract:
// All store methods follow this error pattern:
//   - Load/LoadPreview return ErrNotFound when nothing is stored
//   - Load returns ErrExpired after purging all related keys when the
//     snapshot outlived its ttl
//   - Return nil for successful operations
//   - Return wrapped errors for infrastructure failures; callers log them
//     and continue memory-only rather than failing the guest flow
type Store interface {
	Save(ctx context.Context, snap models.Snapshot, ttl time.Duration) error
	Load(ctx context.Context, sessionID id.SessionID, ttl time.Duration, now time.Time) (*models.Snapshot, error)
	SavePreview(ctx context.Context, preview models.Preview, ttl time.Duration) error
	LoadPreview(ctx context.Context, sessionID id.SessionID) (*models.Preview, error)
	Purge(ctx context.Context, sessionID id.SessionID) error
}

package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guestgate/internal/session/models"
	id "guestgate/pkg/domain"
	"guestgate/pkg/platform/sentinel"
)

// InMemorySnapshotStore keeps snapshots in memory for tests/dev. Staleness is
// checked lazily on Load against the caller's now, so deterministic clocks
// drive expiry in tests.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[id.SessionID]models.Snapshot
	previews  map[id.SessionID]models.Preview
}

// New constructs an empty in-memory snapshot store.
func New() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{
		snapshots: make(map[id.SessionID]models.Snapshot),
		previews:  make(map[id.SessionID]models.Preview),
	}
}

func (s *InMemorySnapshotStore) Save(_ context.Context, snap models.Snapshot, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Form = snap.Form.Clone()
	s.snapshots[snap.SessionID] = snap
	return nil
}

func (s *InMemorySnapshotStore) Load(_ context.Context, sessionID id.SessionID, ttl time.Duration, now time.Time) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, fmt.Errorf("snapshot not found: %w", sentinel.ErrNotFound)
	}
	if snap.Stale(ttl, now) {
		delete(s.snapshots, sessionID)
		delete(s.previews, sessionID)
		return nil, fmt.Errorf("snapshot outlived its ttl: %w", sentinel.ErrExpired)
	}
	snap.Form = snap.Form.Clone()
	return &snap, nil
}

func (s *InMemorySnapshotStore) SavePreview(_ context.Context, preview models.Preview, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews[preview.SessionID] = preview
	return nil
}

func (s *InMemorySnapshotStore) LoadPreview(_ context.Context, sessionID id.SessionID) (*models.Preview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	preview, ok := s.previews[sessionID]
	if !ok {
		return nil, fmt.Errorf("preview not found: %w", sentinel.ErrNotFound)
	}
	return &preview, nil
}

func (s *InMemorySnapshotStore) Purge(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	delete(s.previews, sessionID)
	return nil
}

package memory

import (
	"context"
	"sync"

	id "guestgate/pkg/domain"
	audit "guestgate/pkg/platform/audit"
)

// InMemoryStore keeps audit events per session. It backs tests and
// single-process runs where no Postgres outbox is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.SessionID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.SessionID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.SessionID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[sessionID]...), nil
}

// ListAll returns all audit events across all sessions (admin-only operation).
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, sessionEvents := range s.events {
		all = append(all, sessionEvents...)
	}
	return all, nil
}

// ListRecent returns the most recent N events across all sessions, ordered
// oldest first within the window.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, sessionEvents := range s.events {
		all = append(all, sessionEvents...)
	}

	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	return all[start:], nil
}

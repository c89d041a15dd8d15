package models

import (
	"time"

	"guestgate/internal/form"
	"guestgate/internal/trust"
	id "guestgate/pkg/domain"
)

// Snapshot is the persisted resume state: form answers and journey position
// only. Channel outcomes and scores are recomputed on resume, never
// resurrected from storage.
type Snapshot struct {
	SessionID id.SessionID `json:"session_id"`
	GuestID   id.GuestID   `json:"guest_id"`
	Step      form.Step    `json:"step"`
	Form      form.Data    `json:"form"`
	SavedAt   time.Time    `json:"saved_at"`
}

// Stale reports whether the snapshot has outlived its ttl at the given time.
func (s Snapshot) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.SavedAt) >= ttl
}

// Preview caches the last computed score so host-facing reads stay cheap.
// It is advisory: a live session always recomputes.
type Preview struct {
	SessionID id.SessionID `json:"session_id"`
	Score     trust.Score  `json:"score"`
	SavedAt   time.Time    `json:"saved_at"`
}

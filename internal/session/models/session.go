package models

import (
	"time"

	"guestgate/internal/form"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
)

// Session is the aggregate root for one guest's verification attempt.
//
// Invariants:
//   - Step is always one of the journey steps
//   - Status transitions follow Status.CanTransitionTo
//   - A completed session accepts no advances or form edits until reset
//   - CreatedAt is immutable after construction
//   - LastActiveAt never moves backward
type Session struct {
	ID           id.SessionID `json:"id"`
	GuestID      id.GuestID   `json:"guest_id"`
	Step         form.Step    `json:"step"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// NewSession constructs an active session positioned at the first step.
func NewSession(sessionID id.SessionID, guestID id.GuestID, now time.Time) *Session {
	return &Session{
		ID:           sessionID,
		GuestID:      guestID,
		Step:         form.Steps[0],
		Status:       StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// IsActive reports whether the session still accepts actions.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// CanAdvanceTo checks whether the session may move to the target step.
// Step-validation gating (current step's answers must be valid before a
// forward move) lives in the engine, which owns the form data; this guards
// the aggregate-level rules only.
// Use with ApplyAdvance for the Can/Apply callback pattern.
func (s *Session) CanAdvanceTo(target form.Step) error {
	if !s.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "completed session cannot advance; reset it first")
	}
	if _, err := form.ParseStep(string(target)); err != nil {
		return err
	}
	return nil
}

// ApplyAdvance moves the session to the target step.
// Call CanAdvanceTo first to validate the transition.
func (s *Session) ApplyAdvance(target form.Step, now time.Time) {
	s.Step = target
	s.LastActiveAt = now
}

// CanComplete checks whether the session may be submitted.
// Use with ApplyComplete for the Can/Apply callback pattern.
func (s *Session) CanComplete() error {
	if !s.Status.CanTransitionTo(StatusCompleted) {
		return dErrors.New(dErrors.CodeInvariantViolation, "session is already completed")
	}
	if !s.Step.IsLast() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot submit from step %s", s.Step)
	}
	return nil
}

// ApplyComplete marks the session submitted.
// Call CanComplete first to validate the transition.
func (s *Session) ApplyComplete(now time.Time) {
	s.Status = StatusCompleted
	s.LastActiveAt = now
}

// ApplyReset returns the session to a fresh active state at the first step.
// Reset is always legal; it is the only way out of a completed session.
func (s *Session) ApplyReset(now time.Time) {
	s.Step = form.Steps[0]
	s.Status = StatusActive
	s.LastActiveAt = now
}

// Touch records activity without changing position.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActiveAt) {
		s.LastActiveAt = now
	}
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guestgate/internal/form"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSession() *Session {
	return NewSession(id.NewSessionID(), id.NewGuestID(), now)
}

func TestNewSession(t *testing.T) {
	sess := newTestSession()

	assert.Equal(t, form.StepProfile, sess.Step)
	assert.Equal(t, StatusActive, sess.Status)
	assert.True(t, sess.IsActive())
	assert.Equal(t, now, sess.CreatedAt)
	assert.Equal(t, now, sess.LastActiveAt)
}

func TestSession_AdvanceLifecycle(t *testing.T) {
	t.Run("advances to a known step", func(t *testing.T) {
		sess := newTestSession()
		require.NoError(t, sess.CanAdvanceTo(form.StepBooking))

		sess.ApplyAdvance(form.StepBooking, now.Add(time.Minute))
		assert.Equal(t, form.StepBooking, sess.Step)
		assert.Equal(t, now.Add(time.Minute), sess.LastActiveAt)
	})

	t.Run("moving backward is allowed", func(t *testing.T) {
		sess := newTestSession()
		sess.ApplyAdvance(form.StepChannels, now)

		require.NoError(t, sess.CanAdvanceTo(form.StepProfile))
	})

	t.Run("rejects an unknown step", func(t *testing.T) {
		sess := newTestSession()
		err := sess.CanAdvanceTo("checkout")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("completed session cannot advance", func(t *testing.T) {
		sess := newTestSession()
		sess.ApplyAdvance(form.StepReview, now)
		require.NoError(t, sess.CanComplete())
		sess.ApplyComplete(now)

		err := sess.CanAdvanceTo(form.StepBooking)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestSession_Complete(t *testing.T) {
	t.Run("completes from the review step", func(t *testing.T) {
		sess := newTestSession()
		sess.ApplyAdvance(form.StepReview, now)

		require.NoError(t, sess.CanComplete())
		sess.ApplyComplete(now.Add(time.Minute))

		assert.Equal(t, StatusCompleted, sess.Status)
		assert.False(t, sess.IsActive())
	})

	t.Run("cannot complete before review", func(t *testing.T) {
		sess := newTestSession()
		sess.ApplyAdvance(form.StepChannels, now)

		err := sess.CanComplete()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("cannot complete twice", func(t *testing.T) {
		sess := newTestSession()
		sess.ApplyAdvance(form.StepReview, now)
		sess.ApplyComplete(now)

		err := sess.CanComplete()
		require.Error(t, err)
	})
}

func TestSession_Reset(t *testing.T) {
	sess := newTestSession()
	sess.ApplyAdvance(form.StepReview, now)
	sess.ApplyComplete(now)

	sess.ApplyReset(now.Add(time.Hour))

	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, form.StepProfile, sess.Step)
	assert.Equal(t, now.Add(time.Hour), sess.LastActiveAt)
	assert.Equal(t, now, sess.CreatedAt)
}

func TestSession_TouchNeverMovesBackward(t *testing.T) {
	sess := newTestSession()

	sess.Touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), sess.LastActiveAt)

	sess.Touch(now.Add(-time.Minute))
	assert.Equal(t, now.Add(time.Minute), sess.LastActiveAt)
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusActive, StatusCompleted, true},
		{StatusCompleted, StatusActive, true},
		{StatusActive, StatusActive, false},
		{StatusCompleted, StatusCompleted, false},
		{Status("ghost"), StatusActive, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSnapshot_Stale(t *testing.T) {
	snap := Snapshot{SavedAt: now}

	assert.False(t, snap.Stale(24*time.Hour, now.Add(24*time.Hour-time.Nanosecond)))
	assert.True(t, snap.Stale(24*time.Hour, now.Add(24*time.Hour)))
	assert.True(t, snap.Stale(24*time.Hour, now.Add(48*time.Hour)))
}

package channels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "guestgate/pkg/domain-errors"
)

func TestStatus_TransitionTable(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusNotStarted, StatusPending},
		{StatusPending, StatusVerified},
		{StatusPending, StatusFailed},
		{StatusPending, StatusExpired},
		{StatusVerified, StatusExpired},
	}
	for _, tc := range legal {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to Status }{
		{StatusNotStarted, StatusVerified},
		{StatusNotStarted, StatusFailed},
		{StatusNotStarted, StatusExpired},
		{StatusVerified, StatusPending},
		{StatusVerified, StatusFailed},
		{StatusFailed, StatusVerified},
		{StatusFailed, StatusPending},
		{StatusExpired, StatusVerified},
		{StatusExpired, StatusPending},
		{StatusPending, StatusNotStarted},
	}
	for _, tc := range illegal {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestResult_Advance(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("pending to verified clears reason", func(t *testing.T) {
		r := StartAttempt(ChannelPhoneOTP, "chal-1", now)
		verified, err := r.Advance(StatusVerified, "", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, StatusVerified, verified.Status)
		assert.Empty(t, verified.Reason)
		assert.Equal(t, "chal-1", verified.Reference, "reference survives the transition")
	})

	t.Run("pending to failed records reason", func(t *testing.T) {
		r := StartAttempt(ChannelDocumentSelfie, "doc-9", now)
		failed, err := r.Advance(StatusFailed, ReasonRejected, now)
		require.NoError(t, err)
		assert.Equal(t, ReasonRejected, failed.Reason)
	})

	t.Run("illegal transition is an invariant violation", func(t *testing.T) {
		r := NewResult(ChannelBackgroundCheck)
		_, err := r.Advance(StatusVerified, "", now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("terminal results cannot move", func(t *testing.T) {
		r := StartAttempt(ChannelPhoneOTP, "chal-2", now)
		failed, err := r.Advance(StatusFailed, ReasonTimeout, now)
		require.NoError(t, err)
		_, err = failed.Advance(StatusVerified, "", now)
		assert.Error(t, err)
	})
}

func TestStartAttempt_ReplacesPriorState(t *testing.T) {
	now := time.Now()
	first := StartAttempt(ChannelPhoneOTP, "chal-1", now)
	failed, err := first.Advance(StatusFailed, ReasonRejected, now)
	require.NoError(t, err)

	second := StartAttempt(ChannelPhoneOTP, "chal-2", now.Add(time.Minute))
	assert.Equal(t, StatusPending, second.Status, "new attempt starts pending regardless of prior outcome")
	assert.Empty(t, second.Reason)
	assert.NotEqual(t, failed.Reference, second.Reference)
}

func TestGeneration_StaleDetection(t *testing.T) {
	var g Generation

	gen := g.Bump()
	assert.True(t, g.IsCurrent(gen))

	g.Bump()
	assert.False(t, g.IsCurrent(gen), "bumping invalidates captured generations")
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("phone_otp")
	require.NoError(t, err)
	assert.Equal(t, ChannelPhoneOTP, ch)

	_, err = ParseChannel("carrier_pigeon")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestAll_DeclarationOrder(t *testing.T) {
	assert.Equal(t, []Channel{
		ChannelDocumentSelfie,
		ChannelPhoneOTP,
		ChannelBackgroundCheck,
		ChannelPlatformProfile,
	}, All)
}

package phone

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guestgate/internal/channels"
	"guestgate/internal/providers"
	"guestgate/internal/state"
	"guestgate/pkg/clock"
	dErrors "guestgate/pkg/domain-errors"
)

// flakyVerifier scripts provider failures; calls beyond the script succeed.
type flakyVerifier struct {
	requestErrs []error
	verifyErr   error
	ttl         time.Duration
	seq         int
}

func (f *flakyVerifier) RequestCode(_ context.Context, _ string) (providers.PhoneChallenge, error) {
	if len(f.requestErrs) > 0 {
		err := f.requestErrs[0]
		f.requestErrs = f.requestErrs[1:]
		if err != nil {
			return providers.PhoneChallenge{}, err
		}
	}
	f.seq++
	return providers.PhoneChallenge{Reference: fmt.Sprintf("otp-%d", f.seq), TTL: f.ttl}, nil
}

func (f *flakyVerifier) VerifyCode(_ context.Context, _, _ string) (providers.CodeCheck, error) {
	if f.verifyErr != nil {
		return providers.CodeCheck{}, f.verifyErr
	}
	return providers.CodeCheck{Verified: true}, nil
}

type fixture struct {
	store       *state.Store
	clk         *clock.Manual
	mgr         *Manager
	expiredRefs []string
}

func newFixture(t *testing.T, verifier providers.PhoneVerifier, cfg Config) *fixture {
	t.Helper()
	store, err := state.New(slog.New(slog.NewTextHandler(io.Discard, nil)), state.DefaultSections())
	require.NoError(t, err)

	f := &fixture{
		store: store,
		clk:   clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.mgr = New(store, verifier, f.clk, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg,
		func(ref string) { f.expiredRefs = append(f.expiredRefs, ref) })
	return f
}

func (f *fixture) challenge(t *testing.T) *channels.OTPChallenge {
	t.Helper()
	cs, err := state.Get[state.ChannelsState](f.store, state.SectionChannels)
	require.NoError(t, err)
	return cs.Challenge
}

func TestStart_CountdownRunsFromProviderTTL(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 90 * time.Second}, Config{})

	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))

	require.Equal(t, channels.StatusPending, f.mgr.Status())
	chal := f.challenge(t)
	require.NotNil(t, chal)
	assert.Equal(t, 90, chal.TTLSeconds)
	assert.Equal(t, 90, chal.RemainingSeconds)
	assert.False(t, chal.ResendAllowed)
	assert.Contains(t, chal.Reference, "otp-0123")

	f.clk.Advance(time.Second)
	assert.Equal(t, 89, f.challenge(t).RemainingSeconds)
}

func TestStart_DefaultTTLWhenProviderLeavesItUnset(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{}, Config{})

	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))

	assert.Equal(t, 120, f.challenge(t).RemainingSeconds)
}

func TestExpiry_FiresExactlyOnceAfterFullTTL(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))

	f.clk.Advance(120 * time.Second)

	assert.Equal(t, channels.StatusExpired, f.mgr.Status())
	require.Len(t, f.expiredRefs, 1, "expiry event must fire exactly once")
	chal := f.challenge(t)
	require.NotNil(t, chal)
	assert.Zero(t, chal.RemainingSeconds)
	assert.True(t, chal.ResendAllowed)

	// More time passing must not re-fire anything.
	f.clk.Advance(30 * time.Second)
	assert.Len(t, f.expiredRefs, 1)
	assert.Equal(t, channels.StatusExpired, f.mgr.Status())
	assert.Zero(t, f.clk.Pending(), "no timer may outlive the expiry")
}

func TestResend_GatedOnZeroRemainingSeconds(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))

	err := f.mgr.Resend(context.Background(), "+14155550123")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))

	// One second short of expiry the gate still holds.
	f.clk.Advance(119 * time.Second)
	err = f.mgr.Resend(context.Background(), "+14155550123")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))

	// At zero it opens.
	f.clk.Advance(time.Second)
	require.NoError(t, f.mgr.Resend(context.Background(), "+14155550123"))
	assert.Equal(t, channels.StatusPending, f.mgr.Status())
	assert.Equal(t, 120, f.challenge(t).RemainingSeconds)
}

func TestResend_ReplacesTimerInsteadOfStacking(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	f.clk.Advance(120 * time.Second)
	require.NoError(t, f.mgr.Resend(context.Background(), "+14155550123"))

	assert.Equal(t, 1, f.clk.Pending(), "exactly one live countdown timer")

	// A stale timer would decrement twice per second.
	f.clk.Advance(time.Second)
	assert.Equal(t, 119, f.challenge(t).RemainingSeconds)

	// And the old challenge's expiry must not fire again for the new one.
	assert.Len(t, f.expiredRefs, 1)
}

func TestSubmit_VerifiedStopsCountdown(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	f.clk.Advance(5 * time.Second)

	outcome, err := f.mgr.Submit(context.Background(), "482913")
	require.NoError(t, err)
	assert.Equal(t, SubmitVerified, outcome)

	res := f.mgr.Result()
	assert.Equal(t, channels.StatusVerified, res.Status)
	assert.Contains(t, res.Reference, "otp-0123")
	assert.Nil(t, f.challenge(t), "verified challenges disappear from the surface")
	assert.Zero(t, f.clk.Pending(), "the countdown stops on verification")

	f.clk.Advance(300 * time.Second)
	assert.Empty(t, f.expiredRefs, "a verified challenge never expires")
}

func TestSubmit_MismatchKeepsCountdownAndAllowsRetry(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	f.clk.Advance(10 * time.Second)

	outcome, err := f.mgr.Submit(context.Background(), "000000")
	require.NoError(t, err)
	assert.Equal(t, SubmitCodeMismatch, outcome)
	assert.Equal(t, channels.StatusPending, f.mgr.Status(), "a wrong code is not a failure")
	assert.Equal(t, 110, f.challenge(t).RemainingSeconds, "mismatch must not reset the countdown")

	outcome, err = f.mgr.Submit(context.Background(), "482913")
	require.NoError(t, err)
	assert.Equal(t, SubmitVerified, outcome)
}

func TestSubmit_AfterExpiryDemandsResend(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 30 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	f.clk.Advance(30 * time.Second)

	_, err := f.mgr.Submit(context.Background(), "482913")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeChallengeExpired, dErrors.CodeOf(err))
}

func TestSubmit_WithoutChallengeIsInvalid(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{}, Config{})

	_, err := f.mgr.Submit(context.Background(), "482913")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeInvalidInput, dErrors.CodeOf(err))
}

func TestStart_ProviderFailureBecomesFailedResult(t *testing.T) {
	verifier := &flakyVerifier{
		requestErrs: []error{dErrors.New(dErrors.CodeChannelUnavailable, "circuit open")},
		ttl:         60 * time.Second,
	}
	f := newFixture(t, verifier, Config{})

	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"),
		"provider failures must not escape the manager")
	res := f.mgr.Result()
	assert.Equal(t, channels.StatusFailed, res.Status)
	assert.Equal(t, channels.ReasonProviderUnavailable, res.Reason)
	assert.Nil(t, f.challenge(t))

	// Recovery is an immediate resend once the provider is back.
	require.NoError(t, f.mgr.Resend(context.Background(), "+14155550123"))
	assert.Equal(t, channels.StatusPending, f.mgr.Status())
	assert.Equal(t, 60, f.challenge(t).RemainingSeconds)
}

func TestSubmit_ProviderFailureTearsChallengeDown(t *testing.T) {
	verifier := &flakyVerifier{
		verifyErr: dErrors.New(dErrors.CodeChannelFailed, "provider rejected the call"),
		ttl:       60 * time.Second,
	}
	f := newFixture(t, verifier, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))

	outcome, err := f.mgr.Submit(context.Background(), "482913")
	require.NoError(t, err)
	assert.Equal(t, SubmitFailed, outcome)
	assert.Equal(t, channels.StatusFailed, f.mgr.Status())
	assert.Nil(t, f.challenge(t))
	assert.Zero(t, f.clk.Pending())

	// The teardown opens the resend gate straight away.
	verifier.verifyErr = nil
	require.NoError(t, f.mgr.Resend(context.Background(), "+14155550123"))
	assert.Equal(t, channels.StatusPending, f.mgr.Status())
}

func TestStart_RefusedOnceVerified(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 60 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	_, err := f.mgr.Submit(context.Background(), "482913")
	require.NoError(t, err)

	err = f.mgr.Start(context.Background(), "+14155550123")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
}

func TestAbort_StopsTimerAndClearsChallenge(t *testing.T) {
	f := newFixture(t, &providers.MockPhoneVerifier{TTL: 120 * time.Second}, Config{})
	require.NoError(t, f.mgr.Start(context.Background(), "+14155550123"))
	require.Equal(t, 1, f.clk.Pending())

	f.mgr.Abort()

	assert.Zero(t, f.clk.Pending())
	assert.Nil(t, f.challenge(t))
	f.clk.Advance(300 * time.Second)
	assert.Empty(t, f.expiredRefs, "an aborted challenge must not expire")
}

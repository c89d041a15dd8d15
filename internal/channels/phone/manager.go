// Package phone implements the phone OTP verification channel: challenge
// issue, one-second countdown, code verification, expiry and resend.
package phone

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/channels/manager"
	"guestgate/internal/providers"
	"guestgate/internal/state"
	"guestgate/pkg/clock"
	dErrors "guestgate/pkg/domain-errors"
)

// phase is the manager's internal position, a finer grain than the shared
// result statuses it projects onto the store: requesting and verifying both
// read as pending from outside.
type phase int

const (
	phaseIdle phase = iota
	phaseRequesting
	phaseAwaitingCode
	phaseVerifying
	phaseVerified
	phaseExpired
)

// Config tunes the phone manager.
type Config struct {
	// DefaultTTL applies when the provider leaves the challenge TTL unset.
	DefaultTTL time.Duration
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

const (
	defaultTTL         = 120 * time.Second
	defaultCallTimeout = 15 * time.Second
	tickInterval       = time.Second
)

// SubmitOutcome tells the caller how a code submission landed.
type SubmitOutcome string

const (
	// SubmitVerified means the code matched and the channel is verified.
	SubmitVerified SubmitOutcome = "verified"
	// SubmitCodeMismatch means the code was wrong; the countdown keeps
	// running and the guest may try again.
	SubmitCodeMismatch SubmitOutcome = "code_mismatch"
	// SubmitFailed means the provider call failed; the result is failed and
	// the challenge was torn down. Recovery is a resend.
	SubmitFailed SubmitOutcome = "failed"
)

// Manager drives the phone OTP channel.
//
// Invariants:
//   - at most one countdown timer is live; issuing a new challenge stops the
//     old timer before arming its own
//   - expiry happens exactly once per challenge and fires the expired hook
//     exactly once
//   - resend is permitted exactly when no countdown is running: before the
//     first challenge, at zero remaining seconds, or after a teardown
//   - codes pass straight through to the provider; they are never stored or
//     logged
type Manager struct {
	manager.Base
	verifier providers.PhoneVerifier
	clk      clock.Clock
	cfg      Config

	// expired is invoked, with the challenge reference, when the countdown
	// runs out. It runs with the manager lock held and must not call back
	// into the manager.
	expired func(reference string)

	mu        sync.Mutex
	phase     phase
	challenge channels.OTPChallenge
	timer     clock.Timer
}

// New builds the manager for one session. onExpired may be nil.
func New(store *state.Store, verifier providers.PhoneVerifier, clk clock.Clock, logger *slog.Logger, cfg Config, onExpired func(reference string)) *Manager {
	return &Manager{
		Base:     manager.NewBase(channels.ChannelPhoneOTP, store, logger),
		verifier: verifier,
		clk:      clk,
		cfg:      cfg,
		expired:  onExpired,
	}
}

// Start requests a challenge for the given phone number and begins the
// countdown from the provider-supplied TTL. While a countdown is running a
// new request is refused, keeping the live challenge and its timer unique.
//
// Provider failures do not escape: they become a failed result and a nil
// return, with resend immediately allowed.
//
// Errors:
//   - CodeConflict: already verified, a call is in flight, or the countdown
//     has not reached zero yet
func (m *Manager) Start(ctx context.Context, phoneNumber string) error {
	m.mu.Lock()
	switch m.phase {
	case phaseVerified:
		m.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, "phone already verified")
	case phaseRequesting, phaseVerifying:
		m.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, "phone verification call in flight")
	case phaseAwaitingCode:
		if m.challenge.RemainingSeconds > 0 {
			remaining := m.challenge.RemainingSeconds
			m.mu.Unlock()
			return dErrors.Newf(dErrors.CodeConflict, "resend allowed in %ds", remaining)
		}
	}
	m.stopTimerLocked()
	m.phase = phaseRequesting
	m.challenge = channels.OTPChallenge{}
	gen := m.BeginAttempt()
	m.Record(channels.StartAttempt(m.Channel(), "", m.clk.Now()))
	m.clearChallengeLocked()
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout())
	defer cancel()
	chal, err := m.verifier.RequestCode(callCtx, phoneNumber)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.AttemptCurrent(gen) {
		m.DropStale(ctx, gen)
		return nil
	}
	if err != nil {
		m.Logger().WarnContext(ctx, "phone challenge request failed",
			"channel", m.Channel().String(), "error", err)
		m.failLocked(manager.FailureReason(err))
		return nil
	}

	ttl := chal.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL()
	}
	now := m.clk.Now()
	m.challenge = channels.NewOTPChallenge(chal.Reference, ttl, now)
	m.phase = phaseAwaitingCode
	m.writeChallengeLocked()
	m.Record(channels.StartAttempt(m.Channel(), chal.Reference, now))
	m.armTickLocked(gen)
	return nil
}

// Resend issues a fresh challenge. It is Start under the same gate: allowed
// exactly when the remaining seconds hit zero (or no challenge ever ran).
func (m *Manager) Resend(ctx context.Context, phoneNumber string) error {
	return m.Start(ctx, phoneNumber)
}

// Submit checks a code against the live challenge. A wrong code returns
// SubmitCodeMismatch and leaves the countdown untouched so the guest can
// retry; a provider failure tears the challenge down into a failed result.
//
// Errors:
//   - CodeChallengeExpired: the countdown ran out, before or during the check
//   - CodeConflict: another check is in flight, or the challenge was
//     replaced while this one ran
//   - CodeInvalidInput: no active challenge
func (m *Manager) Submit(ctx context.Context, code string) (SubmitOutcome, error) {
	m.mu.Lock()
	switch m.phase {
	case phaseExpired:
		m.mu.Unlock()
		return "", dErrors.New(dErrors.CodeChallengeExpired, "code expired; request a new one")
	case phaseVerifying:
		m.mu.Unlock()
		return "", dErrors.New(dErrors.CodeConflict, "a code check is already in flight")
	case phaseAwaitingCode:
	default:
		m.mu.Unlock()
		return "", dErrors.New(dErrors.CodeInvalidInput, "no active challenge")
	}
	reference := m.challenge.Reference
	gen := m.Attempt()
	m.phase = phaseVerifying
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout())
	defer cancel()
	check, err := m.verifier.VerifyCode(callCtx, reference, code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.AttemptCurrent(gen) {
		m.DropStale(ctx, gen)
		return "", dErrors.New(dErrors.CodeConflict, "challenge was replaced")
	}
	if m.phase == phaseExpired {
		// The countdown ran out while the check was in flight; expiry wins.
		return "", dErrors.New(dErrors.CodeChallengeExpired, "code expired during verification; request a new one")
	}
	now := m.clk.Now()
	if err != nil {
		m.Logger().WarnContext(ctx, "phone code verification failed",
			"channel", m.Channel().String(), "error", err)
		m.failLocked(manager.FailureReason(err))
		return SubmitFailed, nil
	}
	if !check.Verified {
		m.phase = phaseAwaitingCode
		return SubmitCodeMismatch, nil
	}

	m.phase = phaseVerified
	m.stopTimerLocked()
	m.challenge = channels.OTPChallenge{}
	m.clearChallengeLocked()
	if _, advErr := m.Advance(channels.StatusVerified, "", reference, now); advErr != nil {
		m.Logger().Error("phone result transition failed",
			"channel", m.Channel().String(), "error", advErr)
	}
	return SubmitVerified, nil
}

// Abort stops the countdown and invalidates in-flight provider calls.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.phase = phaseIdle
	m.challenge = channels.OTPChallenge{}
	m.clearChallengeLocked()
	m.Base.Abort()
}

func (m *Manager) armTickLocked(gen uint64) {
	m.timer = m.clk.AfterFunc(tickInterval, func() { m.onTick(gen) })
}

func (m *Manager) onTick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.AttemptCurrent(gen) {
		return
	}
	if m.phase != phaseAwaitingCode && m.phase != phaseVerifying {
		return
	}
	m.challenge = m.challenge.Tick()
	m.writeChallengeLocked()
	if m.challenge.RemainingSeconds > 0 {
		m.armTickLocked(gen)
		return
	}
	m.expireLocked()
}

// expireLocked runs the one expiry transition for the live challenge. The
// tick chain is not re-armed afterwards, which is what makes it exactly
// once.
func (m *Manager) expireLocked() {
	m.phase = phaseExpired
	m.timer = nil
	if _, err := m.Advance(channels.StatusExpired, "", "", m.clk.Now()); err != nil {
		m.Logger().Error("phone result transition failed",
			"channel", m.Channel().String(), "error", err)
	}
	if m.expired != nil {
		m.expired(m.challenge.Reference)
	}
}

// failLocked tears the live challenge down and records the failure. Resend
// is immediately allowed afterwards.
func (m *Manager) failLocked(reason string) {
	m.stopTimerLocked()
	m.phase = phaseIdle
	m.challenge = channels.OTPChallenge{}
	m.clearChallengeLocked()
	if _, err := m.Advance(channels.StatusFailed, reason, "", m.clk.Now()); err != nil {
		m.Logger().Error("phone result transition failed",
			"channel", m.Channel().String(), "error", err)
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) writeChallengeLocked() {
	chal := m.challenge
	_, err := state.Update(m.Store(), state.SectionChannels, func(cs state.ChannelsState) state.ChannelsState {
		cs.Challenge = &chal
		return cs
	})
	if err != nil {
		m.Logger().Error("challenge write failed",
			"channel", m.Channel().String(), "error", err)
	}
}

func (m *Manager) clearChallengeLocked() {
	_, err := state.Update(m.Store(), state.SectionChannels, func(cs state.ChannelsState) state.ChannelsState {
		cs.Challenge = nil
		return cs
	})
	if err != nil {
		m.Logger().Error("challenge write failed",
			"channel", m.Channel().String(), "error", err)
	}
}

func (m *Manager) defaultTTL() time.Duration {
	if m.cfg.DefaultTTL > 0 {
		return m.cfg.DefaultTTL
	}
	return defaultTTL
}

func (m *Manager) callTimeout() time.Duration {
	if m.cfg.CallTimeout > 0 {
		return m.cfg.CallTimeout
	}
	return defaultCallTimeout
}

var _ manager.Manager = (*Manager)(nil)

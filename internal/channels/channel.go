// Package channels defines the verification channels, their result lifecycle,
// and the transition rules shared by every channel manager.
package channels

import (
	"sync/atomic"
	"time"

	dErrors "guestgate/pkg/domain-errors"
)

// Channel identifies one verification method.
type Channel string

// Verification channels. All lists them in declaration order; the trust
// aggregator applies adjustments in exactly this order.
const (
	ChannelDocumentSelfie  Channel = "document_selfie"
	ChannelPhoneOTP        Channel = "phone_otp"
	ChannelBackgroundCheck Channel = "background_check"
	ChannelPlatformProfile Channel = "platform_profile"
)

// All is the canonical channel order.
var All = []Channel{
	ChannelDocumentSelfie,
	ChannelPhoneOTP,
	ChannelBackgroundCheck,
	ChannelPlatformProfile,
}

// ParseChannel constructs a Channel from external input.
//
// Errors: CodeInvalidInput when the value is not a known channel.
func ParseChannel(s string) (Channel, error) {
	for _, ch := range All {
		if Channel(s) == ch {
			return ch, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel %q", s)
}

func (c Channel) String() string { return string(c) }

// Status is the lifecycle position of one channel attempt.
type Status string

// Channel attempt statuses.
const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// CanTransitionTo encodes the legal moves within a single attempt:
//
//	not_started -> pending
//	pending     -> verified | failed | expired
//	verified    -> expired
//
// Expiry transitions are only raised by the phone OTP manager; the table
// stays channel-agnostic and managers restrict what they use. A new attempt
// replaces the result wholesale instead of transitioning (see StartAttempt).
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusNotStarted:
		return next == StatusPending
	case StatusPending:
		return next == StatusVerified || next == StatusFailed || next == StatusExpired
	case StatusVerified:
		return next == StatusExpired
	default:
		return false
	}
}

// Terminal reports whether the attempt has reached an end state.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusExpired
}

func (s Status) String() string { return string(s) }

// Failure reasons carried on failed results.
const (
	ReasonRejected            = "rejected"
	ReasonProviderError       = "provider_error"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonTimeout             = "timeout"
)

// Result is the retained outcome of one channel attempt.
//
// Invariants:
//   - Status moves only along CanTransitionTo within an attempt
//   - Reason is set exactly when Status is failed
//   - Reference is the provider's opaque check/challenge id; no raw imagery,
//     codes, or other PII is ever stored here
type Result struct {
	Channel   Channel   `json:"channel"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Reference string    `json:"reference,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewResult returns the initial not-started result for a channel.
func NewResult(ch Channel) Result {
	return Result{Channel: ch, Status: StatusNotStarted}
}

// StartAttempt returns a fresh pending result, replacing whatever attempt
// came before. Replacement (not transition) is how re-tries work; the
// generation counter makes any in-flight verdict for the old attempt stale.
func StartAttempt(ch Channel, reference string, now time.Time) Result {
	return Result{Channel: ch, Status: StatusPending, Reference: reference, UpdatedAt: now}
}

// CanAdvance checks a within-attempt transition.
//
// Errors: CodeInvariantViolation when the move is illegal.
func (r Result) CanAdvance(next Status) error {
	if !r.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"illegal %s transition %s -> %s", r.Channel, r.Status, next)
	}
	return nil
}

// Advance returns a copy moved to the next status. Reason is kept only for
// failures; the reference is preserved.
func (r Result) Advance(next Status, reason string, now time.Time) (Result, error) {
	if err := r.CanAdvance(next); err != nil {
		return r, err
	}
	r.Status = next
	if next == StatusFailed {
		r.Reason = reason
	} else {
		r.Reason = ""
	}
	r.UpdatedAt = now
	return r, nil
}

// Generation guards against stale async verdicts. Managers capture the
// current generation before awaiting a provider and drop the verdict if a
// newer attempt bumped it meanwhile.
type Generation struct {
	n atomic.Uint64
}

// Bump starts a new attempt generation and returns it.
func (g *Generation) Bump() uint64 { return g.n.Add(1) }

// Current returns the active generation.
func (g *Generation) Current() uint64 { return g.n.Load() }

// IsCurrent reports whether a captured generation is still the active one.
func (g *Generation) IsCurrent(gen uint64) bool { return g.n.Load() == gen }

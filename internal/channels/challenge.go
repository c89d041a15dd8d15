package channels

import "time"

// OTPChallenge is the live phone challenge countdown surfaced to the UI.
// Exactly one exists per session; issuing a new challenge replaces it and
// cancels the old countdown.
//
// Invariants:
//   - RemainingSeconds counts down from TTLSeconds to 0, never below
//   - ResendAllowed is true exactly when RemainingSeconds == 0
//   - Reference identifies the provider-side challenge; the code itself
//     never appears here
type OTPChallenge struct {
	Reference        string    `json:"reference"`
	IssuedAt         time.Time `json:"issued_at"`
	TTLSeconds       int       `json:"ttl_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	ResendAllowed    bool      `json:"resend_allowed"`
}

// NewOTPChallenge starts a fresh countdown at the full TTL.
func NewOTPChallenge(reference string, ttl time.Duration, now time.Time) OTPChallenge {
	secs := int(ttl / time.Second)
	return OTPChallenge{
		Reference:        reference,
		IssuedAt:         now,
		TTLSeconds:       secs,
		RemainingSeconds: secs,
		ResendAllowed:    secs == 0,
	}
}

// Tick returns the challenge with one second elapsed.
func (c OTPChallenge) Tick() OTPChallenge {
	if c.RemainingSeconds > 0 {
		c.RemainingSeconds--
	}
	c.ResendAllowed = c.RemainingSeconds == 0
	return c
}

// Expired reports whether the countdown has run out.
func (c OTPChallenge) Expired() bool {
	return c.RemainingSeconds == 0
}

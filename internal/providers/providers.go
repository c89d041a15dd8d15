// Package providers defines the outbound verification capabilities the
// channel managers consume and the adapters that implement them.
//
// The interfaces stay small so tests can stub quickly. Adapters exist in two
// flavors: deterministic in-process mocks (development, demos, tests) and
// HTTP clients with circuit breaking and tracing (production).
package providers

import (
	"context"
	"time"

	id "guestgate/pkg/domain"
)

// Subject is the minimal, non-sensitive description of the guest a provider
// needs. Raw document content travels separately and is never retained.
type Subject struct {
	GuestID   id.GuestID
	FullName  string
	Email     string
	HomeZIP   string
	ConsentAt time.Time
}

// Image is a transient document or selfie payload. Callers must not hold a
// reference after the provider call returns; only the verdict is kept.
type Image struct {
	Content     []byte
	ContentType string
}

// DocumentVerdict is the retained outcome of a document+selfie check.
type DocumentVerdict struct {
	Verified  bool
	Reason    string
	Reference string
}

// PhoneChallenge describes an issued OTP challenge. TTL zero means the
// provider did not advertise one and the engine default applies.
type PhoneChallenge struct {
	Reference string
	TTL       time.Duration
}

// CodeCheck is the outcome of verifying a submitted OTP code.
type CodeCheck struct {
	Verified bool
	Reason   string
}

// BackgroundState is the provider-side position of a background check.
type BackgroundState string

const (
	BackgroundRunning BackgroundState = "running"
	BackgroundClear   BackgroundState = "clear"
	BackgroundFlagged BackgroundState = "flagged"
)

// BackgroundReport is the retained outcome of a background check poll.
type BackgroundReport struct {
	Reference string
	State     BackgroundState
	Reason    string
}

// IdentityVerifier checks a government document against a selfie.
type IdentityVerifier interface {
	VerifyDocument(ctx context.Context, subject Subject, document, selfie Image) (DocumentVerdict, error)
}

// PhoneVerifier issues and verifies one-time phone codes. Codes live entirely
// provider-side; this service never sees, stores, or logs them beyond the
// submitted value passed through VerifyCode.
type PhoneVerifier interface {
	RequestCode(ctx context.Context, phone string) (PhoneChallenge, error)
	VerifyCode(ctx context.Context, reference, code string) (CodeCheck, error)
}

// BackgroundChecker initiates and polls a guest background check.
type BackgroundChecker interface {
	InitiateCheck(ctx context.Context, subject Subject) (BackgroundReport, error)
	CheckStatus(ctx context.Context, reference string) (BackgroundReport, error)
}

// Package document implements the document+selfie verification channel:
// two images in, one provider verdict out.
package document

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/channels/manager"
	"guestgate/internal/providers"
	"guestgate/internal/state"
	"guestgate/pkg/clock"
	dErrors "guestgate/pkg/domain-errors"
)

// Config tunes the document manager.
type Config struct {
	// CallTimeout bounds the provider verification call.
	CallTimeout time.Duration
}

const defaultCallTimeout = 30 * time.Second

// Manager drives the document+selfie channel. Both payloads must sniff as
// real images before any network call; imagery is handed to the provider and
// never retained — only the verdict and its reference id are kept.
type Manager struct {
	manager.Base
	verifier providers.IdentityVerifier
	clk      clock.Clock
	timeout  time.Duration
}

// New builds the manager for one session.
func New(store *state.Store, verifier providers.IdentityVerifier, clk clock.Clock, logger *slog.Logger, cfg Config) *Manager {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Manager{
		Base:     manager.NewBase(channels.ChannelDocumentSelfie, store, logger),
		verifier: verifier,
		clk:      clk,
		timeout:  timeout,
	}
}

// Start validates both images and submits them for verification. The result
// moves to pending before the provider call and lands on verified or failed
// when the verdict arrives; a verdict for a superseded attempt is dropped.
//
// Rejecting a non-image payload never touches channel state: the result
// stays exactly where it was and the provider is not called, so a failed
// attempt remains re-submittable.
//
// Errors: CodeValidation when either payload is empty or not an image.
func (m *Manager) Start(ctx context.Context, subject providers.Subject, doc, selfie providers.Image) error {
	if err := checkImage("document", doc); err != nil {
		return err
	}
	if err := checkImage("selfie", selfie); err != nil {
		return err
	}

	gen := m.BeginAttempt()
	m.Record(channels.StartAttempt(m.Channel(), "", m.clk.Now()))

	// The verdict outlives the action request: detach from its cancellation
	// but keep a hard timeout so imagery is released promptly either way.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	go func() {
		defer cancel()
		verdict, err := m.verifier.VerifyDocument(callCtx, subject, doc, selfie)
		m.finish(callCtx, gen, verdict, err)
	}()
	return nil
}

func (m *Manager) finish(ctx context.Context, gen uint64, verdict providers.DocumentVerdict, err error) {
	if !m.AttemptCurrent(gen) {
		m.DropStale(ctx, gen)
		return
	}
	now := m.clk.Now()

	if err != nil {
		m.Logger().WarnContext(ctx, "document verification call failed",
			"channel", m.Channel().String(), "error", err)
		m.advance(channels.StatusFailed, manager.FailureReason(err), verdict.Reference, now)
		return
	}
	if verdict.Verified {
		m.advance(channels.StatusVerified, "", verdict.Reference, now)
		return
	}
	reason := verdict.Reason
	if reason == "" {
		reason = channels.ReasonRejected
	}
	m.advance(channels.StatusFailed, reason, verdict.Reference, now)
}

func (m *Manager) advance(next channels.Status, reason, reference string, now time.Time) {
	if _, err := m.Advance(next, reason, reference, now); err != nil {
		m.Logger().Error("document result transition failed",
			"channel", m.Channel().String(), "next", next.String(), "error", err)
	}
}

// checkImage sniffs the payload and rejects anything that is not an image.
// Sniffing the bytes, not trusting the declared content type, is what keeps
// a renamed .txt out of the provider call.
func checkImage(what string, img providers.Image) error {
	if len(img.Content) == 0 {
		return dErrors.Newf(dErrors.CodeValidation, "%s image is empty", what)
	}
	sniffed := http.DetectContentType(img.Content)
	if !strings.HasPrefix(sniffed, "image/") {
		return dErrors.Newf(dErrors.CodeValidation,
			"%s must be an image, got %s", what, sniffed)
	}
	return nil
}

var _ manager.Manager = (*Manager)(nil)

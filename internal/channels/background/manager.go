// Package background implements the background check channel and the policy
// deciding when the check should be offered at all.
package background

import (
	"context"
	"log/slog"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/channels/manager"
	"guestgate/internal/providers"
	"guestgate/internal/state"
	"guestgate/pkg/clock"
	dErrors "guestgate/pkg/domain-errors"
)

// Config tunes the background manager.
type Config struct {
	// PollInterval spaces the status polls after initiation.
	PollInterval time.Duration
	// MaxPolls caps the status polls before the attempt times out.
	MaxPolls int
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPolls     = 30
	defaultCallTimeout  = 15 * time.Second
)

// reasonRecordFound is the only failure reason a flagged check ever records.
// Whatever detail the provider reports is discarded: the retained outcome is
// pass/fail plus the opaque check id, never specific findings.
const reasonRecordFound = "record_found"

// Manager drives the background check channel: initiate, poll until the
// provider settles, record pass/fail.
type Manager struct {
	manager.Base
	checker providers.BackgroundChecker
	clk     clock.Clock
	cfg     Config
}

// New builds the manager for one session.
func New(store *state.Store, checker providers.BackgroundChecker, clk clock.Clock, logger *slog.Logger, cfg Config) *Manager {
	return &Manager{
		Base:    manager.NewBase(channels.ChannelBackgroundCheck, store, logger),
		checker: checker,
		clk:     clk,
		cfg:     cfg,
	}
}

// Start initiates a check for the subject. The result moves to pending
// immediately; the verdict lands asynchronously once the provider settles,
// or as a timeout failure when the poll budget runs out.
//
// Errors: CodeMissingConsent when the subject carries no recorded consent.
func (m *Manager) Start(ctx context.Context, subject providers.Subject) error {
	if subject.ConsentAt.IsZero() {
		return dErrors.New(dErrors.CodeMissingConsent,
			"background check requires recorded consent")
	}

	gen := m.BeginAttempt()
	m.Record(channels.StartAttempt(m.Channel(), "", m.clk.Now()))

	// Polling outlives the action request; detach from its cancellation.
	// Each provider call still gets its own timeout.
	runCtx := context.WithoutCancel(ctx)
	go m.run(runCtx, gen, subject)
	return nil
}

func (m *Manager) run(ctx context.Context, gen uint64, subject providers.Subject) {
	report, err := m.initiate(ctx, subject)
	if err != nil {
		m.settle(ctx, gen, report, err)
		return
	}

	for polls := 0; report.State == providers.BackgroundRunning; polls++ {
		if polls >= m.maxPolls() {
			if !m.AttemptCurrent(gen) {
				m.DropStale(ctx, gen)
				return
			}
			m.Logger().WarnContext(ctx, "background check poll budget exhausted",
				"channel", m.Channel().String(), "reference", report.Reference, "polls", polls)
			m.advance(channels.StatusFailed, channels.ReasonTimeout, report.Reference, m.clk.Now())
			return
		}
		m.wait()
		if !m.AttemptCurrent(gen) {
			m.DropStale(ctx, gen)
			return
		}
		report, err = m.poll(ctx, report.Reference)
		if err != nil {
			m.settle(ctx, gen, report, err)
			return
		}
	}
	m.settle(ctx, gen, report, nil)
}

func (m *Manager) initiate(ctx context.Context, subject providers.Subject) (providers.BackgroundReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout())
	defer cancel()
	return m.checker.InitiateCheck(callCtx, subject)
}

func (m *Manager) poll(ctx context.Context, reference string) (providers.BackgroundReport, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout())
	defer cancel()
	return m.checker.CheckStatus(callCtx, reference)
}

// settle records the terminal outcome, unless a newer attempt superseded
// this one.
func (m *Manager) settle(ctx context.Context, gen uint64, report providers.BackgroundReport, err error) {
	if !m.AttemptCurrent(gen) {
		m.DropStale(ctx, gen)
		return
	}
	now := m.clk.Now()

	if err != nil {
		m.Logger().WarnContext(ctx, "background check call failed",
			"channel", m.Channel().String(), "error", err)
		m.advance(channels.StatusFailed, manager.FailureReason(err), report.Reference, now)
		return
	}
	switch report.State {
	case providers.BackgroundClear:
		m.advance(channels.StatusVerified, "", report.Reference, now)
	case providers.BackgroundFlagged:
		m.advance(channels.StatusFailed, reasonRecordFound, report.Reference, now)
	default:
		m.Logger().WarnContext(ctx, "background check settled in unexpected state",
			"channel", m.Channel().String(), "state", string(report.State))
		m.advance(channels.StatusFailed, channels.ReasonProviderError, report.Reference, now)
	}
}

func (m *Manager) advance(next channels.Status, reason, reference string, now time.Time) {
	if _, err := m.Advance(next, reason, reference, now); err != nil {
		m.Logger().Error("background result transition failed",
			"channel", m.Channel().String(), "next", next.String(), "error", err)
	}
}

// wait sleeps one poll interval on the session clock.
func (m *Manager) wait() {
	done := make(chan struct{})
	m.clk.AfterFunc(m.pollInterval(), func() { close(done) })
	<-done
}

func (m *Manager) pollInterval() time.Duration {
	if m.cfg.PollInterval > 0 {
		return m.cfg.PollInterval
	}
	return defaultPollInterval
}

func (m *Manager) maxPolls() int {
	if m.cfg.MaxPolls > 0 {
		return m.cfg.MaxPolls
	}
	return defaultMaxPolls
}

func (m *Manager) callTimeout() time.Duration {
	if m.cfg.CallTimeout > 0 {
		return m.cfg.CallTimeout
	}
	return defaultCallTimeout
}

var _ manager.Manager = (*Manager)(nil)

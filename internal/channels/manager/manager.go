// Package manager holds the capability shape every verification channel
// manager shares. A manager starts an attempt by recording a pending result,
// completes it asynchronously by advancing to a terminal status, and converts
// every provider failure into a failed result instead of letting it escape
// the manager boundary. Inputs differ per channel, so Start stays typed on
// the concrete managers; everything after the start is uniform.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/state"
	dErrors "guestgate/pkg/domain-errors"
	"guestgate/pkg/platform/sentinel"
)

// Manager is the lifecycle surface common to all channel managers.
type Manager interface {
	Channel() channels.Channel
	// Status projects the channel's lifecycle position from the store.
	Status() channels.Status
	// Result returns the latest recorded outcome for the channel.
	Result() channels.Result
	// Abort invalidates in-flight work: any verdict still traveling for the
	// aborted attempt is dropped on arrival.
	Abort()
}

// Base carries what every manager needs: the session store results are
// written through, the attempt generation guard, and a logger. Concrete
// managers embed it.
type Base struct {
	ch     channels.Channel
	store  *state.Store
	logger *slog.Logger
	gen    channels.Generation
}

// NewBase wires the shared manager pieces for one channel.
func NewBase(ch channels.Channel, store *state.Store, logger *slog.Logger) Base {
	return Base{ch: ch, store: store, logger: logger}
}

// Channel identifies which verification method this manager drives.
func (b *Base) Channel() channels.Channel { return b.ch }

// Store exposes the session state store for manager-specific sections.
func (b *Base) Store() *state.Store { return b.store }

// Logger exposes the manager's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Result reads the channel's current outcome from the store. A store read
// failure is a wiring bug; it is logged and the zero not-started result is
// returned so callers never branch on it.
func (b *Base) Result() channels.Result {
	cs, err := state.Get[state.ChannelsState](b.store, state.SectionChannels)
	if err != nil {
		b.logger.Error("channel result read failed",
			"channel", b.ch.String(), "error", err)
		return channels.NewResult(b.ch)
	}
	return cs.Result(b.ch)
}

// Status is shorthand for Result().Status.
func (b *Base) Status() channels.Status { return b.Result().Status }

// Abort bumps the attempt generation so any in-flight verdict is stale.
func (b *Base) Abort() { b.gen.Bump() }

// BeginAttempt starts a new attempt generation and returns it. Managers
// capture the value before awaiting a provider.
func (b *Base) BeginAttempt() uint64 { return b.gen.Bump() }

// Attempt returns the live attempt generation.
func (b *Base) Attempt() uint64 { return b.gen.Current() }

// AttemptCurrent reports whether a captured generation is still the live
// attempt. A false return means a newer attempt superseded this one and its
// verdict must be dropped.
func (b *Base) AttemptCurrent(gen uint64) bool { return b.gen.IsCurrent(gen) }

// Record writes a replacement result for the channel. Used for attempt
// starts, which replace rather than transition.
func (b *Base) Record(res channels.Result) {
	_, err := state.Update(b.store, state.SectionChannels, func(cs state.ChannelsState) state.ChannelsState {
		return cs.WithResult(res)
	})
	if err != nil {
		b.logger.Error("channel result write failed",
			"channel", b.ch.String(), "error", err)
	}
}

// Advance moves the stored result to the next status, validating the
// transition against what the store currently holds. A non-empty reference
// replaces the stored one; providers often hand the check id back only with
// the verdict, after the pending result was already written.
func (b *Base) Advance(next channels.Status, reason, reference string, now time.Time) (channels.Result, error) {
	var advanced channels.Result
	_, err := b.store.Apply(state.SectionChannels, func(v state.Value) (state.Value, error) {
		cs, ok := v.(state.ChannelsState)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeStateMisuse,
				"channels section holds %T", v)
		}
		res, advErr := cs.Result(b.ch).Advance(next, reason, now)
		if advErr != nil {
			return nil, advErr
		}
		if reference != "" {
			res.Reference = reference
		}
		advanced = res
		return cs.WithResult(res), nil
	})
	return advanced, err
}

// DropStale logs a verdict that arrived for a superseded attempt. Callers
// invoke it instead of writing state.
func (b *Base) DropStale(ctx context.Context, gen uint64) {
	b.logger.DebugContext(ctx, "stale channel verdict dropped",
		"channel", b.ch.String(), "generation", gen)
}

// FailureReason maps a provider call error onto the retained failure reason.
// Shared by all managers so identical failures read identically across
// channels.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable),
		dErrors.HasCode(err, dErrors.CodeChannelUnavailable):
		return channels.ReasonProviderUnavailable
	case errors.Is(err, context.DeadlineExceeded),
		dErrors.HasCode(err, dErrors.CodeTimeout):
		return channels.ReasonTimeout
	default:
		return channels.ReasonProviderError
	}
}

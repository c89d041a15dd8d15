package verification

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/channels/background"
	"guestgate/internal/channels/document"
	"guestgate/internal/channels/phone"
	"guestgate/internal/session/models"
	"guestgate/internal/state"
	"guestgate/internal/trust"
	"guestgate/pkg/clock"
	"guestgate/pkg/platform/audit"
)

// runtime is the in-memory half of one verification session: its state
// store, channel managers, event hub, and the debounced snapshot writer.
// Created by StartSession, torn down by Close; ResetSession reuses it.
type runtime struct {
	svc *Service

	// mu serializes session-aggregate mutations (advance, complete, reset).
	// Store subscribers never take it; they use diffMu only.
	mu      sync.Mutex
	session *models.Session

	store *state.Store
	hub   *Hub

	document   *document.Manager
	phone      *phone.Manager
	background *background.Manager

	saver *snapshotSaver

	// diffMu guards lastResults, the previous channel outcomes the watcher
	// diffs against. Separate from mu so a store write under mu can deliver
	// to the watcher without deadlocking.
	diffMu      sync.Mutex
	lastResults map[channels.Channel]channels.Result

	// resetting quiesces the channels watcher while ResetSession rewrites
	// sections, so the teardown writes produce no events or recomputes.
	resetting atomic.Bool

	cancels []func()
}

// abortChannels invalidates every in-flight attempt. Phone abort also stops
// the countdown timer and clears the live challenge.
func (rt *runtime) abortChannels() {
	rt.document.Abort()
	rt.phone.Abort()
	rt.background.Abort()
}

// teardown cancels subscriptions and pending saves. The runtime is dead
// afterwards; reads hit a closed registry entry instead.
func (rt *runtime) teardown() {
	for _, cancel := range rt.cancels {
		cancel()
	}
	rt.cancels = nil
	rt.saver.Stop()
	rt.abortChannels()
}

// watchChannels reacts to channel-result changes from any goroutine: hub
// events, audit, outcome metrics, and the score recompute. The immediate
// fire on subscribe diffs against the seeded results and so reports nothing.
func (rt *runtime) watchChannels() {
	cancel, err := rt.store.Subscribe(state.SectionChannels, func(_ state.Section, value state.Value) {
		if rt.resetting.Load() {
			return
		}
		channelsState, ok := value.(state.ChannelsState)
		if !ok {
			return
		}
		rt.onChannelsChanged(channelsState)
	})
	if err != nil {
		// Sections are a closed set; this is a wiring bug.
		rt.svc.logger.Error("channels subscription failed", "error", err)
		return
	}
	rt.cancels = append(rt.cancels, cancel)
}

func (rt *runtime) onChannelsChanged(channelsState state.ChannelsState) {
	changed := rt.diffResults(channelsState)
	if len(changed) == 0 {
		return
	}

	ctx := context.Background()
	for _, transition := range changed {
		result := transition.to
		rt.hub.Publish(Event{
			Kind:      EventChannelResultChanged,
			SessionID: rt.session.ID,
			At:        result.UpdatedAt,
			Result:    &result,
		})
		rt.recordOutcome(ctx, transition)
	}
	rt.recomputeScore(ctx)
}

// resultTransition is one observed per-channel change.
type resultTransition struct {
	from channels.Result
	to   channels.Result
}

// diffResults compares against the last seen outcomes and advances the
// baseline. Concurrent deliveries each see a consistent before/after pair.
func (rt *runtime) diffResults(channelsState state.ChannelsState) []resultTransition {
	rt.diffMu.Lock()
	defer rt.diffMu.Unlock()

	var changed []resultTransition
	for _, ch := range channels.All {
		next := channelsState.Result(ch)
		prev, seen := rt.lastResults[ch]
		if !seen {
			prev = channels.NewResult(ch)
		}
		if prev == next {
			continue
		}
		rt.lastResults[ch] = next
		changed = append(changed, resultTransition{from: prev, to: next})
	}
	return changed
}

// resetBaseline clears the watcher's diff state after a section reset.
func (rt *runtime) resetBaseline() {
	rt.diffMu.Lock()
	defer rt.diffMu.Unlock()
	rt.lastResults = make(map[channels.Channel]channels.Result)
}

// recordOutcome emits the audit trail and metrics for one settled result.
func (rt *runtime) recordOutcome(ctx context.Context, transition resultTransition) {
	result := transition.to
	switch result.Status {
	case channels.StatusVerified:
		err := rt.svc.audit.channelVerified(ctx, rt.session.GuestID, rt.session.ID,
			result.Channel.String(), result.Reference)
		rt.svc.audit.logCompliance(ctx, audit.EventChannelVerified, err)
	case channels.StatusFailed:
		rt.svc.audit.channelFailed(ctx, rt.session.ID, result.Channel.String(), result.Reason)
	}

	if result.Status.Terminal() {
		settle := time.Duration(0)
		if transition.from.Status == channels.StatusPending && !transition.from.UpdatedAt.IsZero() {
			settle = result.UpdatedAt.Sub(transition.from.UpdatedAt)
		}
		rt.svc.channelMetrics.RecordOutcome(result.Channel.String(), result.Status.String(), settle)
	}
}

// recomputeScore reduces the current form and channel state to a score and
// writes it to the results section. Identical scores are a no-op, which is
// what breaks the change-notification loop.
func (rt *runtime) recomputeScore(ctx context.Context) {
	formState, err := state.Get[state.FormState](rt.store, state.SectionForm)
	if err != nil {
		rt.svc.logger.ErrorContext(ctx, "score recompute read failed", "error", err)
		return
	}
	channelsState, err := state.Get[state.ChannelsState](rt.store, state.SectionChannels)
	if err != nil {
		rt.svc.logger.ErrorContext(ctx, "score recompute read failed", "error", err)
		return
	}

	score := trust.Compute(formState.Data, channelsState.Results, rt.svc.cfg.Trust, rt.svc.clk.Now())

	changed, err := state.Update(rt.store, state.SectionResults, func(cur state.ResultsState) state.ResultsState {
		if cur.Score != nil && sameScore(*cur.Score, score) {
			return cur
		}
		return state.ResultsState{Score: &score}
	})
	if err != nil {
		rt.svc.logger.ErrorContext(ctx, "score write failed", "error", err)
		return
	}
	if !changed {
		return
	}

	rt.svc.trustMetrics.ObserveScore(score.Value, string(score.Level))
	rt.hub.Publish(Event{
		Kind:      EventScoreUpdated,
		SessionID: rt.session.ID,
		At:        score.ComputedAt,
		Score:     &score,
	})
	auditErr := rt.svc.audit.scoreComputed(ctx, rt.session.GuestID, rt.session.ID,
		score.Value, string(score.Level))
	rt.svc.audit.logCompliance(ctx, audit.EventScoreComputed, auditErr)
}

// sameScore ignores ComputedAt: a recompute that lands on the same value,
// level, and contributions is not a change.
func sameScore(a, b trust.Score) bool {
	return a.Value == b.Value && a.Level == b.Level && slices.Equal(a.Adjustments, b.Adjustments)
}

// snapshotSaver debounces snapshot writes so rapid form edits collapse into
// one persistence call. Flush forces the pending write; Stop discards it.
type snapshotSaver struct {
	mu    sync.Mutex
	clk   clock.Clock
	delay time.Duration
	timer clock.Timer
	save  func(ctx context.Context)
}

func newSnapshotSaver(clk clock.Clock, delay time.Duration, save func(ctx context.Context)) *snapshotSaver {
	return &snapshotSaver{clk: clk, delay: delay, save: save}
}

// Schedule arms (or re-arms) the debounce window.
func (s *snapshotSaver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clk.AfterFunc(s.delay, func() {
		s.save(context.Background())
	})
}

// Flush cancels any pending write and saves now.
func (s *snapshotSaver) Flush(ctx context.Context) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.save(ctx)
}

// Stop discards any pending write.
func (s *snapshotSaver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

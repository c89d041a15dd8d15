package verification

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/form"
	"guestgate/internal/trust"
	id "guestgate/pkg/domain"
)

// EventKind names one engine event on the UI surface.
type EventKind string

// Engine events. Section subscriptions carry the full state; these carry the
// moments a client reacts to without diffing.
const (
	EventStepChanged          EventKind = "step-changed"
	EventChannelResultChanged EventKind = "channel-result-changed"
	EventScoreUpdated         EventKind = "score-updated"
	EventChallengeExpired     EventKind = "challenge-expired"
)

// Event is one engine occurrence. Kind decides which payload fields are set:
// Step (and Completed) for step changes, Result for channel outcomes, Score
// for recomputations, Reference for expired challenges.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID id.SessionID    `json:"session_id"`
	At        time.Time       `json:"at"`
	Step      form.Step       `json:"step,omitempty"`
	Completed bool            `json:"completed,omitempty"`
	Result    *channels.Result `json:"result,omitempty"`
	Score     *trust.Score    `json:"score,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// Hub fans engine events out to subscribers. One hub serves one session
// runtime; transports subscribe for the session they stream.
type Hub struct {
	mu      sync.Mutex
	logger  *slog.Logger
	nextSub uint64
	subs    map[uint64]func(Event)
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[uint64]func(Event))}
}

// Subscribe registers a callback for every subsequent event. The returned
// cancel is idempotent and safe to call from inside the callback.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	h.nextSub++
	subID := h.nextSub
	h.subs[subID] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, subID)
	}
}

// Publish delivers the event to every subscriber in subscription order. The
// lock is not held during callbacks so subscribers may cancel or re-publish.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.subs))
	for subID := range h.subs {
		ids = append(ids, subID)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, subID := range ids {
		fns = append(fns, h.subs[subID])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		h.deliver(fn, event)
	}
}

// deliver invokes one callback with panic isolation: a throwing subscriber is
// logged and skipped, later subscribers still run.
func (h *Hub) deliver(fn func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event subscriber panicked",
				"kind", string(event.Kind),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()
	fn(event)
}

// Package ops provides a fire-and-forget audit tracker for operational events.
//
// The Tracker emits ops events with best-effort semantics: events may be
// sampled down, dropped when the circuit breaker is open, or lost on persist
// failure. Callers never block on audit and never see an error.
//
// Use for: session_started, step_advanced, channel_started, snapshot_saved
package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "guestgate/pkg/platform/audit"
)

const defaultPersistTimeout = 5 * time.Second

// Tracker emits operational audit events without blocking the caller.
type Tracker struct {
	store   audit.Store
	sampler *Sampler
	breaker *CircuitBreaker
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// TrackerOption configures the Tracker.
type TrackerOption func(*Tracker)

// WithSampler sets the sampler; the default keeps every event.
func WithSampler(s *Sampler) TrackerOption {
	return func(t *Tracker) {
		t.sampler = s
	}
}

// WithCircuitBreaker sets the breaker guarding the store.
func WithCircuitBreaker(cb *CircuitBreaker) TrackerOption {
	return func(t *Tracker) {
		t.breaker = cb
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithLogger sets a logger for persist failures.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates an ops tracker over the given store.
func NewTracker(store audit.Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   store,
		sampler: NewSampler(1.0),
		breaker: NewCircuitBreaker(0, 0),
		timeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records an operational event. Never blocks and never returns an
// error: sampling and the circuit breaker may drop the event, and persistence
// happens in the background.
func (t *Tracker) Track(ctx context.Context, event audit.OpsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !t.sampler.ShouldSample(event.Action) {
		t.metrics.IncSampled()
		return
	}

	if !t.breaker.Allow() {
		t.metrics.IncCircuitBreakerDropped()
		t.metrics.SetCircuitBreakerState(true)
		return
	}

	// Detach from the request context: the event should land even when the
	// request finishes first.
	persistCtx := context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		persistCtx, cancel := context.WithTimeout(persistCtx, t.timeout)
		defer cancel()

		if err := t.store.Append(persistCtx, event.ToEvent()); err != nil {
			t.breaker.RecordFailure()
			t.metrics.IncPersistFailures()
			t.metrics.SetCircuitBreakerState(t.breaker.IsOpen())
			if t.logger != nil {
				t.logger.Warn("ops audit persist failed",
					"action", event.Action,
					"error", err,
				)
			}
			return
		}

		t.breaker.RecordSuccess()
		t.metrics.IncTracked()
		t.metrics.SetCircuitBreakerState(false)
	}()
}

// Close waits for in-flight persists to finish.
func (t *Tracker) Close() error {
	t.wg.Wait()
	return nil
}

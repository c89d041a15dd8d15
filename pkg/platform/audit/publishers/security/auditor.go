// Package security provides a buffered audit publisher for fraud-relevant events.
//
// The Auditor emits security events with non-blocking semantics: Emit places
// the event in a bounded ring buffer and a background flusher batches writes
// to the store. Under sustained store outage the oldest buffered events are
// dropped first.
//
// Use for: channel_failed, code_mismatch
package security

import (
	"context"
	"log/slog"
	"time"

	audit "guestgate/pkg/platform/audit"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultFlushBatch    = 64
	defaultFlushTimeout  = 5 * time.Second
)

// Auditor emits security events through a ring buffer. Emission never blocks
// and never fails; delivery is best-effort with bounded memory.
type Auditor struct {
	store  audit.Store
	buffer *RingBuffer
	logger *slog.Logger

	interval time.Duration
	batch    int

	stop chan struct{}
	done chan struct{}
}

// AuditorOption configures the Auditor.
type AuditorOption func(*Auditor)

// WithBufferCapacity sets the ring buffer size.
func WithBufferCapacity(n int) AuditorOption {
	return func(a *Auditor) {
		a.buffer = NewRingBuffer(n)
	}
}

// WithFlushInterval sets how often buffered events are written out.
func WithFlushInterval(d time.Duration) AuditorOption {
	return func(a *Auditor) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithFlushBatch caps how many events one flush writes.
func WithFlushBatch(n int) AuditorOption {
	return func(a *Auditor) {
		if n > 0 {
			a.batch = n
		}
	}
}

// WithLogger sets a logger for flush failures.
func WithLogger(logger *slog.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = logger
	}
}

// NewAuditor creates a security auditor and starts its flusher.
func NewAuditor(store audit.Store, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		store:    store,
		buffer:   NewRingBuffer(0),
		interval: defaultFlushInterval,
		batch:    defaultFlushBatch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Emit buffers a security event. Never blocks; when the buffer is full the
// oldest event is evicted.
func (a *Auditor) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}
	a.buffer.Enqueue(event)
}

// Flush writes one batch of buffered events to the store. On a store error
// the remaining batch is re-buffered and the pass stops; the next interval
// retries.
func (a *Auditor) Flush() {
	events := a.buffer.DequeueBatch(a.batch)
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
	defer cancel()

	for i, event := range events {
		if err := a.store.Append(ctx, event.ToEvent()); err != nil {
			if a.logger != nil {
				a.logger.Warn("security audit flush failed, re-buffering",
					"pending", len(events)-i,
					"error", err,
				)
			}
			for _, unwritten := range events[i:] {
				if !a.buffer.TryEnqueue(unwritten) {
					// Buffer refilled while flushing; the newest signal wins.
					return
				}
			}
			return
		}
	}
}

// Pending returns how many events wait in the buffer.
func (a *Auditor) Pending() int { return a.buffer.Len() }

// Close flushes remaining events and stops the flusher.
func (a *Auditor) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *Auditor) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			// Drain whatever is left; stop early if the store makes no
			// progress so shutdown cannot hang on an outage.
			for a.buffer.Len() > 0 {
				before := a.buffer.Len()
				a.Flush()
				if a.buffer.Len() >= before {
					return
				}
			}
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

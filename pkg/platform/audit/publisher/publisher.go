// Package publisher provides the unified audit emission path.
//
// The Publisher wraps a Store with optional asynchronous buffering. In sync
// mode Emit blocks until the store accepts the event; with WithAsyncBuffer a
// background drainer persists events and Emit only fails when the buffer is
// full. Category-aware pipelines live in the publishers subpackages; this
// type is the simple wiring used when one store serves every category.
package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	id "guestgate/pkg/domain"
	audit "guestgate/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer has no
// room. The event is dropped; audit emission never blocks the caller.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher emits audit events to a store.
type Publisher struct {
	store audit.Store

	inbox chan audit.Event
	done  chan struct{}

	closeOnce sync.Once
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
// Events are persisted by a background goroutine; Close drains the buffer.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size <= 0 {
			size = 1
		}
		p.inbox = make(chan audit.Event, size)
	}
}

// NewPublisher creates a publisher over the given store. Without options the
// publisher is synchronous.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records an audit event. A zero timestamp is stamped with the current
// time. In sync mode the store error is returned directly; in async mode the
// only failure is ErrBufferFull or the caller's context error.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// List returns the audit trail for one session.
func (p *Publisher) List(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	return p.store.ListBySession(ctx, sessionID)
}

// Close stops the async drainer after flushing buffered events. Safe to call
// more than once and a no-op in sync mode.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox == nil {
			return
		}
		close(p.inbox)
		<-p.done
	})
}

func (p *Publisher) drain() {
	defer close(p.done)
	for event := range p.inbox {
		// Best effort: a failed append drops the event. The store logs
		// its own failures.
		_ = p.store.Append(context.Background(), event)
	}
}

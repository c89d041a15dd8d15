// Package worker relays audit events from the Postgres outbox into Kafka.
//
// The relay completes the transactional outbox: stores append events to the
// outbox table inside the caller's transaction, and the relay drains
// unpublished entries to the per-category audit topics. Delivery is
// at-least-once; the consumer's materialization inserts are idempotent.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	txcontext "guestgate/pkg/platform/tx"
)

// Producer is the Kafka surface the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, topic string, key, value []byte) error
}

// TopicMapper resolves the destination topic for an audit category.
type TopicMapper func(category string) string

const (
	defaultInterval = time.Second
	defaultBatch    = 100
)

// Relay drains the outbox table into Kafka on a fixed interval.
//
// Entries are claimed with FOR UPDATE SKIP LOCKED so multiple relay
// replicas can share the table without double-publishing in the happy path.
// A crash between produce and commit re-publishes the batch.
type Relay struct {
	db       *sql.DB
	producer Producer
	topicFor TopicMapper
	logger   *slog.Logger
	metrics  *Metrics

	interval time.Duration
	batch    int
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets the poll interval between outbox passes.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps how many entries one pass claims.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// NewRelay creates an outbox relay.
func NewRelay(db *sql.DB, producer Producer, topicFor TopicMapper, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:       db,
		producer: producer,
		topicFor: topicFor,
		logger:   logger,
		interval: defaultInterval,
		batch:    defaultBatch,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			relayed, err := r.relayOnce(ctx)
			if err != nil {
				r.metrics.IncPassFailures()
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
				continue
			}
			if relayed > 0 {
				r.metrics.AddRelayed(relayed)
				r.logger.DebugContext(ctx, "relayed audit outbox batch", "count", relayed)
			}
		}
	}
}

type outboxEntry struct {
	id      uuid.UUID
	payload []byte
}

// relayOnce claims one batch, produces each entry, and marks it published.
// The claim and the publish marks share a transaction: a produce failure
// rolls everything back and the batch is retried on the next pass.
func (r *Relay) relayOnce(ctx context.Context) (int, error) {
	relayed := 0
	err := txcontext.Run(ctx, r.db, func(ctx context.Context) error {
		sqlTx, ok := txcontext.From(ctx)
		if !ok {
			return fmt.Errorf("relay transaction missing from context")
		}

		rows, err := sqlTx.QueryContext(ctx, `
			SELECT id, payload
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, r.batch)
		if err != nil {
			return fmt.Errorf("claim outbox entries: %w", err)
		}

		var entries []outboxEntry
		for rows.Next() {
			var e outboxEntry
			if err := rows.Scan(&e.id, &e.payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox entry: %w", err)
			}
			entries = append(entries, e)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate outbox entries: %w", err)
		}
		rows.Close()

		for _, e := range entries {
			topic, key := r.route(e)
			if err := r.producer.ProduceSync(ctx, topic, key, e.payload); err != nil {
				return fmt.Errorf("produce outbox entry %s: %w", e.id, err)
			}
			if _, err := sqlTx.ExecContext(ctx,
				`UPDATE outbox SET published_at = $1 WHERE id = $2`,
				time.Now(), e.id,
			); err != nil {
				return fmt.Errorf("mark outbox entry %s published: %w", e.id, err)
			}
			relayed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relayed, nil
}

// route derives the destination topic and record key from the payload.
// The key is the audit event ID so the consumer can materialize
// idempotently; the category picks the topic.
func (r *Relay) route(e outboxEntry) (topic string, key []byte) {
	var envelope struct {
		ID       string `json:"ID"`
		Category string `json:"Category"`
	}
	if err := json.Unmarshal(e.payload, &envelope); err != nil || envelope.ID == "" {
		// Malformed payloads must not wedge the outbox: ship them on the
		// operations topic keyed by the outbox row.
		r.logger.Warn("outbox payload missing envelope, routing to operations",
			"outbox_id", e.id,
		)
		return r.topicFor("operations"), []byte(e.id.String())
	}
	return r.topicFor(envelope.Category), []byte(envelope.ID)
}

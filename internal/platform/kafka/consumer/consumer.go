// Package consumer provides the franz-go group consumer feeding the audit
// materializer.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"guestgate/internal/platform/config"
)

// Message is one record delivered to a handler.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning nil commits the record; an error
// makes the consumer retry before giving up on it.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

const (
	handleRetries = 3
	retryBackoff  = 250 * time.Millisecond
)

// Consumer polls the audit topics as part of a consumer group and hands each
// record to the handler.
//
// Records that still fail after retries are committed and skipped: the
// materializer's inserts are idempotent, so redelivery after a crash is
// harmless, while skipping keeps one poison message from wedging a partition.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New connects a group consumer for the given topics. Returns nil if no
// brokers are configured.
func New(cfg config.KafkaConfig, topics []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}

	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until the context is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var processed []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			if err := c.handle(ctx, rec); err != nil {
				c.logger.ErrorContext(ctx, "audit record dropped after retries",
					"topic", rec.Topic,
					"partition", rec.Partition,
					"offset", rec.Offset,
					"error", err,
				)
			}
			processed = append(processed, rec)
		}

		if len(processed) > 0 {
			if err := c.client.CommitRecords(ctx, processed...); err != nil {
				c.logger.ErrorContext(ctx, "kafka offset commit failed", "error", err)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, rec *kgo.Record) error {
	msg := &Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Timestamp: rec.Timestamp,
	}

	var err error
	for attempt := 0; attempt < handleRetries; attempt++ {
		if err = c.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return err
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}

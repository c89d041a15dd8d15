//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "guestgate/pkg/domain"
	audit "guestgate/pkg/platform/audit"
	"guestgate/pkg/platform/audit/store/postgres"
	"guestgate/pkg/platform/audit/worker"
	txcontext "guestgate/pkg/platform/tx"
	"guestgate/pkg/testutil/containers"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_events (
	id              UUID PRIMARY KEY,
	category        TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	guest_id        UUID,
	session_id      UUID,
	subject         TEXT NOT NULL DEFAULT '',
	action          TEXT NOT NULL,
	channel         TEXT NOT NULL DEFAULT '',
	step            TEXT NOT NULL DEFAULT '',
	decision        TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	reference       TEXT NOT NULL DEFAULT '',
	score           INT NOT NULL DEFAULT 0,
	subject_id_hash TEXT NOT NULL DEFAULT '',
	request_id      TEXT NOT NULL DEFAULT '',
	ip              TEXT NOT NULL DEFAULT '',
	device_family   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_compliance (
	id              UUID PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	guest_id        UUID,
	session_id      UUID,
	action          TEXT NOT NULL,
	channel         TEXT NOT NULL DEFAULT '',
	decision        TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	reference       TEXT NOT NULL DEFAULT '',
	score           INT NOT NULL DEFAULT 0,
	subject_id_hash TEXT NOT NULL DEFAULT '',
	request_id      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_security (
	id            UUID PRIMARY KEY,
	timestamp     TIMESTAMPTZ NOT NULL,
	session_id    UUID,
	subject       TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	channel       TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	ip            TEXT NOT NULL DEFAULT '',
	device_family TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	severity      TEXT NOT NULL DEFAULT 'info'
);

CREATE TABLE IF NOT EXISTS audit_ops (
	id         UUID,
	timestamp  TIMESTAMPTZ NOT NULL,
	session_id UUID,
	subject    TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	step       TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, timestamp)
);
`

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())

	_, err := s.postgres.Exec(context.Background(), auditSchema)
	s.Require().NoError(err)

	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"outbox", "audit_events", "audit_compliance", "audit_security", "audit_ops")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAppendWritesOutboxEntry() {
	ctx := context.Background()
	sessionID := id.NewSessionID()

	err := s.store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Action:    string(audit.EventChannelVerified),
		Channel:   "document",
		Decision:  "verified",
	})
	s.Require().NoError(err)

	var (
		aggregateType string
		aggregateID   string
		eventType     string
	)
	row := s.postgres.DB.QueryRowContext(ctx,
		`SELECT aggregate_type, aggregate_id, event_type FROM outbox`)
	s.Require().NoError(row.Scan(&aggregateType, &aggregateID, &eventType))

	s.Equal("session", aggregateType)
	s.Equal(sessionID.String(), aggregateID)
	s.Equal(string(audit.EventChannelVerified), eventType)
}

func (s *PostgresStoreSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()

	boom := errors.New("operation failed")
	err := txcontext.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		if appendErr := s.store.Append(ctx, audit.Event{
			Timestamp: time.Now(),
			SessionID: id.NewSessionID(),
			Action:    string(audit.EventConsentRecorded),
		}); appendErr != nil {
			return appendErr
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	var count int
	row := s.postgres.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`)
	s.Require().NoError(row.Scan(&count))
	s.Zero(count, "rollback must take the outbox entry with it")
}

func (s *PostgresStoreSuite) TestAppendWithIDMaterializesAndLists() {
	ctx := context.Background()
	sessionID := id.NewSessionID()
	guestID := id.NewGuestID()
	eventID := uuid.New()

	event := audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventScoreComputed),
		Decision:  "pass",
		Score:     82,
	}

	s.Require().NoError(s.store.AppendWithID(ctx, eventID, event))
	// Replays must be invisible
	s.Require().NoError(s.store.AppendWithID(ctx, eventID, event))

	events, err := s.store.ListBySession(ctx, sessionID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventScoreComputed), events[0].Action)
	s.Equal(82, events[0].Score)
	s.Equal(guestID, events[0].GuestID)

	byGuest, err := s.store.ListByGuest(ctx, guestID)
	s.Require().NoError(err)
	s.Len(byGuest, 1)
}

func (s *PostgresStoreSuite) TestCategoryTablesAreIdempotent() {
	ctx := context.Background()
	eventID := uuid.New()

	record := audit.ComplianceRecord{
		Timestamp: time.Now(),
		GuestID:   id.NewGuestID(),
		SessionID: id.NewSessionID(),
		Action:    string(audit.EventChannelVerified),
		Channel:   "phone",
		Decision:  "verified",
	}
	s.Require().NoError(s.store.AppendCompliance(ctx, eventID, record))
	s.Require().NoError(s.store.AppendCompliance(ctx, eventID, record))

	var count int
	row := s.postgres.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_compliance`)
	s.Require().NoError(row.Scan(&count))
	s.Equal(1, count)
}

// recordingProducer captures relayed records in place of a Kafka client.
type recordingProducer struct {
	mu      sync.Mutex
	fail    bool
	records []relayedRecord
}

type relayedRecord struct {
	topic string
	key   string
}

func (p *recordingProducer) ProduceSync(_ context.Context, topic string, key, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unreachable")
	}
	p.records = append(p.records, relayedRecord{topic: topic, key: string(key)})
	return nil
}

func (p *recordingProducer) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

func (p *recordingProducer) snapshot() []relayedRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]relayedRecord{}, p.records...)
}

func (s *PostgresStoreSuite) TestRelayPublishesAndMarksEntries() {
	ctx := context.Background()

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		SessionID: id.NewSessionID(),
		Action:    string(audit.EventChannelVerified),
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		SessionID: id.NewSessionID(),
		Action:    string(audit.EventStepAdvanced),
	}))

	producer := &recordingProducer{}
	relay := worker.NewRelay(
		s.postgres.DB,
		producer,
		func(category string) string { return "guestgate.audit." + category + ".v1" },
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		worker.WithInterval(10*time.Millisecond),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(runCtx)
	}()

	s.Require().Eventually(func() bool {
		return len(producer.snapshot()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	records := producer.snapshot()
	topics := map[string]bool{}
	for _, r := range records {
		topics[r.topic] = true
		s.NotEmpty(r.key)
	}
	s.True(topics["guestgate.audit.compliance.v1"], "channel_verified routes to compliance")
	s.True(topics["guestgate.audit.operations.v1"], "step_advanced routes to operations")

	var unpublished int
	row := s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`)
	s.Require().NoError(row.Scan(&unpublished))
	s.Zero(unpublished)
}

func (s *PostgresStoreSuite) TestRelayRetriesAfterProduceFailure() {
	ctx := context.Background()

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		SessionID: id.NewSessionID(),
		Action:    string(audit.EventSessionStarted),
	}))

	producer := &recordingProducer{}
	producer.setFail(true)
	relay := worker.NewRelay(
		s.postgres.DB,
		producer,
		func(category string) string { return "guestgate.audit." + category + ".v1" },
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		worker.WithInterval(10*time.Millisecond),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(runCtx)
	}()

	// Give the relay a few failing passes; the entry must stay claimed-able
	time.Sleep(100 * time.Millisecond)
	var unpublished int
	row := s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`)
	s.Require().NoError(row.Scan(&unpublished))
	s.Equal(1, unpublished, "failed produce rolls the claim back")

	producer.setFail(false)
	s.Require().Eventually(func() bool {
		return len(producer.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

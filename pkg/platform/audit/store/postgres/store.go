package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "guestgate/pkg/domain"
	audit "guestgate/pkg/platform/audit"
	txcontext "guestgate/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox relay. Kafka is the source of truth for audit events; the
// audit_events table is a queryable materialization fed by the consumer.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
// Field names match audit.Event for proper deserialization by the consumer.
type outboxPayload struct {
	ID            string `json:"ID"`
	Category      string `json:"Category"`
	Timestamp     string `json:"Timestamp"`
	GuestID       string `json:"GuestID,omitempty"`
	SessionID     string `json:"SessionID,omitempty"`
	Subject       string `json:"Subject,omitempty"`
	Action        string `json:"Action"`
	Channel       string `json:"Channel,omitempty"`
	Step          string `json:"Step,omitempty"`
	Decision      string `json:"Decision,omitempty"`
	Reason        string `json:"Reason,omitempty"`
	Reference     string `json:"Reference,omitempty"`
	Score         int    `json:"Score,omitempty"`
	SubjectIDHash string `json:"SubjectIDHash,omitempty"`
	RequestID     string `json:"RequestID,omitempty"`
	IP            string `json:"IP,omitempty"`
	DeviceFamily  string `json:"DeviceFamily,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
// When the context carries a transaction the outbox insert joins it, so the
// audit record commits atomically with the operation it describes.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Always derive category from action - eventCategories is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:            eventID.String(),
		Category:      string(category),
		Timestamp:     event.Timestamp.Format(time.RFC3339Nano),
		Subject:       event.Subject,
		Action:        event.Action,
		Channel:       event.Channel,
		Step:          event.Step,
		Decision:      event.Decision,
		Reason:        event.Reason,
		Reference:     event.Reference,
		Score:         event.Score,
		SubjectIDHash: event.SubjectIDHash,
		RequestID:     event.RequestID,
		IP:            event.IP,
		DeviceFamily:  event.DeviceFamily,
	}
	if !event.GuestID.IsZero() {
		payload.GuestID = event.GuestID.String()
	}
	if !event.SessionID.IsZero() {
		payload.SessionID = event.SessionID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	// Sessions are the aggregate audit events hang off; events with no
	// session (startup, maintenance) aggregate on their own ID.
	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.SessionID.IsZero() {
		aggregateType = "session"
		aggregateID = event.SessionID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(), // outbox entry ID
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into the audit_events table with a
// specific ID. Used by the Kafka consumer to materialize events for querying.
// Idempotent - duplicate inserts are ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, guest_id, session_id, subject,
			action, channel, step, decision, reason, reference,
			score, subject_id_hash, request_id, ip, device_family
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`

	var guestID, sessionID *uuid.UUID
	if !event.GuestID.IsZero() {
		gid := uuid.UUID(event.GuestID)
		guestID = &gid
	}
	if !event.SessionID.IsZero() {
		sid := uuid.UUID(event.SessionID)
		sessionID = &sid
	}

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		string(event.Category),
		event.Timestamp,
		guestID,
		sessionID,
		event.Subject,
		event.Action,
		event.Channel,
		event.Step,
		event.Decision,
		event.Reason,
		event.Reference,
		event.Score,
		event.SubjectIDHash,
		event.RequestID,
		event.IP,
		event.DeviceFamily,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySession returns events for one verification session.
func (s *Store) ListBySession(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	query := selectEvents + `
		WHERE session_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(sessionID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListByGuest returns events for a guest across all their sessions.
func (s *Store) ListByGuest(ctx context.Context, guestID id.GuestID) ([]audit.Event, error) {
	query := selectEvents + `
		WHERE guest_id = $1
		ORDER BY timestamp DESC
	`

	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(guestID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := selectEvents + `
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

const selectEvents = `
		SELECT category, timestamp, guest_id, session_id, subject,
			   action, channel, step, decision, reason, reference,
			   score, subject_id_hash, request_id, ip, device_family
		FROM audit_events
`

// scanEvents scans multiple rows into an audit.Event slice.
func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category          string
			event             audit.Event
			guestIDNullable   *uuid.UUID
			sessionIDNullable *uuid.UUID
		)

		err := rows.Scan(
			&category,
			&event.Timestamp,
			&guestIDNullable,
			&sessionIDNullable,
			&event.Subject,
			&event.Action,
			&event.Channel,
			&event.Step,
			&event.Decision,
			&event.Reason,
			&event.Reference,
			&event.Score,
			&event.SubjectIDHash,
			&event.RequestID,
			&event.IP,
			&event.DeviceFamily,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		if guestIDNullable != nil {
			event.GuestID = id.GuestID(*guestIDNullable)
		}
		if sessionIDNullable != nil {
			event.SessionID = id.SessionID(*sessionIDNullable)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

// -----------------------------------------------------------------------------
// Category-specific storage methods for partitioned tables
// -----------------------------------------------------------------------------

// AppendCompliance inserts a compliance event into the audit_compliance table.
// Idempotent via ON CONFLICT DO NOTHING.
func (s *Store) AppendCompliance(ctx context.Context, eventID uuid.UUID, record audit.ComplianceRecord) error {
	query := `
		INSERT INTO audit_compliance (
			id, timestamp, guest_id, session_id, action, channel,
			decision, reason, reference, score, subject_id_hash, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		record.Timestamp,
		uuid.UUID(record.GuestID),
		uuid.UUID(record.SessionID),
		record.Action,
		record.Channel,
		record.Decision,
		record.Reason,
		record.Reference,
		record.Score,
		record.SubjectIDHash,
		record.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert compliance event: %w", err)
	}
	return nil
}

// AppendSecurity inserts a security event into the audit_security table.
// Idempotent via ON CONFLICT DO NOTHING.
func (s *Store) AppendSecurity(ctx context.Context, eventID uuid.UUID, record audit.SecurityRecord) error {
	query := `
		INSERT INTO audit_security (
			id, timestamp, session_id, subject, action, channel,
			reason, ip, device_family, request_id, severity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		record.Timestamp,
		uuid.UUID(record.SessionID),
		record.Subject,
		record.Action,
		record.Channel,
		record.Reason,
		record.IP,
		record.DeviceFamily,
		record.RequestID,
		record.Severity,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// AppendOps inserts an ops event into the audit_ops table.
// Idempotent via ON CONFLICT DO NOTHING.
func (s *Store) AppendOps(ctx context.Context, eventID uuid.UUID, record audit.OpsRecord) error {
	query := `
		INSERT INTO audit_ops (
			id, timestamp, session_id, subject, action, step, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id, timestamp) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		eventID,
		record.Timestamp,
		uuid.UUID(record.SessionID),
		record.Subject,
		record.Action,
		record.Step,
		record.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert ops event: %w", err)
	}
	return nil
}

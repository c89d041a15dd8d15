package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"guestgate/internal/platform/kafka/consumer"
	id "guestgate/pkg/domain"
	"guestgate/pkg/platform/audit"

	"github.com/google/uuid"
)

// ComplianceHandler processes compliance audit events from Kafka.
// Events are written to the audit_compliance table for long-term retention.
type ComplianceHandler struct {
	store  ComplianceStore
	logger *slog.Logger
}

// ComplianceStore defines the storage interface for compliance events.
type ComplianceStore interface {
	AppendCompliance(ctx context.Context, eventID uuid.UUID, event audit.ComplianceRecord) error
}

// NewComplianceHandler creates a compliance event handler.
func NewComplianceHandler(store ComplianceStore, logger *slog.Logger) *ComplianceHandler {
	return &ComplianceHandler{
		store:  store,
		logger: logger,
	}
}

// compliancePayload matches the JSON structure for compliance events.
type compliancePayload struct {
	Timestamp     string `json:"Timestamp"`
	GuestID       string `json:"GuestID"`
	SessionID     string `json:"SessionID"`
	Action        string `json:"Action"`
	Channel       string `json:"Channel"`
	Decision      string `json:"Decision"`
	Reason        string `json:"Reason"`
	Reference     string `json:"Reference"`
	Score         int    `json:"Score"`
	SubjectIDHash string `json:"SubjectIDHash"`
	RequestID     string `json:"RequestID"`
}

// Handle processes a compliance audit event.
func (h *ComplianceHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	eventID, err := uuid.Parse(string(msg.Key))
	if err != nil {
		h.logger.Error("CRITICAL: failed to parse compliance event ID",
			"key", string(msg.Key),
			"error", err,
		)
		// Return nil to commit - malformed messages should not block
		return nil
	}

	var payload compliancePayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Error("CRITICAL: failed to unmarshal compliance payload",
			"event_id", eventID,
			"error", err,
		)
		return nil
	}

	// Strict validation for compliance events
	if payload.SessionID == "" {
		h.logger.Error("CRITICAL: compliance event missing SessionID",
			"event_id", eventID,
			"action", payload.Action,
		)
		return nil
	}

	record := audit.ComplianceRecord{
		Action:        payload.Action,
		Channel:       payload.Channel,
		Decision:      payload.Decision,
		Reason:        payload.Reason,
		Reference:     payload.Reference,
		Score:         payload.Score,
		SubjectIDHash: payload.SubjectIDHash,
		RequestID:     payload.RequestID,
	}

	// Parse timestamp
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
			record.Timestamp = ts
		} else {
			record.Timestamp = time.Now()
		}
	} else {
		record.Timestamp = time.Now()
	}

	// Parse IDs
	if sid, err := uuid.Parse(payload.SessionID); err == nil {
		record.SessionID = id.SessionID(sid)
	}
	if gid, err := uuid.Parse(payload.GuestID); err == nil {
		record.GuestID = id.GuestID(gid)
	}

	// Store compliance event
	if err := h.store.AppendCompliance(ctx, eventID, record); err != nil {
		h.logger.Error("failed to store compliance event",
			"event_id", eventID,
			"action", record.Action,
			"error", err,
		)
		return fmt.Errorf("store compliance event: %w", err)
	}

	h.logger.Debug("stored compliance event",
		"event_id", eventID,
		"action", record.Action,
		"session_id", record.SessionID,
	)

	return nil
}

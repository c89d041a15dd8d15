package audit

import (
	"time"

	id "guestgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention: identity
	// verdicts, consent records, trust decisions, data erasure.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to fraud monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	// Examples: failed verifications, OTP code mismatches.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled or aggregated with shorter retention.
	// Examples: session starts, step advances, snapshot writes.
	CategoryOperations EventCategory = "operations"
)

// Event is the flattened storage and wire representation of an audit entry.
// The right-sized types below (ComplianceEvent, SecurityEvent, OpsEvent) are
// the emission surface; stores and Kafka payloads speak Event.
//
// Events never carry guest PII: no names, emails, phone numbers, or document
// imagery. Correlation happens through typed IDs, opaque provider references,
// and SubjectIDHash.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	GuestID   id.GuestID
	SessionID id.SessionID
	// Subject is a non-identifying label for what the event is about,
	// such as a channel name or surface. Never guest PII.
	Subject string
	Action  string
	// Channel names the verification channel for channel-scoped events.
	Channel string
	// Step names the form step for navigation events.
	Step string
	// Decision is the outcome of the action (e.g. "verified", "failed").
	Decision string
	// Reason is the non-identifying failure or trigger reason.
	Reason string
	// Reference is the provider-issued opaque check identifier.
	Reference string
	// Score is the computed trust score; only meaningful for score events.
	Score int
	// SubjectIDHash is a SHA-256 hash of an external identifier (e.g. the
	// email a consent was recorded against). Gives compliance traceability
	// without storing the raw value.
	SubjectIDHash string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
	// IP is the client address; only populated on security events.
	IP string
	// DeviceFamily is the parsed client browser/device family; only
	// populated on security events.
	DeviceFamily string
}

type AuditEvent string

const (
	// Session lifecycle events
	EventSessionStarted   AuditEvent = "session_started"
	EventSessionResumed   AuditEvent = "session_resumed"
	EventSessionReset     AuditEvent = "session_reset"
	EventSessionCompleted AuditEvent = "session_completed"
	EventStepAdvanced     AuditEvent = "step_advanced"

	// Channel events
	EventChannelStarted  AuditEvent = "channel_started"
	EventChannelVerified AuditEvent = "channel_verified"
	EventChannelFailed   AuditEvent = "channel_failed"
	EventChannelAborted  AuditEvent = "channel_aborted"
	EventStaleDropped    AuditEvent = "stale_result_dropped"

	// Phone challenge events
	EventCodeSent         AuditEvent = "code_sent"
	EventCodeResent       AuditEvent = "code_resent"
	EventCodeMismatch     AuditEvent = "code_mismatch"
	EventChallengeExpired AuditEvent = "challenge_expired"

	// Consent and decision events
	EventConsentRecorded AuditEvent = "consent_recorded"
	EventScoreComputed   AuditEvent = "score_computed"

	// Snapshot events
	EventSnapshotSaved  AuditEvent = "snapshot_saved"
	EventSnapshotPurged AuditEvent = "snapshot_purged"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: fraud monitoring, SIEM integration, alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - require tamper-proof storage
	EventSessionReset:     CategoryCompliance,
	EventSessionCompleted: CategoryCompliance,
	EventChannelVerified:  CategoryCompliance,
	EventConsentRecorded:  CategoryCompliance,
	EventScoreComputed:    CategoryCompliance,
	EventSnapshotPurged:   CategoryCompliance,

	// Security events - feed into SIEM and alerting
	EventChannelFailed: CategorySecurity,
	EventCodeMismatch:  CategorySecurity,

	// Operations events - routine activity, can be sampled
	EventSessionStarted:   CategoryOperations,
	EventSessionResumed:   CategoryOperations,
	EventStepAdvanced:     CategoryOperations,
	EventChannelStarted:   CategoryOperations,
	EventChannelAborted:   CategoryOperations,
	EventStaleDropped:     CategoryOperations,
	EventCodeSent:         CategoryOperations,
	EventCodeResent:       CategoryOperations,
	EventChallengeExpired: CategoryOperations,
	EventSnapshotSaved:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// -----------------------------------------------------------------------------
// Right-sized event types for tri-publisher architecture
// -----------------------------------------------------------------------------

// ComplianceEvent captures regulatory-significant actions requiring guaranteed
// persistence: verification verdicts, consent records, trust decisions, and
// erasure of guest data. Use with the compliance publisher for fail-closed
// semantics.
type ComplianceEvent struct {
	Timestamp     time.Time    // When the event occurred (set automatically if zero)
	GuestID       id.GuestID   // The guest affected
	SessionID     id.SessionID // The verification session (required)
	Action        string       // The action taken (e.g. "channel_verified")
	Channel       string       // Channel for channel-scoped events
	Decision      string       // Outcome (e.g. "verified", "failed")
	Reason        string       // Non-identifying reason for the outcome
	Reference     string       // Provider-issued opaque check identifier
	Score         int          // Trust score, for score events
	SubjectIDHash string       // SHA-256 of the external identifier, never the raw value
	RequestID     string       // Correlation ID for request tracing
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent flattens into the storage representation.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:      CategoryCompliance,
		Timestamp:     e.Timestamp,
		GuestID:       e.GuestID,
		SessionID:     e.SessionID,
		Action:        e.Action,
		Channel:       e.Channel,
		Decision:      e.Decision,
		Reason:        e.Reason,
		Reference:     e.Reference,
		Score:         e.Score,
		SubjectIDHash: e.SubjectIDHash,
		RequestID:     e.RequestID,
	}
}

// SecurityEvent captures fraud-relevant actions for SIEM and alerting:
// failed verifications and OTP probing. Events are processed asynchronously
// with buffering; use with the security auditor for non-blocking emission.
type SecurityEvent struct {
	Timestamp    time.Time    // When the event occurred (set automatically if zero)
	SessionID    id.SessionID // The verification session
	Subject      string       // Non-identifying label (channel name, surface)
	Action       string       // Security action (e.g. "code_mismatch")
	Channel      string       // Channel for channel-scoped events
	Reason       string       // Why this happened (e.g. "record_found")
	IP           string       // Client IP address for forensics
	DeviceFamily string       // Parsed client browser/device family
	RequestID    string       // Correlation ID
	Severity     Severity     // Routing hint for SIEM pipelines
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

// ToEvent flattens into the storage representation.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:     CategorySecurity,
		Timestamp:    e.Timestamp,
		SessionID:    e.SessionID,
		Subject:      e.Subject,
		Action:       e.Action,
		Channel:      e.Channel,
		Reason:       e.Reason,
		IP:           e.IP,
		DeviceFamily: e.DeviceFamily,
		RequestID:    e.RequestID,
	}
}

// OpsEvent captures operational events with minimal overhead: session starts,
// step advances, snapshot writes. Events are fire-and-forget with optional
// sampling; use with the ops tracker.
type OpsEvent struct {
	Timestamp time.Time    // When the event occurred (set automatically if zero)
	SessionID id.SessionID // The verification session
	Subject   string       // Non-identifying label
	Action    string       // Operational action (e.g. "step_advanced")
	Step      string       // Form step for navigation events
	RequestID string       // Correlation ID
}

// Category returns CategoryOperations (always).
func (e OpsEvent) Category() EventCategory { return CategoryOperations }

// ToEvent flattens into the storage representation.
func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Subject:   e.Subject,
		Action:    e.Action,
		Step:      e.Step,
		RequestID: e.RequestID,
	}
}

package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"guestgate/internal/channels"
	id "guestgate/pkg/domain"
	"guestgate/pkg/platform/audit"
	"guestgate/pkg/requestcontext"
)

// CompliancePublisher persists regulatory-significant events synchronously.
// A returned error means the event is NOT on record and the triggering
// action must fail.
type CompliancePublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// SecurityAuditor buffers fraud-relevant events; emission never blocks.
type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// OpsTracker records operational events fire-and-forget.
type OpsTracker interface {
	Track(ctx context.Context, event audit.OpsEvent)
}

// auditEmitter owns the engine's audit vocabulary so service methods stay
// readable. Every publisher is optional; a nil publisher drops its category.
type auditEmitter struct {
	compliance CompliancePublisher
	security   SecurityAuditor
	ops        OpsTracker
	logger     *slog.Logger
}

func newAuditEmitter(logger *slog.Logger, compliance CompliancePublisher, security SecurityAuditor, ops OpsTracker) *auditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditEmitter{compliance: compliance, security: security, ops: ops, logger: logger}
}

func (e *auditEmitter) trackOps(ctx context.Context, sessionID id.SessionID, action audit.AuditEvent, subject, step string) {
	if e.ops == nil {
		return
	}
	e.ops.Track(ctx, audit.OpsEvent{
		SessionID: sessionID,
		Subject:   subject,
		Action:    string(action),
		Step:      step,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (e *auditEmitter) emitCompliance(ctx context.Context, event audit.ComplianceEvent) error {
	if e.compliance == nil {
		return nil
	}
	event.RequestID = requestcontext.RequestID(ctx)
	return e.compliance.Emit(ctx, event)
}

func (e *auditEmitter) emitSecurity(ctx context.Context, event audit.SecurityEvent) {
	if e.security == nil {
		return
	}
	event.IP = requestcontext.ClientIP(ctx)
	event.DeviceFamily = requestcontext.DeviceFamily(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	e.security.Emit(ctx, event)
}

// logCompliance reports a compliance emission failure on a path that cannot
// fail the guest's action (async verdicts). The event is lost; say so loudly.
func (e *auditEmitter) logCompliance(ctx context.Context, action audit.AuditEvent, err error) {
	if err != nil {
		e.logger.ErrorContext(ctx, "CRITICAL: compliance audit dropped",
			"action", string(action), "error", err)
	}
}

func (e *auditEmitter) sessionStarted(ctx context.Context, sessionID id.SessionID, step string) {
	e.trackOps(ctx, sessionID, audit.EventSessionStarted, "session", step)
}

func (e *auditEmitter) sessionResumed(ctx context.Context, sessionID id.SessionID, step string) {
	e.trackOps(ctx, sessionID, audit.EventSessionResumed, "session", step)
}

func (e *auditEmitter) sessionReset(ctx context.Context, guestID id.GuestID, sessionID id.SessionID) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventSessionReset),
		Decision:  "reset",
	})
}

func (e *auditEmitter) sessionCompleted(ctx context.Context, guestID id.GuestID, sessionID id.SessionID, score int) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventSessionCompleted),
		Decision:  "completed",
		Score:     score,
	})
}

func (e *auditEmitter) stepAdvanced(ctx context.Context, sessionID id.SessionID, step string) {
	e.trackOps(ctx, sessionID, audit.EventStepAdvanced, "session", step)
}

func (e *auditEmitter) channelStarted(ctx context.Context, sessionID id.SessionID, channel string) {
	e.trackOps(ctx, sessionID, audit.EventChannelStarted, channel, "")
}

func (e *auditEmitter) channelVerified(ctx context.Context, guestID id.GuestID, sessionID id.SessionID, channel, reference string) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventChannelVerified),
		Channel:   channel,
		Decision:  "verified",
		Reference: reference,
	})
}

func (e *auditEmitter) channelFailed(ctx context.Context, sessionID id.SessionID, channel, reason string) {
	// Substantive rejections are fraud signals; infrastructure failures are
	// noise the SIEM can downrank.
	severity := audit.SeverityInfo
	if reason == channels.ReasonRejected || reason == "record_found" {
		severity = audit.SeverityWarning
	}
	e.emitSecurity(ctx, audit.SecurityEvent{
		SessionID: sessionID,
		Subject:   channel,
		Action:    string(audit.EventChannelFailed),
		Channel:   channel,
		Reason:    reason,
		Severity:  severity,
	})
}

func (e *auditEmitter) codeSent(ctx context.Context, sessionID id.SessionID, resend bool) {
	action := audit.EventCodeSent
	if resend {
		action = audit.EventCodeResent
	}
	e.trackOps(ctx, sessionID, action, "phone_otp", "")
}

func (e *auditEmitter) codeMismatch(ctx context.Context, sessionID id.SessionID) {
	e.emitSecurity(ctx, audit.SecurityEvent{
		SessionID: sessionID,
		Subject:   "phone_otp",
		Action:    string(audit.EventCodeMismatch),
		Channel:   "phone_otp",
		Reason:    "code_mismatch",
		Severity:  audit.SeverityInfo,
	})
}

func (e *auditEmitter) challengeExpired(ctx context.Context, sessionID id.SessionID) {
	e.trackOps(ctx, sessionID, audit.EventChallengeExpired, "phone_otp", "")
}

func (e *auditEmitter) channelAborted(ctx context.Context, sessionID id.SessionID, channel string) {
	e.trackOps(ctx, sessionID, audit.EventChannelAborted, channel, "")
}

func (e *auditEmitter) consentRecorded(ctx context.Context, guestID id.GuestID, sessionID id.SessionID, subjectEmail string) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:       guestID,
		SessionID:     sessionID,
		Action:        string(audit.EventConsentRecorded),
		Channel:       "background_check",
		Decision:      "granted",
		SubjectIDHash: subjectHash(subjectEmail),
	})
}

func (e *auditEmitter) scoreComputed(ctx context.Context, guestID id.GuestID, sessionID id.SessionID, score int, level string) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventScoreComputed),
		Decision:  level,
		Score:     score,
	})
}

func (e *auditEmitter) snapshotSaved(ctx context.Context, sessionID id.SessionID, step string) {
	e.trackOps(ctx, sessionID, audit.EventSnapshotSaved, "snapshot", step)
}

// snapshotPurged records an erasure; reason is "session_reset" or
// "ttl_expired".
func (e *auditEmitter) snapshotPurged(ctx context.Context, guestID id.GuestID, sessionID id.SessionID, reason string) error {
	return e.emitCompliance(ctx, audit.ComplianceEvent{
		GuestID:   guestID,
		SessionID: sessionID,
		Action:    string(audit.EventSnapshotPurged),
		Decision:  "purged",
		Reason:    reason,
	})
}

// subjectHash produces the stored stand-in for an external identifier.
// The raw value never reaches an audit record.
func subjectHash(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

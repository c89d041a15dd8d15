package audit

import (
	"time"

	id "guestgate/pkg/domain"
)

// Category records are the rows of the per-category audit tables. The Kafka
// consumer builds them from topic payloads and the Postgres store inserts
// them; each table carries only the columns its category needs.

// ComplianceRecord is one row of the audit_compliance table.
type ComplianceRecord struct {
	Timestamp     time.Time
	GuestID       id.GuestID
	SessionID     id.SessionID
	Action        string
	Channel       string
	Decision      string
	Reason        string
	Reference     string
	Score         int
	SubjectIDHash string
	RequestID     string
}

// SecurityRecord is one row of the audit_security table.
type SecurityRecord struct {
	Timestamp    time.Time
	SessionID    id.SessionID
	Subject      string
	Action       string
	Channel      string
	Reason       string
	IP           string
	DeviceFamily string
	RequestID    string
	Severity     string
}

// OpsRecord is one row of the audit_ops table.
type OpsRecord struct {
	Timestamp time.Time
	SessionID id.SessionID
	Subject   string
	Action    string
	Step      string
	RequestID string
}

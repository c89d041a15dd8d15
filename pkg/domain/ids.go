// Package domain holds typed identifiers shared across modules.
//
// IDs are distinct uuid-backed types so the compiler rejects cross-type
// assignment (a GuestID can never be passed where a SessionID is expected).
// Construct via the ParseXID functions at trust boundaries; direct casting
// bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "guestgate/pkg/domain-errors"
)

// GuestID identifies the guest whose identity is being verified.
// Invariant: valid, non-nil UUID.
type GuestID uuid.UUID

// SessionID identifies one verification session (one booking journey).
// Invariant: valid, non-nil UUID.
type SessionID uuid.UUID

// NotificationID identifies a transient UI notification.
// Invariant: valid, non-nil UUID.
type NotificationID uuid.UUID

// NewGuestID generates a fresh guest identifier.
func NewGuestID() GuestID { return GuestID(uuid.New()) }

// NewSessionID generates a fresh session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewNotificationID generates a fresh notification identifier.
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }

func (id GuestID) String() string        { return uuid.UUID(id).String() }
func (id SessionID) String() string      { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the ID is the nil UUID.
func (id GuestID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders the canonical uuid string; named uuid types do not
// inherit it, and without it encoding/json falls back to the raw byte array.
func (id GuestID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id NotificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText accepts the canonical uuid string. The nil UUID is allowed
// here: zero-valued IDs appear in persisted snapshots of optional fields and
// are screened by the Parse functions at trust boundaries instead.
func (id *GuestID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = GuestID(u)
	return nil
}

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SessionID(u)
	return nil
}

func (id *NotificationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = NotificationID(u)
	return nil
}

// ParseGuestID constructs a GuestID from external input.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil
// UUID; no other errors are expected.
func ParseGuestID(s string) (GuestID, error) {
	u, err := parseUUID(s, "guest id")
	return GuestID(u), err
}

// ParseSessionID constructs a SessionID from external input.
//
// Errors: CodeInvalidInput when the value is empty, malformed, or the nil
// UUID; no other errors are expected.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session id")
	return SessionID(u), err
}

// ParseNotificationID constructs a NotificationID from external input.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification id")
	return NotificationID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", what)
	}
	return u, nil
}

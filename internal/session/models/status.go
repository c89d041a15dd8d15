package models

// Status is the lifecycle position of a verification session.
type Status string

const (
	// StatusActive means the guest is still working through the journey.
	StatusActive Status = "active"
	// StatusCompleted means the review step was submitted; the session is
	// read-only until reset.
	StatusCompleted Status = "completed"
)

// CanTransitionTo encodes the legal session moves:
//
//	active    -> completed (review submission)
//	completed -> active    (explicit reset only)
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusCompleted
	case StatusCompleted:
		return next == StatusActive
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

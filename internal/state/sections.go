package state

import (
	"slices"
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/form"
	"guestgate/internal/session/models"
	"guestgate/internal/trust"
	id "guestgate/pkg/domain"
)

// AuthState describes the guest bound to the session.
type AuthState struct {
	GuestID       id.GuestID
	Email         string
	DisplayName   string
	Authenticated bool
}

// Clone implements Value. AuthState has no reference fields.
func (a AuthState) Clone() Value { return a }

// SessionState mirrors the session aggregate for observers: which step the
// guest is on and whether the journey is still live.
type SessionState struct {
	ID           id.SessionID
	GuestID      id.GuestID
	Step         form.Step
	Status       models.Status
	Resumed      bool
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Clone implements Value. SessionState has no reference fields.
func (s SessionState) Clone() Value { return s }

// FormState holds the guest's answers and the current per-field errors.
type FormState struct {
	Data   form.Data
	Errors form.Errors
}

// Clone implements Value.
func (f FormState) Clone() Value {
	return FormState{Data: f.Data.Clone(), Errors: f.Errors.Clone()}
}

// ChannelsState holds the latest outcome per verification channel plus the
// live phone challenge, if one is running.
type ChannelsState struct {
	Results   map[channels.Channel]channels.Result
	Challenge *channels.OTPChallenge
}

// Clone implements Value.
func (c ChannelsState) Clone() Value {
	out := ChannelsState{}
	if c.Results != nil {
		out.Results = make(map[channels.Channel]channels.Result, len(c.Results))
		for ch, res := range c.Results {
			out.Results[ch] = res
		}
	}
	if c.Challenge != nil {
		challenge := *c.Challenge
		out.Challenge = &challenge
	}
	return out
}

// Result returns the recorded outcome for a channel, defaulting to a
// not-started result so readers never see a missing entry.
func (c ChannelsState) Result(ch channels.Channel) channels.Result {
	if res, ok := c.Results[ch]; ok {
		return res
	}
	return channels.Result{Channel: ch, Status: channels.StatusNotStarted}
}

// WithResult returns a copy with one channel outcome replaced.
func (c ChannelsState) WithResult(res channels.Result) ChannelsState {
	next := c.Clone().(ChannelsState)
	if next.Results == nil {
		next.Results = make(map[channels.Channel]channels.Result, 1)
	}
	next.Results[res.Channel] = res
	return next
}

// ResultsState carries the most recent trust computation, nil until the
// first score has been produced.
type ResultsState struct {
	Score *trust.Score
}

// Clone implements Value.
func (r ResultsState) Clone() Value {
	if r.Score == nil {
		return ResultsState{}
	}
	score := *r.Score
	score.Adjustments = slices.Clone(r.Score.Adjustments)
	return ResultsState{Score: &score}
}

// NoticeKind classifies a UI notification.
type NoticeKind string

const (
	NoticeInfo    NoticeKind = "info"
	NoticeWarning NoticeKind = "warning"
	NoticeError   NoticeKind = "error"
)

// Notification is one transient message for the guest-facing surface.
type Notification struct {
	ID        id.NotificationID
	Kind      NoticeKind
	Message   string
	CreatedAt time.Time
}

// NotificationsState is the ordered queue of pending UI notifications.
type NotificationsState struct {
	Items []Notification
}

// Clone implements Value.
func (n NotificationsState) Clone() Value {
	return NotificationsState{Items: slices.Clone(n.Items)}
}

// Append returns a copy with one notification added at the tail.
func (n NotificationsState) Append(item Notification) NotificationsState {
	items := slices.Clone(n.Items)
	return NotificationsState{Items: append(items, item)}
}

// Dismiss returns a copy with the matching notification removed. Unknown IDs
// are a no-op so dismissal races stay harmless.
func (n NotificationsState) Dismiss(notificationID id.NotificationID) NotificationsState {
	items := make([]Notification, 0, len(n.Items))
	for _, item := range n.Items {
		if item.ID != notificationID {
			items = append(items, item)
		}
	}
	return NotificationsState{Items: items}
}

// DefaultSections returns the full closed section set with zero values,
// ready to seed a new Store.
func DefaultSections() map[Section]Value {
	return map[Section]Value{
		SectionAuth:          AuthState{},
		SectionSession:       SessionState{},
		SectionForm:          FormState{Data: form.Data{}, Errors: form.Errors{}},
		SectionChannels:      ChannelsState{},
		SectionResults:       ResultsState{},
		SectionNotifications: NotificationsState{},
	}
}

package handler

import (
	"time"

	"guestgate/internal/channels"
	"guestgate/internal/channels/phone"
	"guestgate/internal/form"
	"guestgate/internal/session/models"
	"guestgate/internal/state"
	"guestgate/internal/trust"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
)

// sessionView is the full read model one GET returns: everything the widget
// needs to render without further calls.
type sessionView struct {
	SessionID     id.SessionID       `json:"session_id"`
	Status        models.Status      `json:"status"`
	Step          form.Step          `json:"step"`
	Resumed       bool               `json:"resumed"`
	CreatedAt     time.Time          `json:"created_at"`
	LastActiveAt  time.Time          `json:"last_active_at"`
	Form          formView           `json:"form"`
	Channels      channelsView       `json:"channels"`
	Score         *trust.Score       `json:"score,omitempty"`
	Notifications []notificationView `json:"notifications"`
}

// formView pairs the answers with the latest per-field problems.
type formView struct {
	Data   form.Data   `json:"data"`
	Errors form.Errors `json:"errors,omitempty"`
}

// channelsView lists channel outcomes in canonical order plus the live
// phone challenge, if any.
type channelsView struct {
	Results   []channels.Result      `json:"results"`
	Challenge *channels.OTPChallenge `json:"challenge,omitempty"`
}

type notificationView struct {
	ID        id.NotificationID `json:"id"`
	Kind      state.NoticeKind  `json:"kind"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// formUpdateResponse reports per-field validation problems after a patch.
// An empty object means the patch was accepted cleanly.
type formUpdateResponse struct {
	Errors form.Errors `json:"errors,omitempty"`
}

// channelActionResponse reflects a channel's state right after an action.
type channelActionResponse struct {
	Channel   channels.Channel       `json:"channel"`
	Result    channels.Result        `json:"result"`
	Challenge *channels.OTPChallenge `json:"challenge,omitempty"`
}

// submitCodeResponse reports how a code submission landed.
type submitCodeResponse struct {
	Outcome   phone.SubmitOutcome    `json:"outcome"`
	Result    *channels.Result       `json:"result,omitempty"`
	Challenge *channels.OTPChallenge `json:"challenge,omitempty"`
}

type backgroundOfferResponse struct {
	Offer bool `json:"offer"`
}

// buildSessionView assembles the read model from the session's state
// sections.
func (h *Handler) buildSessionView(sessionID id.SessionID) (sessionView, error) {
	sessionState, err := readSection[state.SessionState](h.engine, sessionID, state.SectionSession)
	if err != nil {
		return sessionView{}, err
	}
	formState, err := readSection[state.FormState](h.engine, sessionID, state.SectionForm)
	if err != nil {
		return sessionView{}, err
	}
	channelsState, err := readSection[state.ChannelsState](h.engine, sessionID, state.SectionChannels)
	if err != nil {
		return sessionView{}, err
	}
	resultsState, err := readSection[state.ResultsState](h.engine, sessionID, state.SectionResults)
	if err != nil {
		return sessionView{}, err
	}
	notificationsState, err := readSection[state.NotificationsState](h.engine, sessionID, state.SectionNotifications)
	if err != nil {
		return sessionView{}, err
	}

	return sessionView{
		SessionID:     sessionState.ID,
		Status:        sessionState.Status,
		Step:          sessionState.Step,
		Resumed:       sessionState.Resumed,
		CreatedAt:     sessionState.CreatedAt,
		LastActiveAt:  sessionState.LastActiveAt,
		Form:          newFormView(formState),
		Channels:      newChannelsView(channelsState),
		Score:         resultsState.Score,
		Notifications: newNotificationViews(notificationsState),
	}, nil
}

func newFormView(formState state.FormState) formView {
	view := formView{Data: formState.Data}
	if len(formState.Errors) > 0 {
		view.Errors = formState.Errors
	}
	return view
}

func newChannelsView(channelsState state.ChannelsState) channelsView {
	view := channelsView{
		Results:   make([]channels.Result, 0, len(channels.All)),
		Challenge: channelsState.Challenge,
	}
	for _, ch := range channels.All {
		view.Results = append(view.Results, channelsState.Result(ch))
	}
	return view
}

func newNotificationViews(notificationsState state.NotificationsState) []notificationView {
	views := make([]notificationView, 0, len(notificationsState.Items))
	for _, item := range notificationsState.Items {
		views = append(views, notificationView{
			ID:        item.ID,
			Kind:      item.Kind,
			Message:   item.Message,
			CreatedAt: item.CreatedAt,
		})
	}
	return views
}

// readSection fetches one section and asserts its concrete type. The section
// set is closed, so a type mismatch is an internal fault, not guest input.
func readSection[T state.Value](engine Engine, sessionID id.SessionID, section state.Section) (T, error) {
	var zero T
	val, err := engine.State(sessionID, section)
	if err != nil {
		return zero, err
	}
	typed, ok := val.(T)
	if !ok {
		return zero, dErrors.Newf(dErrors.CodeInternal, "unexpected %s section shape", section)
	}
	return typed, nil
}

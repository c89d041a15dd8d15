package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"guestgate/internal/state"
	"guestgate/internal/trust"
	"guestgate/internal/verification"
	"guestgate/pkg/requestcontext"
)

const (
	// streamBuffer is how many frames may queue for one client before the
	// connection is declared too slow and dropped.
	streamBuffer = 64

	streamPingInterval = 30 * time.Second
)

// streamedSections are the sections pushed over the event stream. Auth is
// excluded: identity travels in the bearer token, not the stream.
var streamedSections = []state.Section{
	state.SectionSession,
	state.SectionForm,
	state.SectionChannels,
	state.SectionResults,
	state.SectionNotifications,
}

// streamFrame is one JSON message on the wire. Type "section" carries a
// full section value (the first frame per section arrives on subscribe, so
// a fresh client starts fully synced); type "event" carries one engine
// event.
type streamFrame struct {
	Type    string              `json:"type"`
	Section state.Section       `json:"section,omitempty"`
	Data    json.RawMessage     `json:"data,omitempty"`
	Event   *verification.Event `json:"event,omitempty"`
}

// sessionMetaView is the session section's wire shape on the stream.
type sessionMetaView struct {
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	Step         string    `json:"step"`
	Resumed      bool      `json:"resumed"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type scoreView struct {
	Score *trust.Score `json:"score"`
}

type notificationsView struct {
	Items []notificationView `json:"items"`
}

// handleEvents upgrades to a WebSocket and pushes section changes and
// engine events as JSON frames. The stream is server-push only; client
// frames are read solely to surface closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	baseCtx := r.Context()
	requestID := requestcontext.RequestID(baseCtx)
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WarnContext(baseCtx, "websocket accept failed",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := conn.CloseRead(baseCtx)

	frames := make(chan []byte, streamBuffer)
	enqueue := func(frame []byte) {
		select {
		case frames <- frame:
		default:
			// Section frames carry full values, so a dropped client can
			// reconnect and resync instead of silently falling behind.
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
		}
	}

	var cancels []func()
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	cancelEvents, err := h.engine.SubscribeEvents(sessionID, func(event verification.Event) {
		frame, marshalErr := json.Marshal(streamFrame{Type: "event", Event: &event})
		if marshalErr != nil {
			h.logger.ErrorContext(baseCtx, "failed to marshal event frame",
				"request_id", requestID,
				"error", marshalErr.Error(),
			)
			return
		}
		enqueue(frame)
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	cancels = append(cancels, cancelEvents)

	for _, section := range streamedSections {
		cancelSection, subErr := h.engine.Subscribe(sessionID, section, func(sec state.Section, value state.Value) {
			frame, marshalErr := marshalSectionFrame(sec, value)
			if marshalErr != nil {
				h.logger.ErrorContext(baseCtx, "failed to marshal section frame",
					"request_id", requestID,
					"section", string(sec),
					"error", marshalErr.Error(),
				)
				return
			}
			enqueue(frame)
		})
		if subErr != nil {
			conn.Close(websocket.StatusInternalError, "session unavailable")
			return
		}
		cancels = append(cancels, cancelSection)
	}

	h.logger.InfoContext(baseCtx, "event stream opened",
		"request_id", requestID,
		"session_id", sessionID.String(),
	)

	pings := time.NewTicker(streamPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame := <-frames:
			if writeErr := conn.Write(ctx, websocket.MessageText, frame); writeErr != nil {
				if websocket.CloseStatus(writeErr) == -1 && ctx.Err() == nil {
					h.logger.DebugContext(baseCtx, "websocket write error",
						"request_id", requestID,
						"error", writeErr.Error(),
					)
				}
				return
			}
		case <-pings.C:
			if pingErr := conn.Ping(ctx); pingErr != nil {
				return
			}
		}
	}
}

// marshalSectionFrame renders one section's stream payload using the same
// view shapes the GET endpoint serves.
func marshalSectionFrame(section state.Section, value state.Value) ([]byte, error) {
	var payload any
	switch typed := value.(type) {
	case state.SessionState:
		payload = sessionMetaView{
			SessionID:    typed.ID.String(),
			Status:       string(typed.Status),
			Step:         string(typed.Step),
			Resumed:      typed.Resumed,
			CreatedAt:    typed.CreatedAt,
			LastActiveAt: typed.LastActiveAt,
		}
	case state.FormState:
		payload = newFormView(typed)
	case state.ChannelsState:
		payload = newChannelsView(typed)
	case state.ResultsState:
		payload = scoreView{Score: typed.Score}
	case state.NotificationsState:
		payload = notificationsView{Items: newNotificationViews(typed)}
	default:
		payload = value
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(streamFrame{Type: "section", Section: section, Data: data})
}

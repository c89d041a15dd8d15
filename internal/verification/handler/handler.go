// Package handler exposes the verification engine over HTTP: session
// lifecycle, form edits, channel actions, and the live event stream.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guestgate/internal/channels"
	"guestgate/internal/channels/phone"
	"guestgate/internal/form"
	"guestgate/internal/providers"
	"guestgate/internal/state"
	"guestgate/internal/trust"
	"guestgate/internal/verification"
	id "guestgate/pkg/domain"
	dErrors "guestgate/pkg/domain-errors"
	"guestgate/pkg/platform/httputil"
	"guestgate/pkg/platform/middleware/auth"
	"guestgate/pkg/requestcontext"
)

// maxUploadBytes caps one uploaded image. Anything bigger is rejected before
// the body is read into memory.
const maxUploadBytes = 10 << 20

// Engine defines the verification engine surface the transport drives.
type Engine interface {
	StartSession(ctx context.Context, guestID id.GuestID, opts verification.StartOptions) (verification.Started, error)
	State(sessionID id.SessionID, section state.Section) (state.Value, error)
	Subscribe(sessionID id.SessionID, section state.Section, fn state.Callback) (func(), error)
	SubscribeEvents(sessionID id.SessionID, fn func(verification.Event)) (func(), error)
	AdvanceStep(ctx context.Context, sessionID id.SessionID) (verification.AdvanceOutcome, error)
	UpdateFormData(ctx context.Context, sessionID id.SessionID, patch map[form.Field]string) (form.Errors, error)
	StartChannel(ctx context.Context, sessionID id.SessionID, ch channels.Channel, input verification.StartInput) error
	SubmitChannelCode(ctx context.Context, sessionID id.SessionID, code string) (phone.SubmitOutcome, error)
	ResendChannel(ctx context.Context, sessionID id.SessionID) error
	ResetSession(ctx context.Context, sessionID id.SessionID) error
	Score(ctx context.Context, sessionID id.SessionID) (trust.Score, error)
	OfferBackgroundCheck(ctx context.Context, sessionID id.SessionID) (bool, error)
	DismissNotification(ctx context.Context, sessionID id.SessionID, notificationID id.NotificationID) error
}

// Handler handles verification session endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   Engine
	verifier auth.TokenVerifier
}

// New creates a new verification Handler.
func New(engine Engine, logger *slog.Logger, verifier auth.TokenVerifier) *Handler {
	return &Handler{
		logger:   logger,
		engine:   engine,
		verifier: verifier,
	}
}

// Register registers the verification routes with the chi router. Every
// route requires the upstream platform's bearer token.
func (h *Handler) Register(r chi.Router) {
	sessions := chi.NewRouter()
	sessions.Use(auth.RequireGuest(h.verifier, h.logger))

	sessions.Post("/", h.handleStartSession)
	sessions.Route("/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetState)
		sr.Post("/advance", h.handleAdvance)
		sr.Patch("/form", h.handleUpdateForm)
		sr.Post("/reset", h.handleReset)
		sr.Get("/score", h.handleScore)
		sr.Get("/background-offer", h.handleBackgroundOffer)
		sr.Get("/events", h.handleEvents)
		sr.Post("/channels/document_selfie", h.handleStartDocument)
		sr.Post("/channels/phone_otp/code", h.handleSubmitCode)
		sr.Post("/channels/phone_otp/resend", h.handleResend)
		sr.Post("/channels/{channel}", h.handleStartChannel)
		sr.Delete("/notifications/{notificationID}", h.handleDismissNotification)
	})

	r.Mount("/sessions", sessions)
}

// handleStartSession starts a fresh session or resumes an earlier one for
// the authenticated guest. Identity comes from the token, never the body.
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	claims := auth.GetClaims(ctx)
	if claims == nil {
		// This should never happen if RequireGuest middleware is configured correctly
		h.logger.ErrorContext(ctx, "guest claims missing from context despite auth middleware",
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	// An empty body means a fresh start; only resumes need a payload.
	req := &startSessionRequest{}
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[startSessionRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}

	started, err := h.engine.StartSession(ctx, claims.GuestID, verification.StartOptions{
		ResumeSessionID: req.resume,
		Email:           claims.Email,
		DisplayName:     claims.DisplayName,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "session start rejected",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if started.Resumed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, started)
}

// handleGetState returns the full session view: step, form, channel
// results, score, and pending notifications.
func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	view, err := h.buildSessionView(sessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to assemble session view",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// handleAdvance validates the current step and moves forward. A blocked
// advance is an outcome, not an error: the response carries the per-field
// problems and the step stays put.
func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	outcome, err := h.engine.AdvanceStep(ctx, sessionID)
	if err != nil {
		h.logger.WarnContext(ctx, "step advance failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outcome)
}

// handleUpdateForm merges a partial field patch into the form. Per-field
// validation problems come back in the response body; unknown fields are
// rejected outright.
func (h *Handler) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[updateFormRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	fieldErrors, err := h.engine.UpdateFormData(ctx, sessionID, req.patch())
	if err != nil {
		h.logger.WarnContext(ctx, "form update rejected",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, formUpdateResponse{Errors: fieldErrors})
}

// handleReset wipes the session back to its defaults and purges the
// persisted snapshot.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	if err := h.engine.ResetSession(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "session reset failed",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScore returns the current trust score, computing it on demand.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	score, err := h.engine.Score(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, score)
}

// handleBackgroundOffer reports whether the UI should proactively offer the
// background check for this session.
func (h *Handler) handleBackgroundOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	offer, err := h.engine.OfferBackgroundCheck(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, backgroundOfferResponse{Offer: offer})
}

// handleStartDocument accepts the document + selfie images as a multipart
// upload and dispatches the verification attempt. The images live only for
// the duration of the provider call.
func (h *Handler) handleStartDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.logger.WarnContext(ctx, "invalid document upload",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "expected multipart form with document and selfie images"))
		return
	}

	document, err := readImagePart(r, "document")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	selfie, err := readImagePart(r, "selfie")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	input := verification.StartInput{Document: document, Selfie: selfie}
	if err := h.engine.StartChannel(ctx, sessionID, channels.ChannelDocumentSelfie, input); err != nil {
		h.logger.WarnContext(ctx, "channel start rejected",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"channel", channels.ChannelDocumentSelfie.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	h.writeChannelState(w, sessionID, channels.ChannelDocumentSelfie, http.StatusAccepted)
}

// handleStartChannel dispatches a verification attempt for the body-less
// channels: phone_otp, background_check, platform_profile.
func (h *Handler) handleStartChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	ch, err := channels.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.engine.StartChannel(ctx, sessionID, ch, verification.StartInput{}); err != nil {
		h.logger.WarnContext(ctx, "channel start rejected",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
			"channel", ch.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	h.writeChannelState(w, sessionID, ch, http.StatusAccepted)
}

// handleSubmitCode checks an OTP code against the live challenge.
func (h *Handler) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[submitCodeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.engine.SubmitChannelCode(ctx, sessionID, req.Code)
	if err != nil {
		h.logger.WarnContext(ctx, "code submission rejected",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	resp := submitCodeResponse{Outcome: outcome}
	if current, stateErr := h.channelState(sessionID, channels.ChannelPhoneOTP); stateErr == nil {
		resp.Result = &current.Result
		resp.Challenge = current.Challenge
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleResend reissues the OTP challenge once the countdown allows it.
func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	if err := h.engine.ResendChannel(ctx, sessionID); err != nil {
		h.logger.WarnContext(ctx, "code resend rejected",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	h.writeChannelState(w, sessionID, channels.ChannelPhoneOTP, http.StatusOK)
}

// handleDismissNotification removes one notification from the UI queue.
func (h *Handler) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.authorizeSession(w, r)
	if !ok {
		return
	}

	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "notificationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.engine.DismissNotification(ctx, sessionID, notificationID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeSession parses the session ID from the path and verifies the
// session belongs to the authenticated guest. Unknown sessions and foreign
// sessions both resolve here, before any handler logic runs.
func (h *Handler) authorizeSession(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}

	val, err := h.engine.State(sessionID, state.SectionAuth)
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	authState, ok := val.(state.AuthState)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "session state unavailable"))
		return id.SessionID{}, false
	}

	guestID := requestcontext.GuestID(ctx)
	if guestID.IsZero() || authState.GuestID != guestID {
		h.logger.WarnContext(ctx, "session access denied - guest mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID.String(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "session belongs to a different guest"))
		return id.SessionID{}, false
	}
	return sessionID, true
}

// writeChannelState responds with the channel's current result (and live
// challenge for phone) after an action.
func (h *Handler) writeChannelState(w http.ResponseWriter, sessionID id.SessionID, ch channels.Channel, status int) {
	resp, err := h.channelState(sessionID, ch)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) channelState(sessionID id.SessionID, ch channels.Channel) (channelActionResponse, error) {
	val, err := h.engine.State(sessionID, state.SectionChannels)
	if err != nil {
		return channelActionResponse{}, err
	}
	channelsState, ok := val.(state.ChannelsState)
	if !ok {
		return channelActionResponse{}, dErrors.New(dErrors.CodeInternal, "channel state unavailable")
	}

	resp := channelActionResponse{
		Channel: ch,
		Result:  channelsState.Result(ch),
	}
	if ch == channels.ChannelPhoneOTP {
		resp.Challenge = channelsState.Challenge
	}
	return resp, nil
}

// readImagePart pulls one named image out of the multipart form.
//
// Errors: CodeInvalidInput when the part is missing or unreadable.
func readImagePart(r *http.Request, name string) (providers.Image, error) {
	file, header, err := r.FormFile(name)
	if err != nil {
		return providers.Image{}, dErrors.Newf(dErrors.CodeInvalidInput, "%s image is required", name)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return providers.Image{}, dErrors.Newf(dErrors.CodeInvalidInput, "failed to read %s image", name)
	}
	return providers.Image{
		Content:     content,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

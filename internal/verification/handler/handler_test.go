package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"guestgate/internal/channels"
	"guestgate/internal/channels/phone"
	"guestgate/internal/form"
	jwttoken "guestgate/internal/jwt_token"
	"guestgate/internal/providers"
	"guestgate/internal/session/models"
	"guestgate/internal/session/store/snapshot"
	"guestgate/internal/state"
	"guestgate/internal/trust"
	"guestgate/internal/verification"
	"guestgate/pkg/clock"
	id "guestgate/pkg/domain"
	"guestgate/pkg/testutil"
)

// =============================================================================
// Handler Test Suite
// =============================================================================
// These tests drive the chi router against a real engine with mock providers:
// routing, bearer auth, error-to-status mapping, and the JSON shapes the
// embedding widget depends on. Engine orchestration itself is covered by the
// service suite; here the engine is a fixture.

type HandlerSuite struct {
	suite.Suite
	clk     *clock.Manual
	engine  *verification.Service
	tokens  *jwttoken.Service
	router  chi.Router
	guestID id.GuestID
	token   string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clk = clock.NewManual(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	s.engine = verification.New(
		snapshot.New(),
		&providers.MockIdentityVerifier{},
		&providers.MockPhoneVerifier{},
		&providers.MockBackgroundChecker{},
		verification.DefaultConfig(),
		verification.WithLogger(discard),
		verification.WithClock(s.clk),
	)
	s.tokens = jwttoken.NewService("handler-test-key", "booking-platform", "guestgate")
	s.guestID = id.NewGuestID()
	s.token = s.mint(s.guestID, "avery.reed@example.com", "Avery Reed")

	router := chi.NewRouter()
	New(s.engine, discard, jwttoken.NewVerifierAdapter(s.tokens)).Register(router)
	s.router = router
}

func (s *HandlerSuite) TearDownTest() {
	s.Require().NoError(s.engine.Close(context.Background()))
}

// =============================================================================
// Helpers
// =============================================================================

func (s *HandlerSuite) mint(guestID id.GuestID, email, displayName string) string {
	token, err := s.tokens.Mint(guestID, email, displayName, time.Hour)
	s.Require().NoError(err)
	return token
}

// do executes the request with the suite guest's bearer token attached.
func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return s.doAs(req, s.token)
}

func (s *HandlerSuite) doAs(req *http.Request, token string) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer "+token)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) startSession() id.SessionID {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", nil))
	s.Require().Equal(http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
	started := testutil.UnmarshalResponse[verification.Started](s.T(), rr)
	s.Require().False(started.SessionID.IsZero())
	return started.SessionID
}

func (s *HandlerSuite) sessionPath(sessionID id.SessionID, suffix string) string {
	return fmt.Sprintf("/sessions/%s%s", sessionID, suffix)
}

func (s *HandlerSuite) patchForm(sessionID id.SessionID, fields map[string]string) *httptest.ResponseRecorder {
	body := map[string]any{"fields": fields}
	return s.do(testutil.NewJSONRequest(s.T(), http.MethodPatch, s.sessionPath(sessionID, "/form"), body))
}

func (s *HandlerSuite) fillProfile(sessionID id.SessionID) {
	rr := s.patchForm(sessionID, map[string]string{
		"email":      "guest@example.com",
		"first_name": "Avery",
		"last_name":  "Reed",
		"phone":      "+14155550123",
	})
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
}

func (s *HandlerSuite) fillBooking(sessionID id.SessionID) {
	rr := s.patchForm(sessionID, map[string]string{
		"check_in":    "2025-07-04",
		"check_out":   "2025-07-06",
		"guest_count": "2",
	})
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
}

func (s *HandlerSuite) fillIdentification(sessionID id.SessionID) {
	rr := s.patchForm(sessionID, map[string]string{
		"profile_url": "https://stays.example.com/u/avery",
	})
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
}

func (s *HandlerSuite) advance(sessionID id.SessionID) *verification.AdvanceOutcome {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/advance")))
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	return testutil.UnmarshalResponse[verification.AdvanceOutcome](s.T(), rr)
}

func (s *HandlerSuite) view(sessionID id.SessionID) *sessionView {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.sessionPath(sessionID, "")))
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	return testutil.UnmarshalResponse[sessionView](s.T(), rr)
}

func (s *HandlerSuite) score(sessionID id.SessionID) *trust.Score {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.sessionPath(sessionID, "/score")))
	s.Require().Equal(http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	return testutil.UnmarshalResponse[trust.Score](s.T(), rr)
}

func (s *HandlerSuite) channelResult(view *sessionView, ch channels.Channel) channels.Result {
	for _, result := range view.Channels.Results {
		if result.Channel == ch {
			return result
		}
	}
	s.Require().Failf("channel missing from view", "channel %s not in results", ch)
	return channels.Result{}
}

// waitForChannelStatus polls the session view until the channel reaches the
// wanted status, advancing the manual clock so provider polls and countdowns
// make progress.
func (s *HandlerSuite) waitForChannelStatus(sessionID id.SessionID, ch channels.Channel, want channels.Status) {
	s.Require().Eventually(func() bool {
		s.clk.Advance(2 * time.Second)
		return s.channelResult(s.view(sessionID), ch).Status == want
	}, 5*time.Second, 10*time.Millisecond, "channel %s never reached %s", ch, want)
}

func pngBytes() []byte {
	return []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}
}

// uploadRequest builds a multipart POST for the document channel from the
// given part names. Omitting a part exercises the missing-image rejection.
func (s *HandlerSuite) uploadRequest(sessionID id.SessionID, parts map[string][]byte) *http.Request {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range parts {
		fw, err := writer.CreateFormFile(name, name+".png")
		s.Require().NoError(err)
		_, err = fw.Write(content)
		s.Require().NoError(err)
	}
	s.Require().NoError(writer.Close())

	req := httptest.NewRequest(http.MethodPost, s.sessionPath(sessionID, "/channels/document_selfie"), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// =============================================================================
// Authentication
// =============================================================================

func (s *HandlerSuite) TestAuthentication() {
	s.Run("no bearer token is refused", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", nil)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("Missing or invalid Authorization header", errResp["error_description"])
	})

	s.Run("a garbage token is refused", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", nil)
		rr := s.doAs(req, "not-a-jwt")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("a token signed with the wrong key is refused", func() {
		foreign := jwttoken.NewService("some-other-key", "booking-platform", "guestgate")
		token, err := foreign.Mint(id.NewGuestID(), "eve@example.com", "Eve", time.Hour)
		s.Require().NoError(err)
		rr := s.doAs(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", nil), token)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})
}

// =============================================================================
// Session lifecycle
// =============================================================================

func (s *HandlerSuite) TestStartSession() {
	s.Run("an empty body starts fresh", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		started := testutil.UnmarshalResponse[verification.Started](s.T(), rr)
		s.False(started.SessionID.IsZero())
		s.Equal(form.StepProfile, started.Step)
		s.False(started.Resumed)
	})

	s.Run("an empty JSON object also starts fresh", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/sessions", `{}`))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	})

	s.Run("malformed JSON is a bad request", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/sessions", `{"resume`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("a malformed resume id is rejected", func() {
		body := map[string]string{"resume_session_id": "not-a-uuid"}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", body))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("resuming a live session reconnects with 200", func() {
		sessionID := s.startSession()
		body := map[string]string{"resume_session_id": sessionID.String()}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", body))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		started := testutil.UnmarshalResponse[verification.Started](s.T(), rr)
		s.Equal(sessionID, started.SessionID)
		s.True(started.Resumed)
	})

	s.Run("resuming another guest's session is forbidden", func() {
		sessionID := s.startSession()
		intruder := s.mint(id.NewGuestID(), "mallory@example.com", "Mallory")
		body := map[string]string{"resume_session_id": sessionID.String()}
		rr := s.doAs(testutil.NewJSONRequest(s.T(), http.MethodPost, "/sessions", body), intruder)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})
}

func (s *HandlerSuite) TestSessionAccess() {
	s.Run("a malformed session id in the path is rejected", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/sessions/not-a-uuid"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("an unknown session is not found", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.sessionPath(id.NewSessionID(), "")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("another guest's token cannot read the session", func() {
		sessionID := s.startSession()
		intruder := s.mint(id.NewGuestID(), "mallory@example.com", "Mallory")
		rr := s.doAs(testutil.NewRequest(s.T(), http.MethodGet, s.sessionPath(sessionID, "")), intruder)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})
}

func (s *HandlerSuite) TestSessionView() {
	sessionID := s.startSession()

	s.Run("a fresh session has no score yet", func() {
		view := s.view(sessionID)
		s.Equal(sessionID, view.SessionID)
		s.Equal(models.StatusActive, view.Status)
		s.Equal(form.StepProfile, view.Step)
		s.Nil(view.Score)
		s.Empty(view.Notifications)
	})

	s.fillProfile(sessionID)

	s.Run("form answers and the recomputed score are on the view", func() {
		view := s.view(sessionID)
		s.Equal("guest@example.com", view.Form.Data["email"])
		s.Equal("Avery", view.Form.Data["first_name"])
		s.Empty(view.Form.Errors)
		s.Require().NotNil(view.Score)
		s.Equal(50, view.Score.Value)
		s.Equal(trust.LevelStandard, view.Score.Level)
	})

	s.Run("channel results come back complete and in canonical order", func() {
		view := s.view(sessionID)
		s.Require().Len(view.Channels.Results, len(channels.All))
		for i, ch := range channels.All {
			s.Equal(ch, view.Channels.Results[i].Channel)
			s.Equal(channels.StatusNotStarted, view.Channels.Results[i].Status)
		}
		s.Nil(view.Channels.Challenge)
	})
}

// =============================================================================
// Form editing and step advancement
// =============================================================================

func (s *HandlerSuite) TestUpdateForm() {
	sessionID := s.startSession()

	s.Run("a clean patch returns no errors", func() {
		rr := s.patchForm(sessionID, map[string]string{"first_name": "Avery"})
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[formUpdateResponse](s.T(), rr)
		s.Empty(resp.Errors)
	})

	s.Run("validation problems come back per field", func() {
		rr := s.patchForm(sessionID, map[string]string{"email": "not-an-email"})
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[formUpdateResponse](s.T(), rr)
		s.Equal("enter a valid email address", resp.Errors[form.FieldEmail])
	})

	s.Run("an unknown field is rejected outright", func() {
		rr := s.patchForm(sessionID, map[string]string{"favorite_color": "teal"})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("an empty patch is rejected", func() {
		rr := s.patchForm(sessionID, map[string]string{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("malformed JSON is a bad request", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPatch, s.sessionPath(sessionID, "/form"), `{"fields`))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestAdvance() {
	sessionID := s.startSession()

	s.Run("an incomplete step blocks with field problems", func() {
		outcome := s.advance(sessionID)
		s.False(outcome.Advanced)
		s.Equal(form.StepProfile, outcome.Step)
		s.NotEmpty(outcome.Errors)
		s.Contains(outcome.Errors, form.FieldEmail)
	})

	s.Run("a complete step moves forward", func() {
		s.fillProfile(sessionID)
		outcome := s.advance(sessionID)
		s.True(outcome.Advanced)
		s.Equal(form.StepBooking, outcome.Step)
		s.False(outcome.Completed)
	})
}

func (s *HandlerSuite) TestCompletionAndReset() {
	sessionID := s.startSession()
	s.fillProfile(sessionID)
	s.advance(sessionID)
	s.fillBooking(sessionID)
	s.advance(sessionID)
	s.fillIdentification(sessionID)
	s.advance(sessionID)

	s.Run("advancing from review completes the journey", func() {
		outcome := s.advance(sessionID)
		s.True(outcome.Completed)
		s.Equal(models.StatusCompleted, s.view(sessionID).Status)
	})

	s.Run("a completed session refuses edits", func() {
		rr := s.patchForm(sessionID, map[string]string{"first_name": "Rory"})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

		rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/advance")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("reset returns the session to a blank first step", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/reset")))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		view := s.view(sessionID)
		s.Equal(models.StatusActive, view.Status)
		s.Equal(form.StepProfile, view.Step)
		s.Empty(view.Form.Data)
		s.Nil(view.Score)
	})
}

// =============================================================================
// Phone channel
// =============================================================================

func (s *HandlerSuite) TestPhoneChannel() {
	sessionID := s.startSession()

	s.Run("a code cannot go out without a phone number on the form", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})

	s.fillProfile(sessionID)

	s.Run("starting issues a challenge with a live countdown", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp")))
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		resp := testutil.UnmarshalResponse[channelActionResponse](s.T(), rr)
		s.Equal(channels.ChannelPhoneOTP, resp.Channel)
		s.Equal(channels.StatusPending, resp.Result.Status)
		s.Require().NotNil(resp.Challenge)
		s.Equal(120, resp.Challenge.TTLSeconds)
		s.Equal(120, resp.Challenge.RemainingSeconds)
		s.NotEmpty(resp.Challenge.Reference)
	})

	s.Run("resending during the countdown is refused", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/resend")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("a blank code is rejected before the provider is called", func() {
		body := map[string]string{"code": "   "}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/code"), body))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("a wrong code is a mismatch outcome, not an error", func() {
		body := map[string]string{"code": "000000"}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/code"), body))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[submitCodeResponse](s.T(), rr)
		s.Equal(phone.SubmitCodeMismatch, resp.Outcome)
		s.NotNil(resp.Challenge, "a mismatch keeps the challenge alive")
	})

	s.Run("the right code verifies the channel", func() {
		body := map[string]string{"code": "123456"}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/code"), body))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[submitCodeResponse](s.T(), rr)
		s.Equal(phone.SubmitVerified, resp.Outcome)
		s.Require().NotNil(resp.Result)
		s.Equal(channels.StatusVerified, resp.Result.Status)
		s.Nil(resp.Challenge)
	})

	s.Run("the score reflects the verified phone", func() {
		s.Equal(65, s.score(sessionID).Value)
	})
}

func (s *HandlerSuite) TestPhoneChallengeExpiry() {
	sessionID := s.startSession()
	s.fillProfile(sessionID)
	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp")))
	s.Require().Equal(http.StatusAccepted, rr.Code)

	s.clk.Advance(120 * time.Second)

	s.Run("a late code is gone for good", func() {
		body := map[string]string{"code": "123456"}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/code"), body))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusGone, "challenge_expired")
	})

	s.Run("expiry leaves a notification for the guest", func() {
		view := s.view(sessionID)
		s.Require().Len(view.Notifications, 1)
		s.Equal(state.NoticeWarning, view.Notifications[0].Kind)
		s.Equal("Your verification code expired. Request a new one.", view.Notifications[0].Message)
	})

	s.Run("resend now issues a fresh challenge", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/phone_otp/resend")))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[channelActionResponse](s.T(), rr)
		s.Require().NotNil(resp.Challenge)
		s.Equal(120, resp.Challenge.RemainingSeconds)
	})

	s.Run("the notification can be dismissed", func() {
		view := s.view(sessionID)
		s.Require().Len(view.Notifications, 1)
		path := s.sessionPath(sessionID, "/notifications/"+view.Notifications[0].ID.String())
		rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, path))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		s.Empty(s.view(sessionID).Notifications)
	})
}

func (s *HandlerSuite) TestDismissNotification() {
	sessionID := s.startSession()

	s.Run("a malformed notification id is rejected", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, s.sessionPath(sessionID, "/notifications/nope")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("dismissing an unknown notification is a quiet no-op", func() {
		path := s.sessionPath(sessionID, "/notifications/"+id.NewNotificationID().String())
		rr := s.do(testutil.NewRequest(s.T(), http.MethodDelete, path))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})
}

// =============================================================================
// Document channel
// =============================================================================

func (s *HandlerSuite) TestDocumentChannel() {
	sessionID := s.startSession()
	s.fillProfile(sessionID)

	s.Run("a missing selfie part is rejected", func() {
		req := s.uploadRequest(sessionID, map[string][]byte{"document": pngBytes()})
		rr := s.do(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
		errResp := testutil.UnmarshalErrorResponse(s.T(), rr)
		s.Equal("selfie image is required", errResp["error_description"])
	})

	s.Run("a non-multipart body is rejected", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/document_selfie"), map[string]string{}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("a text file dressed as an image is rejected", func() {
		req := s.uploadRequest(sessionID, map[string][]byte{
			"document": []byte("definitely not pixels"),
			"selfie":   pngBytes(),
		})
		rr := s.do(req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})

	s.Run("a valid upload is accepted and settles verified", func() {
		req := s.uploadRequest(sessionID, map[string][]byte{
			"document": pngBytes(),
			"selfie":   pngBytes(),
		})
		rr := s.do(req)
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		resp := testutil.UnmarshalResponse[channelActionResponse](s.T(), rr)
		s.Equal(channels.ChannelDocumentSelfie, resp.Channel)

		s.waitForChannelStatus(sessionID, channels.ChannelDocumentSelfie, channels.StatusVerified)
		s.Equal(75, s.score(sessionID).Value)
	})
}

// =============================================================================
// Background check and platform profile channels
// =============================================================================

func (s *HandlerSuite) TestBackgroundChannel() {
	sessionID := s.startSession()
	s.fillProfile(sessionID)

	s.Run("no consent means no check", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/background_check")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "missing_consent")
	})

	s.Run("with consent the check runs to a clear result", func() {
		rr := s.patchForm(sessionID, map[string]string{"background_consent": "true"})
		s.Require().Equal(http.StatusOK, rr.Code)

		rr = s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/background_check")))
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)

		s.waitForChannelStatus(sessionID, channels.ChannelBackgroundCheck, channels.StatusVerified)
		s.Equal(70, s.score(sessionID).Value)
	})
}

func (s *HandlerSuite) TestPlatformProfileChannel() {
	sessionID := s.startSession()

	s.Run("a profile link is required", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/platform_profile")))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation")
	})

	s.Run("a well-formed link verifies synchronously", func() {
		s.fillIdentification(sessionID)
		rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/platform_profile")))
		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		resp := testutil.UnmarshalResponse[channelActionResponse](s.T(), rr)
		s.Equal(channels.StatusVerified, resp.Result.Status)
		s.Equal("stays.example.com", resp.Result.Reference)
	})
}

func (s *HandlerSuite) TestUnknownChannel() {
	sessionID := s.startSession()
	rr := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.sessionPath(sessionID, "/channels/teleport")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

// =============================================================================
// Background check offer
// =============================================================================

func (s *HandlerSuite) TestBackgroundOffer() {
	sessionID := s.startSession()

	s.Run("a fresh low-signal session gets the offer", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.sessionPath(sessionID, "/background-offer")))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[backgroundOfferResponse](s.T(), rr)
		s.True(resp.Offer)
	})
}

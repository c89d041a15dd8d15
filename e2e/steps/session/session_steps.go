package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	PATCH(path string, body interface{}) error
	GET(path string) error
	SessionPath(suffix string) string
	SessionID() string
	SetSessionID(id string)
	GetResponseField(field string) (interface{}, error)
	LastStatusCode() int
}

// RegisterSteps registers session lifecycle and intake form step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &sessionSteps{tc: tc}

	// Lifecycle steps
	ctx.Step(`^a fresh verification session$`, steps.freshSession)
	ctx.Step(`^I start a verification session$`, steps.startSession)
	ctx.Step(`^I resume the session$`, steps.resumeSession)
	ctx.Step(`^I reset the session$`, steps.resetSession)

	// Intake form steps
	ctx.Step(`^I fill the form field "([^"]*)" with "([^"]*)"$`, steps.fillFormField)
	ctx.Step(`^I fill the profile step with valid answers$`, steps.fillProfileStep)
	ctx.Step(`^I fill the booking step with valid answers$`, steps.fillBookingStep)
	ctx.Step(`^I provide the profile link "([^"]*)"$`, steps.provideProfileLink)
	ctx.Step(`^I advance to the next step$`, steps.advance)

	// Read steps
	ctx.Step(`^I read the session state$`, steps.readSessionState)
	ctx.Step(`^I read the session "([^"]*)"$`, steps.readSessionByID)
	ctx.Step(`^I read the trust score$`, steps.readTrustScore)
	ctx.Step(`^I read the background check offer$`, steps.readBackgroundOffer)
}

type sessionSteps struct {
	tc TestContext
}

// freshSession starts a session and fails the scenario unless the server
// actually created one; later steps depend on the captured id.
func (s *sessionSteps) freshSession(ctx context.Context) error {
	if err := s.tc.POST("/v1/sessions", nil); err != nil {
		return err
	}
	if got := s.tc.LastStatusCode(); got != http.StatusCreated {
		return fmt.Errorf("expected a fresh session (201), got %d", got)
	}
	return s.captureSessionID()
}

// startSession issues the start request without asserting the outcome, so
// scenarios can inspect rejections.
func (s *sessionSteps) startSession(ctx context.Context) error {
	return s.tc.POST("/v1/sessions", nil)
}

func (s *sessionSteps) resumeSession(ctx context.Context) error {
	return s.tc.POST("/v1/sessions", map[string]interface{}{
		"resume_session_id": s.tc.SessionID(),
	})
}

func (s *sessionSteps) resetSession(ctx context.Context) error {
	return s.tc.POST(s.tc.SessionPath("/reset"), nil)
}

func (s *sessionSteps) fillFormField(ctx context.Context, field, value string) error {
	return s.patchForm(map[string]string{field: value})
}

func (s *sessionSteps) fillProfileStep(ctx context.Context) error {
	return s.patchForm(map[string]string{
		"email":        "guest@example.com",
		"first_name":   "Avery",
		"last_name":    "Reed",
		"phone_number": "+14155550123",
	})
}

// fillBookingStep uses dates relative to today so scenarios keep passing
// no matter when the suite runs.
func (s *sessionSteps) fillBookingStep(ctx context.Context) error {
	return s.patchForm(map[string]string{
		"check_in":    time.Now().AddDate(0, 0, 7).Format("2006-01-02"),
		"check_out":   time.Now().AddDate(0, 0, 9).Format("2006-01-02"),
		"guest_count": "2",
	})
}

func (s *sessionSteps) provideProfileLink(ctx context.Context, link string) error {
	return s.patchForm(map[string]string{"profile_url": link})
}

func (s *sessionSteps) advance(ctx context.Context) error {
	return s.tc.POST(s.tc.SessionPath("/advance"), nil)
}

func (s *sessionSteps) readSessionState(ctx context.Context) error {
	return s.tc.GET(s.tc.SessionPath(""))
}

func (s *sessionSteps) readSessionByID(ctx context.Context, id string) error {
	return s.tc.GET("/v1/sessions/" + id)
}

func (s *sessionSteps) readTrustScore(ctx context.Context) error {
	return s.tc.GET(s.tc.SessionPath("/score"))
}

func (s *sessionSteps) readBackgroundOffer(ctx context.Context) error {
	return s.tc.GET(s.tc.SessionPath("/background-offer"))
}

func (s *sessionSteps) patchForm(fields map[string]string) error {
	return s.tc.PATCH(s.tc.SessionPath("/form"), map[string]interface{}{
		"fields": fields,
	})
}

func (s *sessionSteps) captureSessionID() error {
	id, err := s.tc.GetResponseField("session_id")
	if err != nil {
		return err
	}
	sid, ok := id.(string)
	if !ok {
		return fmt.Errorf("session_id is %T, expected a string", id)
	}
	s.tc.SetSessionID(sid)
	return nil
}

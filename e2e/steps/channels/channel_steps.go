package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string) error
	POSTImages(path string, parts ...string) error
	SessionPath(suffix string) string
	GetResponseField(field string) (interface{}, error)
}

// RegisterSteps registers verification channel step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &channelSteps{tc: tc}

	// Phone challenge steps
	ctx.Step(`^I request a phone verification code$`, steps.requestPhoneCode)
	ctx.Step(`^I submit the verification code "([^"]*)"$`, steps.submitCode)
	ctx.Step(`^I resend the phone verification code$`, steps.resendPhoneCode)

	// Other channel steps
	ctx.Step(`^I upload a document and selfie$`, steps.uploadDocumentAndSelfie)
	ctx.Step(`^I start the "([^"]*)" channel$`, steps.startChannel)

	// Channel assertion steps
	ctx.Step(`^the "([^"]*)" channel should eventually be "([^"]*)"$`, steps.channelShouldEventuallyBe)
}

type channelSteps struct {
	tc TestContext
}

func (s *channelSteps) requestPhoneCode(ctx context.Context) error {
	return s.tc.POST(s.tc.SessionPath("/channels/phone_otp"), nil)
}

func (s *channelSteps) submitCode(ctx context.Context, code string) error {
	return s.tc.POST(s.tc.SessionPath("/channels/phone_otp/code"), map[string]interface{}{
		"code": code,
	})
}

func (s *channelSteps) resendPhoneCode(ctx context.Context) error {
	return s.tc.POST(s.tc.SessionPath("/channels/phone_otp/resend"), nil)
}

func (s *channelSteps) uploadDocumentAndSelfie(ctx context.Context) error {
	return s.tc.POSTImages(s.tc.SessionPath("/channels/document_selfie"), "document", "selfie")
}

func (s *channelSteps) startChannel(ctx context.Context, channel string) error {
	return s.tc.POST(s.tc.SessionPath("/channels/"+channel), nil)
}

// channelShouldEventuallyBe polls the session view until the channel reaches
// the wanted status. Review-style channels settle on provider callbacks,
// which takes a couple of seconds on a live server.
func (s *channelSteps) channelShouldEventuallyBe(ctx context.Context, channel, want string) error {
	deadline := time.Now().Add(15 * time.Second)
	last := "unknown"
	for {
		if err := s.tc.GET(s.tc.SessionPath("")); err != nil {
			return err
		}
		status, err := s.channelStatus(channel)
		if err == nil {
			last = status
			if status == want {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("channel %s is %q, wanted %q", channel, last, want)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *channelSteps) channelStatus(channel string) (string, error) {
	raw, err := s.tc.GetResponseField("channels.results")
	if err != nil {
		return "", err
	}
	results, ok := raw.([]interface{})
	if !ok {
		return "", fmt.Errorf("channels.results is %T, expected an array", raw)
	}
	for _, entry := range results {
		result, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if result["channel"] == channel {
			status, _ := result["status"].(string)
			return status, nil
		}
	}
	return "", fmt.Errorf("channel %s is not in the session view", channel)
}

package e2e

import (
	"github.com/cucumber/godog"

	"guestgate/e2e/steps/channels"
	"guestgate/e2e/steps/common"
	"guestgate/e2e/steps/session"
)

// RegisterSteps registers all step definitions from the modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	session.RegisterSteps(ctx, tc)
	channels.RegisterSteps(ctx, tc)
}

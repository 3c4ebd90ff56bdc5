// Package e2e drives the verification API through its feature files.
package e2e

import (
	"context"

	"github.com/cucumber/godog"

	"agegate/e2e/steps/common"
	"agegate/e2e/steps/verification"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Close()
		return ctx, err
	})

	common.RegisterSteps(ctx, tc)
	verification.RegisterSteps(ctx, tc)
}

package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// Assertion document sources.
const (
	assertionSourceManifest = "manifest"
	assertionSourceSSM      = "ssm"
)

// assertionPolicy is the rego policy assertions are evaluated against.
// Keeping the comparison in rego lets operators extend it later without
// touching task code.
const assertionPolicy = `package assertion

default pass := false

pass if input.expected == input.actual
`

// AssertionOutput is the output record of an assertion task.
type AssertionOutput struct {
	AssertionName string      `json:"assertion_name"`
	AccountID     string      `json:"account_id"`
	Region        string      `json:"region"`
	Expected      interface{} `json:"expected"`
	Actual        interface{} `json:"actual"`
	Passed        bool        `json:"passed"`
}

// RunAssertionTask evaluates one expected-vs-actual check in one target.
type RunAssertionTask struct {
	Deployment *Deployment

	AssertionName string
	Assertion     *manifest.Assertion
	AccountID     string
	Region        string

	Dependencies []engine.Task
}

func (t *RunAssertionTask) Identity() engine.Identity {
	id := engine.NewIdentity("run-assertion",
		"assertion", t.AssertionName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *RunAssertionTask) Priority() int { return t.Assertion.RequestedPriority }

func (t *RunAssertionTask) RetryCount() int { return t.Assertion.RetryCount }

func (t *RunAssertionTask) Requires() []engine.Task { return t.Dependencies }

func (t *RunAssertionTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	expected, err := t.resolveDocument(ctx, t.Assertion.Expected)
	if err != nil {
		return nil, fmt.Errorf("resolving expected value: %w", err)
	}
	actual, err := t.resolveDocument(ctx, t.Assertion.Actual)
	if err != nil {
		return nil, fmt.Errorf("resolving actual value: %w", err)
	}

	query, err := rego.New(
		rego.Query("data.assertion.pass"),
		rego.Module("assertion.rego", assertionPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, engine.NewPermanentError("preparing assertion policy", err).
			WithCode(engine.ErrCodeInternal)
	}

	results, err := query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"expected": expected,
		"actual":   actual,
	}))
	if err != nil {
		return nil, engine.NewPermanentError("evaluating assertion", err).
			WithCode(engine.ErrCodeInternal)
	}

	passed := len(results) > 0 && len(results[0].Expressions) > 0 &&
		results[0].Expressions[0].Value == true
	if !passed {
		expectedJSON, _ := json.Marshal(expected)
		actualJSON, _ := json.Marshal(actual)
		return nil, engine.NewPermanentError(
			fmt.Sprintf("assertion %s failed in %s/%s: expected %s, got %s",
				t.AssertionName, t.AccountID, t.Region, expectedJSON, actualJSON), nil)
	}

	return engine.Output(AssertionOutput{
		AssertionName: t.AssertionName,
		AccountID:     t.AccountID,
		Region:        t.Region,
		Expected:      expected,
		Actual:        actual,
		Passed:        true,
	})
}

// resolveDocument materializes one side of the assertion. The manifest
// source carries its value inline; the ssm source reads a parameter from
// the target account.
func (t *RunAssertionTask) resolveDocument(ctx context.Context, doc manifest.AssertionDocument) (interface{}, error) {
	switch doc.Source {
	case assertionSourceManifest:
		return doc.Config["value"], nil
	case assertionSourceSSM:
		name, _ := doc.Config["name"].(string)
		if name == "" {
			return nil, engine.NewConfigurationError("ssm assertion source requires a name", nil)
		}
		clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
		if err != nil {
			return nil, err
		}
		param, err := clients.Parameters.Get(ctx, substituteTokens(name, t.AccountID, t.Region))
		if err != nil {
			if cloud.IsNotFound(err) {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("assertion parameter %s does not exist", name), err).
					WithCode(engine.ErrCodeParameterNotFound)
			}
			return nil, err
		}
		return param.Value, nil
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("unknown assertion source %q", doc.Source), nil)
	}
}

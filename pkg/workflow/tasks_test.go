package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
)

// sectionFixture wires one target account plus the hub for the non-launch
// section tasks.
func sectionFixture(t *testing.T, doc string) (*Deployment, *testTarget, *testTarget) {
	t.Helper()
	target := newTestTarget()
	hub := newTestTarget()

	factory := cloud.NewStaticFactory()
	factory.Register("111111111111", "us-east-1", target.clients())
	factory.Register("999999999999", "eu-west-1", hub.clients())
	factory.Register("999999999999", "us-east-1", hub.clients())

	return testDeployment(t, doc, factory, Settings{}), target, hub
}

const assertionManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "111111111111"
    default_region: us-east-1
assertions:
  flag-on:
    expected:
      source: manifest
      config:
        value: enabled
    actual:
      source: ssm
      config:
        name: /flags/feature
    deploy_to:
      accounts:
        - account_id: "111111111111"
`

func assertionTask(t *testing.T, d *Deployment) *RunAssertionTask {
	t.Helper()
	assertion, ok := d.Manifest.Assertion("flag-on")
	if !ok {
		t.Fatal("assertion flag-on not declared")
	}
	return &RunAssertionTask{
		Deployment:    d,
		AssertionName: "flag-on",
		Assertion:     assertion,
		AccountID:     "111111111111",
		Region:        "us-east-1",
	}
}

func TestAssertionPassesWhenValuesMatch(t *testing.T) {
	d, target, _ := sectionFixture(t, assertionManifest)
	target.parameters.set("/flags/feature", "enabled")

	report := runTasks(t, nil, assertionTask(t, d))
	requireNoFailures(t, report)

	var out AssertionOutput
	key := "run-assertion/assertion=flag-on/account=111111111111/region=us-east-1"
	if err := json.Unmarshal(findOutput(t, report, key), &out); err != nil {
		t.Fatalf("decoding assertion output: %v", err)
	}
	if !out.Passed {
		t.Error("assertion did not pass")
	}
}

func TestAssertionFailsWhenValuesDiffer(t *testing.T) {
	d, target, _ := sectionFixture(t, assertionManifest)
	target.parameters.set("/flags/feature", "disabled")

	report := runTasks(t, nil, assertionTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected the assertion to fail, got %d failures", len(report.Failed))
	}
	failure := report.Failed[0].Error
	if !strings.Contains(failure, "assertion flag-on failed") ||
		!strings.Contains(failure, `"enabled"`) || !strings.Contains(failure, `"disabled"`) {
		t.Errorf("unexpected failure: %s", failure)
	}
}

func TestAssertionFailsWhenParameterMissing(t *testing.T) {
	d, _, _ := sectionFixture(t, assertionManifest)

	report := runTasks(t, nil, assertionTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected a failure, got %d", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "does not exist") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

const codeBuildManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "111111111111"
    default_region: us-east-1
code-build-runs:
  db-migrate:
    project_name: migrations
    parameters:
      STAGE:
        default: production
      DB_HOST:
        ssm:
          name: /db/host
    deploy_to:
      accounts:
        - account_id: "111111111111"
`

func codeBuildTask(t *testing.T, d *Deployment) *RunCodeBuildTask {
	t.Helper()
	build, ok := d.Manifest.CodeBuildRun("db-migrate")
	if !ok {
		t.Fatal("code build run db-migrate not declared")
	}
	return &RunCodeBuildTask{
		Deployment: d,
		RunName:    "db-migrate",
		Build:      build,
		AccountID:  "111111111111",
		Region:     "us-east-1",
	}
}

func TestCodeBuildRunEnvironment(t *testing.T) {
	d, target, hub := sectionFixture(t, codeBuildManifest)
	hub.parameters.set("/db/host", "db.internal")

	report := runTasks(t, nil, codeBuildTask(t, d))
	requireNoFailures(t, report)

	if got := len(target.builds.starts); got != 1 {
		t.Fatalf("builds started = %d, want 1", got)
	}
	start := target.builds.starts[0]
	if start.Project != "migrations" {
		t.Errorf("project = %q", start.Project)
	}
	want := map[string]string{
		"TARGET_ACCOUNT_ID": "111111111111",
		"TARGET_REGION":     "us-east-1",
		"STAGE":             "production",
		"DB_HOST":           "db.internal",
	}
	for key, value := range want {
		if start.Env[key] != value {
			t.Errorf("env[%s] = %q, want %q", key, start.Env[key], value)
		}
	}
}

func TestCodeBuildRunFailure(t *testing.T) {
	d, target, hub := sectionFixture(t, codeBuildManifest)
	hub.parameters.set("/db/host", "db.internal")
	target.builds.fail = true

	report := runTasks(t, nil, codeBuildTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected the build to fail, got %d failures", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "finished FAILED") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

const lambdaManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "111111111111"
    default_region: us-east-1
lambda-invocations:
  notify:
    function_name: notify-platform-team
    qualifier: live
    parameters:
      STAGE:
        default: production
    deploy_to:
      accounts:
        - account_id: "111111111111"
`

func lambdaTask(t *testing.T, d *Deployment) *InvokeLambdaTask {
	t.Helper()
	invocation, ok := d.Manifest.LambdaInvocation("notify")
	if !ok {
		t.Fatal("lambda invocation notify not declared")
	}
	return &InvokeLambdaTask{
		Deployment:     d,
		InvocationName: "notify",
		Invocation:     invocation,
		AccountID:      "111111111111",
		Region:         "us-east-1",
	}
}

func TestLambdaInvocationPayload(t *testing.T) {
	d, _, hub := sectionFixture(t, lambdaManifest)

	report := runTasks(t, nil, lambdaTask(t, d))
	requireNoFailures(t, report)

	if got := len(hub.functions.invocations); got != 1 {
		t.Fatalf("invocations = %d, want 1", got)
	}
	call := hub.functions.invocations[0]
	if call.Name != "notify-platform-team" || call.Qualifier != "live" {
		t.Errorf("invoked %q qualifier %q", call.Name, call.Qualifier)
	}
	if call.InvocationType != "RequestResponse" {
		t.Errorf("invocation type = %q, want the RequestResponse default", call.InvocationType)
	}

	var payload lambdaPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.AccountID != "111111111111" || payload.Region != "us-east-1" {
		t.Errorf("payload target = %+v", payload)
	}
	if payload.Parameters["STAGE"] != "production" {
		t.Errorf("payload parameters = %v", payload.Parameters)
	}
}

func TestLambdaInvocationFunctionError(t *testing.T) {
	d, _, hub := sectionFixture(t, lambdaManifest)
	hub.functions.result = cloud.InvokeResult{StatusCode: 200, FunctionError: "Unhandled"}

	report := runTasks(t, nil, lambdaTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected the invocation to fail, got %d failures", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "Unhandled") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

const portfolioManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "111111111111"
    default_region: us-east-1
spoke-local-portfolios:
  shared-platform:
    portfolio: platform
    associations:
      - arn:aws:iam::${AWS::AccountId}:role/Developers
    deploy_to:
      accounts:
        - account_id: "111111111111"
`

func portfolioTask(t *testing.T, d *Deployment) *DeploySpokeLocalPortfolioTask {
	t.Helper()
	portfolio, ok := d.Manifest.SpokeLocalPortfolio("shared-platform")
	if !ok {
		t.Fatal("spoke-local-portfolio shared-platform not declared")
	}
	return &DeploySpokeLocalPortfolioTask{
		Deployment:    d,
		PortfolioName: "shared-platform",
		Portfolio:     portfolio,
		AccountID:     "111111111111",
		Region:        "us-east-1",
	}
}

func TestSpokeLocalPortfolioCopiesProducts(t *testing.T) {
	d, target, hub := sectionFixture(t, portfolioManifest)
	hub.portfolios.products = []cloud.PortfolioProduct{
		{ID: "prod-a", Name: "alpha"},
		{ID: "prod-b", Name: "beta"},
	}

	report := runTasks(t, nil, portfolioTask(t, d))
	requireNoFailures(t, report)

	if len(hub.portfolios.shares) != 1 || hub.portfolios.shares[0] != [2]string{"port-platform", "111111111111"} {
		t.Errorf("shares = %v", hub.portfolios.shares)
	}
	if len(target.portfolios.accepted) != 1 || target.portfolios.accepted[0] != "port-platform" {
		t.Errorf("accepted = %v", target.portfolios.accepted)
	}
	if got := len(target.portfolios.copies); got != 2 {
		t.Fatalf("copied products = %d, want 2", got)
	}
	if len(target.portfolios.associations) != 0 {
		t.Error("copy mode associated products instead of copying")
	}
	if len(target.portfolios.principalARNs) != 1 ||
		target.portfolios.principalARNs[0] != "arn:aws:iam::111111111111:role/Developers" {
		t.Errorf("principals = %v", target.portfolios.principalARNs)
	}
}

func TestSpokeLocalPortfolioImportsProducts(t *testing.T) {
	doc := strings.Replace(portfolioManifest, "    portfolio: platform",
		"    portfolio: platform\n    product_generation_method: import", 1)
	d, target, hub := sectionFixture(t, doc)
	hub.portfolios.products = []cloud.PortfolioProduct{{ID: "prod-a", Name: "alpha"}}

	report := runTasks(t, nil, portfolioTask(t, d))
	requireNoFailures(t, report)

	if len(target.portfolios.copies) != 0 {
		t.Error("import mode copied products")
	}
	if got := len(target.portfolios.associations); got != 1 {
		t.Fatalf("associations = %d, want 1", got)
	}
}

func TestSpokeLocalPortfolioMissingHubPortfolio(t *testing.T) {
	doc := strings.Replace(portfolioManifest, "    portfolio: platform", "    portfolio: absent", 1)
	d, _, _ := sectionFixture(t, doc)

	report := runTasks(t, nil, portfolioTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected a failure, got %d", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "hub portfolio absent not found") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

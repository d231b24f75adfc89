package workflow

import (
	"strings"
	"testing"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"gopkg.in/yaml.v3"
)

const spokeManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "999999999999"
    name: hub
    default_region: eu-west-1
    tags:
      - role:hub
  - account_id: "333333333333"
    name: spoke
    default_region: us-west-2
    tags:
      - role:spoke
launches:
  app:
    execution: spoke
    portfolio: platform
    product: vpc
    version: v1
    deploy_to:
      accounts:
        - account_id: "333333333333"
`

func spokeFixture(t *testing.T, settings Settings) (*Deployment, *testTarget, *testTarget) {
	t.Helper()
	hub := newTestTarget()
	spoke := newTestTarget()

	factory := cloud.NewStaticFactory()
	factory.Register("999999999999", "eu-west-1", hub.clients())
	factory.Register("333333333333", "us-west-2", spoke.clients())

	return testDeployment(t, spokeManifest, factory, settings), hub, spoke
}

func spokeTask(t *testing.T, d *Deployment) *SpokeExecutionTask {
	t.Helper()
	launch, ok := d.Manifest.Launch("app")
	if !ok {
		t.Fatal("launch app not declared")
	}
	return &SpokeExecutionTask{
		Deployment: d,
		LaunchName: "app",
		Launch:     launch,
		AccountID:  "333333333333",
	}
}

func TestSpokeExecutionDispatch(t *testing.T) {
	d, hub, spoke := spokeFixture(t, Settings{
		SpokeBucket:       "puppet-manifests",
		SpokeBuildProject: "puppet-spoke-deploy",
		Version:           "1.2.3",
	})

	report := runTasks(t, nil, spokeTask(t, d))
	requireNoFailures(t, report)

	var uploaded []byte
	for key, body := range hub.objects.objects {
		if !strings.HasPrefix(key, "puppet-manifests/spoke-manifests/") ||
			!strings.HasSuffix(key, "/333333333333/manifest.yaml") {
			t.Errorf("unexpected object key %s", key)
		}
		uploaded = body
	}
	if uploaded == nil {
		t.Fatal("no reduced manifest uploaded")
	}
	var reduced map[string]interface{}
	if err := yaml.Unmarshal(uploaded, &reduced); err != nil {
		t.Fatalf("uploaded manifest is not valid yaml: %v", err)
	}

	if got := len(spoke.builds.starts); got != 1 {
		t.Fatalf("spoke builds started = %d, want 1", got)
	}
	start := spoke.builds.starts[0]
	if start.Project != "puppet-spoke-deploy" {
		t.Errorf("build project = %q", start.Project)
	}
	env := start.Env
	if !strings.HasPrefix(env["MANIFEST_URL"], "https://") {
		t.Errorf("MANIFEST_URL = %q, want a presigned URL", env["MANIFEST_URL"])
	}
	if env["PUPPET_ACCOUNT_ID"] != "999999999999" || env["HOME_REGION"] != "eu-west-1" {
		t.Errorf("hub context env = %v", env)
	}
	if env["REGIONS"] != "us-west-2" {
		t.Errorf("REGIONS = %q, want us-west-2", env["REGIONS"])
	}
	if env["VERSION"] != "1.2.3" {
		t.Errorf("VERSION = %q", env["VERSION"])
	}
	if env["SHOULD_FORWARD_EVENTS_TO_EVENTBRIDGE"] != "false" {
		t.Errorf("feature flag env = %v", env)
	}
}

func TestSpokeExecutionRequiresDispatchSettings(t *testing.T) {
	d, _, _ := spokeFixture(t, Settings{})

	report := runTasks(t, nil, spokeTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected a configuration failure, got %d failures", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "manifest bucket and build project") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

func TestSpokeExecutionBuildFailure(t *testing.T) {
	d, _, spoke := spokeFixture(t, Settings{
		SpokeBucket:       "puppet-manifests",
		SpokeBuildProject: "puppet-spoke-deploy",
	})
	spoke.builds.fail = true

	report := runTasks(t, nil, spokeTask(t, d))

	if len(report.Failed) != 1 {
		t.Fatalf("expected the dispatch to fail, got %d failures", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "finished FAILED") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

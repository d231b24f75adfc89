package workflow

import (
	"reflect"
	"strings"
	"testing"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

const fanoutManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "111111111111"
    default_region: us-east-1
    regions_enabled:
      - us-east-1
      - us-west-2
    tags:
      - role:spoke
  - account_id: "222222222222"
    default_region: eu-west-1
    tags:
      - role:spoke
launches:
  networking:
    portfolio: platform
    product: vpc
    version: v2
    deploy_to:
      tags:
        - tag: role:spoke
          regions: default_region
  app:
    portfolio: platform
    product: app
    version: v1
    depends_on:
      - name: networking
    deploy_to:
      accounts:
        - account_id: "111111111111"
          regions: enabled_regions
`

func fanoutDeployment(t *testing.T, doc string, settings Settings) *Deployment {
	t.Helper()
	factory := cloud.NewStaticFactory()
	factory.Fallback = newTestTarget().clients()
	return testDeployment(t, doc, factory, settings)
}

func graphKeys(t *testing.T, d *Deployment) []string {
	t.Helper()
	roots, err := BuildTasks(d)
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}
	graph, err := engine.BuildGraph(roots)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return graph.Keys()
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func TestBuildTasksExpandsLaunchTargets(t *testing.T) {
	keys := graphKeys(t, fanoutDeployment(t, fanoutManifest, Settings{}))

	want := []string{
		"launch/name=networking",
		"launch-for-account/name=networking/account=111111111111",
		"launch-for-account/name=networking/account=222222222222",
		"launch-for-region/name=networking/region=us-east-1",
		"launch-for-account-and-region/name=networking/account=222222222222/region=eu-west-1",
		"provision-product/launch=networking/account=111111111111/region=us-east-1",
		"provision-product/launch=networking/account=222222222222/region=eu-west-1",
		"provision-product/launch=app/account=111111111111/region=us-east-1",
		"provision-product/launch=app/account=111111111111/region=us-west-2",
	}
	for _, key := range want {
		if !containsKey(keys, key) {
			t.Errorf("graph is missing %s", key)
		}
	}

	if containsKey(keys, "provision-product/launch=app/account=222222222222/region=eu-west-1") {
		t.Error("app expanded to an account its deploy_to does not select")
	}
}

func TestBuildTasksAreDeterministic(t *testing.T) {
	first := graphKeys(t, fanoutDeployment(t, fanoutManifest, Settings{}))
	second := graphKeys(t, fanoutDeployment(t, fanoutManifest, Settings{}))
	if !reflect.DeepEqual(first, second) {
		t.Error("two expansions of the same manifest produced different graphs")
	}
}

func TestBuildTasksDependencyEdge(t *testing.T) {
	d := fanoutDeployment(t, fanoutManifest, Settings{})
	roots, err := BuildTasks(d)
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}

	var app *ProvisionProductTask
	var walk func(tasks []engine.Task)
	walk = func(tasks []engine.Task) {
		for _, task := range tasks {
			if p, ok := task.(*ProvisionProductTask); ok && p.LaunchName == "app" && app == nil {
				app = p
			}
			walk(task.Requires())
		}
	}
	walk(roots)

	if app == nil {
		t.Fatal("no provision task built for app")
	}
	found := false
	for _, dep := range app.Dependencies {
		if dep.Identity().Key() == "launch/name=networking" {
			found = true
		}
	}
	if !found {
		t.Error("app does not wait on the networking launch group")
	}
}

func TestBuildTasksRejectsAffinityMismatch(t *testing.T) {
	doc := strings.Replace(fanoutManifest,
		"      - name: networking",
		"      - name: networking\n        affinity: region", 1)

	_, err := BuildTasks(fanoutDeployment(t, doc, Settings{}))
	if err == nil {
		t.Fatal("expected an affinity mismatch error")
	}
	if !engine.IsConfiguration(err) || !engine.HasCode(err, engine.ErrCodeAffinityMismatch) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildTasksRejectsDependencyCycle(t *testing.T) {
	doc := strings.Replace(fanoutManifest,
		"    portfolio: platform\n    product: vpc",
		"    portfolio: platform\n    product: vpc\n    depends_on:\n      - name: app", 1)

	_, err := BuildTasks(fanoutDeployment(t, doc, Settings{}))
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if !engine.HasCode(err, engine.ErrCodeCycle) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildTasksSpokeLaunchDispatch(t *testing.T) {
	doc := strings.Replace(fanoutManifest,
		"  app:\n    portfolio: platform",
		"  app:\n    execution: spoke\n    portfolio: platform", 1)

	keys := graphKeys(t, fanoutDeployment(t, doc, Settings{}))

	if !containsKey(keys, "spoke-execution/launch=app/account=111111111111") {
		t.Error("spoke launch did not expand to a dispatch task")
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "provision-product/launch=app") {
			t.Errorf("spoke launch expanded to a hub-side provision task: %s", key)
		}
	}
}

func TestBuildTasksTerminatedLaunch(t *testing.T) {
	doc := strings.Replace(fanoutManifest,
		"  networking:\n    portfolio: platform",
		"  networking:\n    status: terminated\n    portfolio: platform", 1)

	keys := graphKeys(t, fanoutDeployment(t, doc, Settings{}))

	if !containsKey(keys, "terminate-product/launch=networking/account=111111111111/region=us-east-1") {
		t.Error("terminated launch did not expand to terminate tasks")
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "provision-product/launch=networking") {
			t.Errorf("terminated launch still provisions: %s", key)
		}
	}
}

func TestBuildTasksSingleAccountFilter(t *testing.T) {
	keys := graphKeys(t, fanoutDeployment(t, fanoutManifest, Settings{SingleAccountID: "222222222222"}))

	if !containsKey(keys, "provision-product/launch=networking/account=222222222222/region=eu-west-1") {
		t.Error("selected account was filtered out")
	}
	for _, key := range keys {
		if strings.Contains(key, "account=111111111111") {
			t.Errorf("other account leaked into a single-account run: %s", key)
		}
	}
}

func TestBuildTasksDryRunOnlyExpandsLaunches(t *testing.T) {
	doc := fanoutManifest + `
assertions:
  bucket-policy-ok:
    expected:
      source: manifest
      config:
        value: "true"
    actual:
      source: manifest
      config:
        value: "true"
    deploy_to:
      accounts:
        - account_id: "111111111111"
`
	keys := graphKeys(t, fanoutDeployment(t, doc, Settings{DryRun: true}))

	if !containsKey(keys, "provision-product/launch=networking/account=111111111111/region=us-east-1/dry-run") {
		t.Error("dry-run provision task missing or not flagged")
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "run-assertion") {
			t.Errorf("non-launch section expanded during dry run: %s", key)
		}
	}
}

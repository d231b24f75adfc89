package manifest

import (
	"testing"
)

func reduceFixture(t *testing.T) *Manifest {
	t.Helper()
	doc := `
accounts:
  - account_id: "012345678910"
    default_region: eu-west-1
    tags: [role:hub]
  - account_id: "009876543210"
    default_region: us-east-1
    regions_enabled: [us-east-1, us-west-2]
    tags: [role:spoke]
parameters:
  Environment:
    default: production
launches:
  networking:
    portfolio: core
    product: vpc
    version: v2
    deploy_to:
      tags:
        - tag: role:spoke
          regions: enabled_regions
  app:
    portfolio: apps
    product: web
    version: v1
    execution: spoke
    depends_on:
      - name: networking
      - name: bucket-policy-ok
        type: assertion
        affinity: assertion
    deploy_to:
      accounts:
        - account_id: "009876543210"
          regions: default_region
  hub-only:
    portfolio: core
    product: audit
    version: v1
    deploy_to:
      accounts:
        - account_id: "012345678910"
assertions:
  bucket-policy-ok:
    expected:
      source: manifest
      config:
        value: true
    actual:
      source: manifest
      config:
        value: true
    deploy_to:
      accounts:
        - account_id: "012345678910"
`
	return mustParse(t, doc)
}

func TestReduceKeepsSpokeLaunchesAndClosure(t *testing.T) {
	m := reduceFixture(t)

	reduced, err := Reduce(m, "009876543210")
	if err != nil {
		t.Fatalf("Reduce() error: %v", err)
	}

	if len(reduced.Accounts) != 1 || reduced.Accounts[0].AccountID != "009876543210" {
		t.Fatalf("accounts = %+v, want single spoke account", reduced.Accounts)
	}
	if _, ok := reduced.Launches["app"]; !ok {
		t.Error("spoke launch app missing from reduced manifest")
	}
	if _, ok := reduced.Launches["networking"]; !ok {
		t.Error("dependency networking missing from reduced manifest")
	}
	if _, ok := reduced.Assertions["bucket-policy-ok"]; !ok {
		t.Error("assertion dependency missing from reduced manifest")
	}
	if _, ok := reduced.Launches["hub-only"]; ok {
		t.Error("hub-only launch should not be in the reduced manifest")
	}
}

func TestReduceRewritesExecutionToHub(t *testing.T) {
	m := reduceFixture(t)

	reduced, err := Reduce(m, "009876543210")
	if err != nil {
		t.Fatalf("Reduce() error: %v", err)
	}
	if got := reduced.Launches["app"].Execution; got != ExecutionHub {
		t.Errorf("execution = %q, want hub", got)
	}
	// The source manifest must be untouched.
	if got := m.Launches["app"].Execution; got != ExecutionSpoke {
		t.Errorf("source execution mutated to %q", got)
	}
}

func TestReduceNarrowsDeployTargets(t *testing.T) {
	m := reduceFixture(t)

	reduced, err := Reduce(m, "009876543210")
	if err != nil {
		t.Fatalf("Reduce() error: %v", err)
	}

	networking := reduced.Launches["networking"].DeployTo
	if len(networking.Tags) != 0 {
		t.Error("tag selectors should be replaced with an explicit account")
	}
	if len(networking.Accounts) != 1 {
		t.Fatalf("accounts selectors = %+v", networking.Accounts)
	}
	sel := networking.Accounts[0]
	if sel.AccountID != "009876543210" {
		t.Errorf("account = %s", sel.AccountID)
	}
	if len(sel.Regions.List) != 2 {
		t.Errorf("regions = %+v, want both enabled regions", sel.Regions)
	}

	// The assertion only targets the hub, so it falls back to the spoke's
	// default region.
	assertion := reduced.Assertions["bucket-policy-ok"].DeployTo.Accounts[0]
	if len(assertion.Regions.List) != 1 || assertion.Regions.List[0] != "us-east-1" {
		t.Errorf("assertion regions = %+v, want [us-east-1]", assertion.Regions)
	}
}

func TestReduceUnknownAccount(t *testing.T) {
	m := reduceFixture(t)

	if _, err := Reduce(m, "099999999999"); err == nil {
		t.Error("Reduce() succeeded for undeclared account")
	}
}

func TestReducedManifestRoundTrips(t *testing.T) {
	m := reduceFixture(t)

	reduced, err := Reduce(m, "009876543210")
	if err != nil {
		t.Fatalf("Reduce() error: %v", err)
	}
	data, err := reduced.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	again := mustParse(t, string(data))
	if len(again.Launches) != len(reduced.Launches) {
		t.Errorf("round trip lost launches: %d != %d", len(again.Launches), len(reduced.Launches))
	}
	if _, ok := again.Assertions["bucket-policy-ok"]; !ok {
		t.Error("round trip lost assertion")
	}
}

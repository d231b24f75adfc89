package manifest

import (
	"reflect"
	"testing"
)

func testAccessor(t *testing.T) *Accessor {
	t.Helper()
	doc := `
accounts:
  - account_id: "012345678910"
    default_region: eu-west-1
    regions_enabled: [eu-west-1, eu-west-2]
    tags: [role:hub]
  - account_id: "009876543210"
    default_region: us-east-1
    regions_enabled: [us-east-1, us-west-2]
    tags: [role:spoke, team:data]
  - account_id: "011111111111"
    default_region: us-east-1
    tags: [role:spoke]
launches:
  tagged:
    portfolio: p
    product: x
    version: v1
    deploy_to:
      tags:
        - tag: role:spoke
          regions: default_region
  enabled:
    portfolio: p
    product: x
    version: v1
    deploy_to:
      accounts:
        - account_id: "009876543210"
          regions: enabled_regions
  everywhere:
    portfolio: p
    product: x
    version: v1
    deploy_to:
      tags:
        - tag: role:spoke
      accounts:
        - account_id: "009876543210"
  broken:
    portfolio: p
    product: x
    version: v1
    deploy_to:
      accounts:
        - account_id: "011111111111"
          regions: enabled_regions
`
	return NewAccessor(mustParse(t, doc))
}

func TestTargetsForTagSelector(t *testing.T) {
	acc := testAccessor(t)

	got, err := acc.TargetsFor(SectionLaunches, "tagged")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	want := []Target{
		{AccountID: "009876543210", Region: "us-east-1"},
		{AccountID: "011111111111", Region: "us-east-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %+v, want %+v", got, want)
	}
}

func TestTargetsForEnabledRegions(t *testing.T) {
	acc := testAccessor(t)

	got, err := acc.TargetsFor(SectionLaunches, "enabled")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	want := []Target{
		{AccountID: "009876543210", Region: "us-east-1"},
		{AccountID: "009876543210", Region: "us-west-2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %+v, want %+v", got, want)
	}
}

func TestTargetsDeduplicateAcrossSelectors(t *testing.T) {
	acc := testAccessor(t)

	got, err := acc.TargetsFor(SectionLaunches, "everywhere")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	// 009876543210 matches both the tag and the account selector with the
	// same default region, so it must appear once.
	want := []Target{
		{AccountID: "009876543210", Region: "us-east-1"},
		{AccountID: "011111111111", Region: "us-east-1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %+v, want %+v", got, want)
	}
}

func TestTargetsEnabledRegionsWithoutAnyFails(t *testing.T) {
	acc := testAccessor(t)

	if _, err := acc.TargetsFor(SectionLaunches, "broken"); err == nil {
		t.Error("TargetsFor() succeeded for account with no regions_enabled")
	}
}

func TestTargetsAreMemoized(t *testing.T) {
	acc := testAccessor(t)

	first, err := acc.TargetsFor(SectionLaunches, "tagged")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	second, err := acc.TargetsFor(SectionLaunches, "tagged")
	if err != nil {
		t.Fatalf("TargetsFor() error: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("second lookup did not return the memoized slice")
	}
}

func TestTargetsForUndeclaredItem(t *testing.T) {
	acc := testAccessor(t)

	if _, err := acc.TargetsFor(SectionLaunches, "nope"); err == nil {
		t.Error("TargetsFor() succeeded for undeclared launch")
	}
}

func TestRegionsForAllKeyword(t *testing.T) {
	acct := &Account{
		AccountID:      "012345678910",
		DefaultRegion:  "eu-west-1",
		RegionsEnabled: []string{"eu-west-2", "eu-west-1"},
	}
	got, err := regionsFor(acct, RegionSelector{Keyword: RegionsAll})
	if err != nil {
		t.Fatalf("regionsFor() error: %v", err)
	}
	want := []string{"eu-west-1", "eu-west-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("regions = %v, want %v", got, want)
	}
}

func TestAccountIDsSorted(t *testing.T) {
	acc := testAccessor(t)

	want := []string{"009876543210", "011111111111", "012345678910"}
	if got := acc.AccountIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("AccountIDs() = %v, want %v", got, want)
	}
}

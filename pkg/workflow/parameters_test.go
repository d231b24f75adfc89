package workflow

import (
	"strings"
	"testing"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

func TestResolveParametersPrecedence(t *testing.T) {
	declared := []cloud.ProvisioningParameter{
		{Key: "CidrBlock", DefaultValue: "10.0.0.0/16"},
		{Key: "Stage", DefaultValue: "dev"},
		{Key: "Owner", DefaultValue: "nobody"},
		{Key: "KeyArn", DefaultValue: ""},
	}
	itemSpecs := map[string]manifest.ParameterSpec{
		"CidrBlock": {Default: "10.1.0.0/16"},
	}
	manifestSpecs := map[string]manifest.ParameterSpec{
		"CidrBlock": {Default: "10.2.0.0/16"},
		"Stage":     {Default: "production"},
		"KeyArn":    {SSM: &manifest.SSMParameterSource{Name: "/kms/key-arn"}},
	}
	ssm := map[string]string{"KeyArn": "arn:aws:kms:::key/abc"}

	resolved, err := resolveParameters(declared, itemSpecs, manifestSpecs, ssm)
	if err != nil {
		t.Fatalf("resolveParameters: %v", err)
	}

	want := map[string]string{
		"CidrBlock": "10.1.0.0/16",
		"Stage":     "production",
		"Owner":     "nobody",
		"KeyArn":    "arn:aws:kms:::key/abc",
	}
	if len(resolved) != len(want) {
		t.Fatalf("resolved %d parameters, want %d: %v", len(resolved), len(want), resolved)
	}
	for key, value := range want {
		if resolved[key] != value {
			t.Errorf("resolved[%s] = %q, want %q", key, resolved[key], value)
		}
	}
}

func TestResolveParametersDropsUndeclaredKeys(t *testing.T) {
	declared := []cloud.ProvisioningParameter{{Key: "Stage", DefaultValue: "dev"}}
	manifestSpecs := map[string]manifest.ParameterSpec{
		"Stage":    {Default: "production"},
		"Unwanted": {Default: "should-not-appear"},
	}

	resolved, err := resolveParameters(declared, nil, manifestSpecs, nil)
	if err != nil {
		t.Fatalf("resolveParameters: %v", err)
	}
	if _, ok := resolved["Unwanted"]; ok {
		t.Error("undeclared key survived resolution")
	}
	if len(resolved) != 1 {
		t.Errorf("resolved = %v", resolved)
	}
}

func TestResolveParametersMissingSSMValue(t *testing.T) {
	declared := []cloud.ProvisioningParameter{{Key: "KeyArn"}}
	manifestSpecs := map[string]manifest.ParameterSpec{
		"KeyArn": {SSM: &manifest.SSMParameterSource{Name: "/kms/key-arn"}},
	}

	_, err := resolveParameters(declared, nil, manifestSpecs, nil)
	if err == nil {
		t.Fatal("expected an error for the unfetched ssm value")
	}
	if !engine.IsConfiguration(err) || !engine.HasCode(err, engine.ErrCodeParameterNotFound) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParametersEqualIgnoresUndeclaredKeys(t *testing.T) {
	declared := []cloud.ProvisioningParameter{{Key: "Stage"}}
	live := map[string]string{"Stage": "production", "Extra": "live-only"}
	desired := map[string]string{"Stage": "production"}

	if !parametersEqual(declared, live, desired) {
		t.Error("declared keys match but parametersEqual reported drift")
	}

	live["Stage"] = "dev"
	if parametersEqual(declared, live, desired) {
		t.Error("declared key drift went undetected")
	}
}

func TestSubstituteTokens(t *testing.T) {
	got := substituteTokens("/networking/${AWS::Region}/${AWS::AccountId}/vpc-id", "111111111111", "us-east-1")
	want := "/networking/us-east-1/111111111111/vpc-id"
	if got != want {
		t.Errorf("substituteTokens = %q, want %q", got, want)
	}
}

func TestSSMParameterTasksItemShadowsManifest(t *testing.T) {
	d := testDeployment(t, provisionManifest, cloud.NewStaticFactory(), Settings{})
	itemSpecs := map[string]manifest.ParameterSpec{
		"KeyArn": {SSM: &manifest.SSMParameterSource{Name: "/item/${AWS::Region}/key"}},
	}
	manifestSpecs := map[string]manifest.ParameterSpec{
		"KeyArn": {SSM: &manifest.SSMParameterSource{Name: "/manifest/key"}},
		"VpcID":  {SSM: &manifest.SSMParameterSource{Name: "/manifest/vpc", Region: "us-west-2"}},
	}

	tasks := ssmParameterTasks(d, itemSpecs, manifestSpecs, "111111111111", "us-east-1")

	if len(tasks) != 2 {
		t.Fatalf("built %d tasks, want 2", len(tasks))
	}
	if tasks["KeyArn"].Name != "/item/us-east-1/key" {
		t.Errorf("KeyArn fetch = %q, item spec did not shadow the manifest one", tasks["KeyArn"].Name)
	}
	if tasks["VpcID"].Region != "us-west-2" {
		t.Errorf("VpcID region = %q", tasks["VpcID"].Region)
	}
}

func TestGetSSMParameterTaskMissingParameter(t *testing.T) {
	hub := newTestTarget()
	factory := cloud.NewStaticFactory()
	factory.Register("999999999999", "eu-west-1", hub.clients())
	d := testDeployment(t, provisionManifest, factory, Settings{})

	task := &GetSSMParameterTask{Deployment: d, Name: "/absent/param"}
	report := runTasks(t, nil, task)

	if len(report.Failed) != 1 {
		t.Fatalf("expected a failure, got %d", len(report.Failed))
	}
	if !strings.Contains(report.Failed[0].Error, "/absent/param does not exist") {
		t.Errorf("unexpected failure: %s", report.Failed[0].Error)
	}
}

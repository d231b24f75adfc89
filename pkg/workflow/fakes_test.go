package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

func init() {
	recordPollInterval = time.Millisecond
	planPollInterval = time.Millisecond
	recordWaitTimeout = 50 * time.Millisecond
	planWaitTimeout = 50 * time.Millisecond
}

// fakeCatalog is an in-memory Catalog holding a single provisioned
// product, which is all the per-target tasks ever touch.
type fakeCatalog struct {
	mu sync.Mutex

	product       *cloud.ProvisionedProduct
	artifacts     map[string]cloud.ProvisioningArtifact
	declared      []cloud.ProvisioningParameter
	paths         []cloud.LaunchPath
	currentParams map[string]string
	outputs       map[string]string

	failRecords  map[string][]string
	stuckRecords map[string]bool
	stuckPlans   bool

	provisionCalls  []cloud.ProvisionInput
	updateCalls     []cloud.UpdateInput
	planCalls       []cloud.UpdateInput
	executedPlans   []string
	deletedPlans    []string
	terminateCalls  []string
	resetOwnerCalls int

	pendingPlan *cloud.UpdateInput
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		artifacts:     make(map[string]cloud.ProvisioningArtifact),
		currentParams: make(map[string]string),
		outputs:       make(map[string]string),
		failRecords:   make(map[string][]string),
		stuckRecords:  make(map[string]bool),
		paths:         []cloud.LaunchPath{{ID: "path-1", Name: "default"}},
	}
}

// mutations counts every call that would change remote state.
func (f *fakeCatalog) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.provisionCalls) + len(f.updateCalls) + len(f.planCalls) +
		len(f.executedPlans) + len(f.terminateCalls) + f.resetOwnerCalls
}

func (f *fakeCatalog) GetProvisionedProduct(ctx context.Context, name string) (*cloud.ProvisionedProduct, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.product == nil || f.product.Name != name {
		return nil, false, nil
	}
	clone := *f.product
	return &clone, true, nil
}

func (f *fakeCatalog) ListLaunchPaths(ctx context.Context, productID string) ([]cloud.LaunchPath, error) {
	return f.paths, nil
}

func (f *fakeCatalog) GetProvisioningArtifact(ctx context.Context, productID, versionName string) (*cloud.ProvisioningArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	artifact, ok := f.artifacts[versionName]
	if !ok {
		return nil, cloud.NewNotFoundError("provisioning artifact", versionName)
	}
	return &artifact, nil
}

func (f *fakeCatalog) ListProvisioningArtifacts(ctx context.Context, productID string) ([]cloud.ProvisioningArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	artifacts := make([]cloud.ProvisioningArtifact, 0, len(f.artifacts))
	for _, a := range f.artifacts {
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (f *fakeCatalog) DescribeProvisioningParameters(ctx context.Context, productID, artifactID, pathID string) ([]cloud.ProvisioningParameter, error) {
	return f.declared, nil
}

func (f *fakeCatalog) GetOutputs(ctx context.Context, provisionedProductID string) (map[string]string, error) {
	return f.outputs, nil
}

func (f *fakeCatalog) GetCurrentParameters(ctx context.Context, provisionedProductID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	params := make(map[string]string, len(f.currentParams))
	for k, v := range f.currentParams {
		params[k] = v
	}
	return params, nil
}

func (f *fakeCatalog) Provision(ctx context.Context, input cloud.ProvisionInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisionCalls = append(f.provisionCalls, input)
	f.product = &cloud.ProvisionedProduct{
		ID:         "pp-" + input.ProvisionedProductName,
		Name:       input.ProvisionedProductName,
		Status:     cloud.StatusAvailable,
		ProductID:  input.ProductID,
		ArtifactID: input.ArtifactID,
	}
	f.currentParams = input.Parameters
	return fmt.Sprintf("rec-provision-%d", len(f.provisionCalls)), nil
}

func (f *fakeCatalog) applyUpdate(input cloud.UpdateInput) {
	f.product.ArtifactID = input.ArtifactID
	f.product.Status = cloud.StatusAvailable
	f.currentParams = input.Parameters
}

func (f *fakeCatalog) Update(ctx context.Context, input cloud.UpdateInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, input)
	f.applyUpdate(input)
	return fmt.Sprintf("rec-update-%d", len(f.updateCalls)), nil
}

func (f *fakeCatalog) CreatePlan(ctx context.Context, planName string, input cloud.UpdateInput) (*cloud.PlanDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls = append(f.planCalls, input)
	f.pendingPlan = &input
	return &cloud.PlanDetail{ID: "plan-" + planName, Status: "CREATE_IN_PROGRESS"}, nil
}

func (f *fakeCatalog) DescribePlan(ctx context.Context, planID string) (*cloud.PlanDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuckPlans {
		return &cloud.PlanDetail{ID: planID, Status: "CREATE_IN_PROGRESS"}, nil
	}
	return &cloud.PlanDetail{ID: planID, Status: "CREATE_SUCCESS", Changes: 1}, nil
}

func (f *fakeCatalog) ExecutePlan(ctx context.Context, planID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executedPlans = append(f.executedPlans, planID)
	if f.pendingPlan != nil {
		f.applyUpdate(*f.pendingPlan)
		f.pendingPlan = nil
	}
	return fmt.Sprintf("rec-plan-%d", len(f.executedPlans)), nil
}

func (f *fakeCatalog) DeletePlan(ctx context.Context, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedPlans = append(f.deletedPlans, planID)
	return nil
}

func (f *fakeCatalog) Terminate(ctx context.Context, provisionedProductID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls = append(f.terminateCalls, provisionedProductID)
	f.product = nil
	f.currentParams = make(map[string]string)
	return fmt.Sprintf("rec-terminate-%d", len(f.terminateCalls)), nil
}

func (f *fakeCatalog) DescribeRecord(ctx context.Context, recordID string) (*cloud.RecordDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs, ok := f.failRecords[recordID]; ok {
		return &cloud.RecordDetail{ID: recordID, Status: cloud.RecordFailed, Errors: errs}, nil
	}
	if f.stuckRecords[recordID] {
		return &cloud.RecordDetail{ID: recordID, Status: cloud.RecordInProgress}, nil
	}
	return &cloud.RecordDetail{ID: recordID, Status: cloud.RecordSucceeded}, nil
}

func (f *fakeCatalog) ResetOwner(ctx context.Context, provisionedProductID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetOwnerCalls++
	return nil
}

// fakePortfolios backs both the hub and spoke side of portfolio tasks.
type fakePortfolios struct {
	mu sync.Mutex

	portfolios map[string]*cloud.Portfolio
	products   []cloud.PortfolioProduct

	ensured       []cloud.Portfolio
	shares        [][2]string
	accepted      []string
	copies        [][2]string
	associations  [][2]string
	principalARNs []string
}

func newFakePortfolios(names ...string) *fakePortfolios {
	f := &fakePortfolios{portfolios: make(map[string]*cloud.Portfolio)}
	for _, name := range names {
		f.portfolios[name] = &cloud.Portfolio{ID: "port-" + name, Name: name}
	}
	return f
}

func (f *fakePortfolios) FindByName(ctx context.Context, name string) (*cloud.Portfolio, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.portfolios[name]
	if !ok {
		return nil, false, nil
	}
	clone := *p
	return &clone, true, nil
}

func (f *fakePortfolios) Ensure(ctx context.Context, portfolio cloud.Portfolio) (*cloud.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, portfolio)
	if existing, ok := f.portfolios[portfolio.Name]; ok {
		clone := *existing
		return &clone, nil
	}
	created := &cloud.Portfolio{ID: "port-" + portfolio.Name, Name: portfolio.Name}
	f.portfolios[portfolio.Name] = created
	clone := *created
	return &clone, nil
}

func (f *fakePortfolios) Share(ctx context.Context, portfolioID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shares = append(f.shares, [2]string{portfolioID, accountID})
	return nil
}

func (f *fakePortfolios) AcceptShare(ctx context.Context, portfolioID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, portfolioID)
	return nil
}

func (f *fakePortfolios) ListProducts(ctx context.Context, portfolioID string) ([]cloud.PortfolioProduct, error) {
	return f.products, nil
}

func (f *fakePortfolios) CopyProduct(ctx context.Context, sourceProductID, targetPortfolioID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, [2]string{sourceProductID, targetPortfolioID})
	return "copy-" + sourceProductID, nil
}

func (f *fakePortfolios) AssociateProduct(ctx context.Context, productID, portfolioID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associations = append(f.associations, [2]string{productID, portfolioID})
	return nil
}

func (f *fakePortfolios) AssociatePrincipal(ctx context.Context, portfolioID, principalARN string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principalARNs = append(f.principalARNs, principalARN)
	return nil
}

type fakeStacks struct {
	statuses map[string]string
}

func (f *fakeStacks) Status(ctx context.Context, stackName string) (string, bool, error) {
	status, ok := f.statuses[stackName]
	return status, ok, nil
}

type fakeParameters struct {
	mu sync.Mutex

	values  map[string]*cloud.Parameter
	puts    []cloud.Parameter
	deletes []string
}

func newFakeParameters() *fakeParameters {
	return &fakeParameters{values: make(map[string]*cloud.Parameter)}
}

func (f *fakeParameters) set(name, value string) {
	f.values[name] = &cloud.Parameter{Name: name, Value: value, Type: "String", Version: 1}
}

func (f *fakeParameters) Get(ctx context.Context, name string) (*cloud.Parameter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.values[name]
	if !ok {
		return nil, cloud.NewNotFoundError("parameter", name)
	}
	clone := *p
	return &clone, nil
}

func (f *fakeParameters) Put(ctx context.Context, name, value, paramType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	param := cloud.Parameter{Name: name, Value: value, Type: paramType}
	f.puts = append(f.puts, param)
	f.values[name] = &param
	return nil
}

func (f *fakeParameters) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, name)
	if _, ok := f.values[name]; !ok {
		return cloud.NewNotFoundError("parameter", name)
	}
	delete(f.values, name)
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(ctx context.Context, bucket, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = body
	return nil
}

func (f *fakeObjects) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	return "https://signed.example.com/" + bucket + "/" + key, nil
}

type buildStart struct {
	Project string
	Env     map[string]string
}

type fakeBuilds struct {
	mu     sync.Mutex
	starts []buildStart
	fail   bool
}

func (f *fakeBuilds) Start(ctx context.Context, project string, env map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, buildStart{Project: project, Env: env})
	return fmt.Sprintf("build-%d", len(f.starts)), nil
}

func (f *fakeBuilds) Wait(ctx context.Context, buildID string) (*cloud.BuildResult, error) {
	if f.fail {
		return &cloud.BuildResult{ID: buildID, Status: "FAILED"}, nil
	}
	return &cloud.BuildResult{ID: buildID, Status: "SUCCEEDED", Succeeded: true}, nil
}

type invocation struct {
	Name           string
	Qualifier      string
	InvocationType string
	Payload        []byte
}

type fakeFunctions struct {
	mu          sync.Mutex
	invocations []invocation
	result      cloud.InvokeResult
}

func (f *fakeFunctions) Invoke(ctx context.Context, name, qualifier, invocationType string, payload []byte) (*cloud.InvokeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = append(f.invocations, invocation{
		Name:           name,
		Qualifier:      qualifier,
		InvocationType: invocationType,
		Payload:        payload,
	})
	result := f.result
	if result.StatusCode == 0 {
		result.StatusCode = 200
	}
	return &result, nil
}

// testTarget bundles one registered target's fakes for assertions.
type testTarget struct {
	catalog    *fakeCatalog
	portfolios *fakePortfolios
	stacks     *fakeStacks
	parameters *fakeParameters
	objects    *fakeObjects
	builds     *fakeBuilds
	functions  *fakeFunctions
}

func newTestTarget() *testTarget {
	return &testTarget{
		catalog:    newFakeCatalog(),
		portfolios: newFakePortfolios("platform"),
		stacks:     &fakeStacks{statuses: make(map[string]string)},
		parameters: newFakeParameters(),
		objects:    newFakeObjects(),
		builds:     &fakeBuilds{},
		functions:  &fakeFunctions{},
	}
}

func (tt *testTarget) clients() *cloud.Clients {
	return &cloud.Clients{
		Catalog:    tt.catalog,
		Portfolios: tt.portfolios,
		Stacks:     tt.stacks,
		Parameters: tt.parameters,
		Objects:    tt.objects,
		Builds:     tt.builds,
		Functions:  tt.functions,
	}
}

// withVersion registers a provisioning artifact and its declared
// parameters on the target.
func (tt *testTarget) withVersion(version, artifactID string, declared ...cloud.ProvisioningParameter) *testTarget {
	tt.catalog.artifacts[version] = cloud.ProvisioningArtifact{ID: artifactID, Name: version, Active: true}
	tt.catalog.declared = append(tt.catalog.declared, declared...)
	tt.portfolios.products = []cloud.PortfolioProduct{{ID: "prod-1", Name: "vpc"}}
	return tt
}

func mustLoadManifest(t *testing.T, doc string) *manifest.Accessor {
	t.Helper()
	loader, err := manifest.NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	m, err := loader.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return manifest.NewAccessor(m)
}

func testDeployment(t *testing.T, doc string, factory cloud.Factory, settings Settings) *Deployment {
	t.Helper()
	if settings.PuppetAccountID == "" {
		settings.PuppetAccountID = "999999999999"
	}
	if settings.HomeRegion == "" {
		settings.HomeRegion = "eu-west-1"
	}
	return &Deployment{
		Manifest: mustLoadManifest(t, doc),
		Clients:  factory,
		Settings: settings,
	}
}

// runTasks executes roots through the scheduler and returns the report.
func runTasks(t *testing.T, store engine.OutputStore, roots ...engine.Task) *engine.RunReport {
	t.Helper()
	scheduler := engine.NewScheduler(engine.SchedulerConfig{Parallelism: 4}, store, nil, nil)
	report, err := scheduler.Run(context.Background(), roots)
	if err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	return report
}

func requireNoFailures(t *testing.T, report *engine.RunReport) {
	t.Helper()
	for _, failed := range report.Failed {
		t.Errorf("task %s failed: %s", failed.IdentityKey, failed.Error)
	}
	for _, skipped := range report.Skipped {
		t.Errorf("task %s skipped: %s", skipped.IdentityKey, skipped.Error)
	}
	if t.Failed() {
		t.FailNow()
	}
}

func findOutput(t *testing.T, report *engine.RunReport, key string) []byte {
	t.Helper()
	for _, groups := range [][]engine.TaskReport{report.Succeeded, report.Cached} {
		for _, tr := range groups {
			if tr.IdentityKey == key {
				return tr.Output
			}
		}
	}
	t.Fatalf("no output recorded for %s", key)
	return nil
}

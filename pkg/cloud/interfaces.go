package cloud

import (
	"context"
	"time"
)

// ProvisionedProductStatus is the lifecycle status of a provisioned product.
type ProvisionedProductStatus string

const (
	StatusAvailable      ProvisionedProductStatus = "AVAILABLE"
	StatusTainted        ProvisionedProductStatus = "TAINTED"
	StatusError          ProvisionedProductStatus = "ERROR"
	StatusUnderChange    ProvisionedProductStatus = "UNDER_CHANGE"
	StatusPlanInProgress ProvisionedProductStatus = "PLAN_IN_PROGRESS"
)

// RecordStatus is the status of an asynchronous catalog record.
type RecordStatus string

const (
	RecordCreated           RecordStatus = "CREATED"
	RecordInProgress        RecordStatus = "IN_PROGRESS"
	RecordInProgressInError RecordStatus = "IN_PROGRESS_IN_ERROR"
	RecordSucceeded         RecordStatus = "SUCCEEDED"
	RecordFailed            RecordStatus = "FAILED"
)

// IsTerminal returns true when the record will not change status again.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordSucceeded || s == RecordFailed
}

// ProvisionedProduct is the catalog's view of one provisioned product.
type ProvisionedProduct struct {
	ID            string
	Name          string
	Status        ProvisionedProductStatus
	StatusMessage string

	// ProductID and ArtifactID identify what is currently provisioned.
	ProductID  string
	ArtifactID string

	// LastRecordID is the most recent record touching the product.
	LastRecordID string
}

// LaunchPath is one path through which a product can be launched.
type LaunchPath struct {
	ID   string
	Name string
}

// ProvisioningArtifact is one version of a product.
type ProvisioningArtifact struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Guidance    string
	CreatedAt   time.Time
}

// ProvisioningParameter describes a parameter accepted by an artifact.
type ProvisioningParameter struct {
	Key          string
	DefaultValue string
	IsNoEcho     bool
}

// RecordDetail is the outcome of an asynchronous catalog operation.
type RecordDetail struct {
	ID         string
	Status     RecordStatus
	RecordType string
	Errors     []string
}

// PlanDetail describes a provisioned product plan awaiting execution.
type PlanDetail struct {
	ID       string
	Status   string
	Changes  int
	RecordID string
}

// ProvisionInput carries everything needed to provision a product.
type ProvisionInput struct {
	ProductID              string
	ArtifactID             string
	LaunchPathID           string
	ProvisionedProductName string
	Parameters             map[string]string
	Tags                   map[string]string
	NotificationARNs       []string
}

// UpdateInput carries everything needed to update a provisioned product.
type UpdateInput struct {
	ProvisionedProductID string
	ProductID            string
	ArtifactID           string
	LaunchPathID         string
	Parameters           map[string]string
	Tags                 map[string]string
}

// Catalog is the client surface for provisioned product operations in one
// (account, region) target.
type Catalog interface {
	// GetProvisionedProduct finds a provisioned product by name. The
	// boolean is false when no product with that name exists.
	GetProvisionedProduct(ctx context.Context, name string) (*ProvisionedProduct, bool, error)

	// ListLaunchPaths returns the launch paths available for a product.
	ListLaunchPaths(ctx context.Context, productID string) ([]LaunchPath, error)

	// GetProvisioningArtifact resolves a version name to its artifact.
	GetProvisioningArtifact(ctx context.Context, productID, versionName string) (*ProvisioningArtifact, error)

	// ListProvisioningArtifacts returns all versions of a product.
	ListProvisioningArtifacts(ctx context.Context, productID string) ([]ProvisioningArtifact, error)

	// DescribeProvisioningParameters returns the parameters the artifact
	// accepts on the given launch path.
	DescribeProvisioningParameters(ctx context.Context, productID, artifactID, pathID string) ([]ProvisioningParameter, error)

	// GetOutputs returns the output key/value pairs of a provisioned
	// product.
	GetOutputs(ctx context.Context, provisionedProductID string) (map[string]string, error)

	// GetCurrentParameters returns the parameter values the product was
	// last provisioned with.
	GetCurrentParameters(ctx context.Context, provisionedProductID string) (map[string]string, error)

	// Provision starts provisioning and returns the record ID.
	Provision(ctx context.Context, input ProvisionInput) (string, error)

	// Update starts a direct update and returns the record ID.
	Update(ctx context.Context, input UpdateInput) (string, error)

	// CreatePlan creates a change plan for an update.
	CreatePlan(ctx context.Context, planName string, input UpdateInput) (*PlanDetail, error)

	// DescribePlan returns the current state of a plan.
	DescribePlan(ctx context.Context, planID string) (*PlanDetail, error)

	// ExecutePlan executes a created plan and returns the record ID.
	ExecutePlan(ctx context.Context, planID string) (string, error)

	// DeletePlan removes a plan. Deleting an absent plan is not an error.
	DeletePlan(ctx context.Context, planID string) error

	// Terminate starts termination and returns the record ID. A
	// NotFoundError means the product is already gone.
	Terminate(ctx context.Context, provisionedProductID string) (string, error)

	// DescribeRecord returns the state of an asynchronous operation.
	DescribeRecord(ctx context.Context, recordID string) (*RecordDetail, error)

	// ResetOwner transfers ownership of a provisioned product to the
	// principal the client is running as.
	ResetOwner(ctx context.Context, provisionedProductID string) error
}

// Portfolio is the catalog's view of one portfolio.
type Portfolio struct {
	ID           string
	Name         string
	Description  string
	ProviderName string
}

// PortfolioProduct is a product associated with a portfolio.
type PortfolioProduct struct {
	ID   string
	Name string
}

// Portfolios is the client surface for portfolio sharing and association
// operations in one (account, region) target.
type Portfolios interface {
	// FindByName finds a local portfolio by name. The boolean is false
	// when no such portfolio exists.
	FindByName(ctx context.Context, name string) (*Portfolio, bool, error)

	// Ensure creates the portfolio if it does not exist and returns it.
	Ensure(ctx context.Context, portfolio Portfolio) (*Portfolio, error)

	// Share shares a portfolio with another account.
	Share(ctx context.Context, portfolioID, accountID string) error

	// AcceptShare accepts a portfolio shared from another account.
	AcceptShare(ctx context.Context, portfolioID string) error

	// ListProducts returns the products associated with a portfolio.
	ListProducts(ctx context.Context, portfolioID string) ([]PortfolioProduct, error)

	// CopyProduct copies a product from a source portfolio into a local
	// one, returning the new product ID.
	CopyProduct(ctx context.Context, sourceProductID, targetPortfolioID string) (string, error)

	// AssociateProduct associates an existing product with a portfolio.
	AssociateProduct(ctx context.Context, productID, portfolioID string) error

	// AssociatePrincipal grants a principal access to a portfolio.
	AssociatePrincipal(ctx context.Context, portfolioID, principalARN string) error
}

// Stacks exposes the stack status lookups the provisioning gate needs.
type Stacks interface {
	// Status returns the stack status for a stack name. The boolean is
	// false when no such stack exists.
	Status(ctx context.Context, stackName string) (string, bool, error)
}

// Parameter is one stored configuration parameter.
type Parameter struct {
	Name    string
	Value   string
	Type    string
	Version int64
}

// Parameters is the client surface for the parameter store in one
// (account, region) target.
type Parameters interface {
	// Get returns a parameter. Absence is a NotFoundError.
	Get(ctx context.Context, name string) (*Parameter, error)

	// Put writes a parameter, overwriting any existing value.
	Put(ctx context.Context, name, value, paramType string) error

	// Delete removes a parameter. Deleting an absent parameter is not an
	// error.
	Delete(ctx context.Context, name string) error
}

// Objects is the client surface for object storage.
type Objects interface {
	// Put writes an object.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// PresignGet returns a time-limited URL granting read access.
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// BuildResult is the terminal state of a remote build.
type BuildResult struct {
	ID        string
	Status    string
	Succeeded bool
	LogsURL   string
}

// Builds is the client surface for remote build jobs.
type Builds interface {
	// Start starts a build with environment overrides and returns the
	// build ID.
	Start(ctx context.Context, project string, env map[string]string) (string, error)

	// Wait blocks until the build reaches a terminal state.
	Wait(ctx context.Context, buildID string) (*BuildResult, error)
}

// InvokeResult is the outcome of a function invocation.
type InvokeResult struct {
	StatusCode    int
	Payload       []byte
	FunctionError string
}

// Functions is the client surface for serverless function invocation.
type Functions interface {
	// Invoke calls a function. invocationType is RequestResponse or Event.
	Invoke(ctx context.Context, name, qualifier, invocationType string, payload []byte) (*InvokeResult, error)
}

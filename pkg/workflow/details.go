package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

// GetVersionDetailsTask resolves a (portfolio, product, version) triple to
// concrete catalog IDs in one target.
type GetVersionDetailsTask struct {
	Deployment *Deployment

	Portfolio string
	Product   string
	Version   string
	AccountID string
	Region    string
}

// VersionDetails is the task's output record.
type VersionDetails struct {
	PortfolioID string `json:"portfolio_id"`
	ProductID   string `json:"product_id"`
	ArtifactID  string `json:"artifact_id"`

	// Active reports whether the resolved artifact is still active.
	Active bool `json:"active"`
}

func (t *GetVersionDetailsTask) Identity() engine.Identity {
	id := engine.NewIdentity("get-version-details",
		"portfolio", t.Portfolio,
		"product", t.Product,
		"version", t.Version,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *GetVersionDetailsTask) Requires() []engine.Task { return nil }

func (t *GetVersionDetailsTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	portfolio, found, err := clients.Portfolios.FindByName(ctx, t.Portfolio)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("portfolio %s not found in %s/%s", t.Portfolio, t.AccountID, t.Region), nil)
	}

	products, err := clients.Portfolios.ListProducts(ctx, portfolio.ID)
	if err != nil {
		return nil, err
	}
	var productID string
	for _, p := range products {
		if p.Name == t.Product {
			productID = p.ID
			break
		}
	}
	if productID == "" {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("product %s not found in portfolio %s", t.Product, t.Portfolio), nil)
	}

	artifact, err := clients.Catalog.GetProvisioningArtifact(ctx, productID, t.Version)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("version %s not found for product %s", t.Version, t.Product), err)
		}
		return nil, err
	}

	return engine.Output(VersionDetails{
		PortfolioID: portfolio.ID,
		ProductID:   productID,
		ArtifactID:  artifact.ID,
		Active:      artifact.Active,
	})
}

// ListLaunchPathsTask picks the launch path for a product in one target.
type ListLaunchPathsTask struct {
	Deployment *Deployment

	Portfolio string
	Product   string
	Version   string
	AccountID string
	Region    string
}

// LaunchPathOutput is the task's output record.
type LaunchPathOutput struct {
	PathID   string `json:"path_id"`
	PathName string `json:"path_name"`
}

func (t *ListLaunchPathsTask) Identity() engine.Identity {
	id := engine.NewIdentity("list-launch-paths",
		"portfolio", t.Portfolio,
		"product", t.Product,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *ListLaunchPathsTask) Requires() []engine.Task {
	return []engine.Task{t.versionDetails()}
}

func (t *ListLaunchPathsTask) versionDetails() *GetVersionDetailsTask {
	return &GetVersionDetailsTask{
		Deployment: t.Deployment,
		Portfolio:  t.Portfolio,
		Product:    t.Product,
		Version:    t.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ListLaunchPathsTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	var details VersionDetails
	if err := rt.InputInto(t.versionDetails(), &details); err != nil {
		return nil, err
	}

	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	paths, err := clients.Catalog.ListLaunchPaths(ctx, details.ProductID)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("no launch paths for product %s in %s/%s", t.Product, t.AccountID, t.Region), nil)
	}

	// Multiple paths are possible when a product belongs to several
	// portfolios; pick deterministically by name.
	sort.Slice(paths, func(i, j int) bool { return paths[i].Name < paths[j].Name })
	return engine.Output(LaunchPathOutput{PathID: paths[0].ID, PathName: paths[0].Name})
}

// ProvisioningArtifactParametersTask describes the parameters an artifact
// accepts. The describe call is the one known to race against storage
// permission propagation, so it carries the inner bounded retry.
type ProvisioningArtifactParametersTask struct {
	Deployment *Deployment

	Portfolio string
	Product   string
	Version   string
	AccountID string
	Region    string
}

// ArtifactParameters is the task's output record.
type ArtifactParameters struct {
	Parameters []cloud.ProvisioningParameter `json:"parameters"`
}

func (t *ProvisioningArtifactParametersTask) Identity() engine.Identity {
	id := engine.NewIdentity("provisioning-artifact-parameters",
		"portfolio", t.Portfolio,
		"product", t.Product,
		"version", t.Version,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *ProvisioningArtifactParametersTask) Requires() []engine.Task {
	return []engine.Task{t.versionDetails(), t.launchPaths()}
}

func (t *ProvisioningArtifactParametersTask) versionDetails() *GetVersionDetailsTask {
	return &GetVersionDetailsTask{
		Deployment: t.Deployment,
		Portfolio:  t.Portfolio,
		Product:    t.Product,
		Version:    t.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisioningArtifactParametersTask) launchPaths() *ListLaunchPathsTask {
	return &ListLaunchPathsTask{
		Deployment: t.Deployment,
		Portfolio:  t.Portfolio,
		Product:    t.Product,
		Version:    t.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisioningArtifactParametersTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	var details VersionDetails
	if err := rt.InputInto(t.versionDetails(), &details); err != nil {
		return nil, err
	}
	var path LaunchPathOutput
	if err := rt.InputInto(t.launchPaths(), &path); err != nil {
		return nil, err
	}

	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	var params []cloud.ProvisioningParameter
	err = cloud.WithStoragePermissionRetry(ctx, rt.Logger(), func(ctx context.Context) error {
		var describeErr error
		params, describeErr = clients.Catalog.DescribeProvisioningParameters(ctx, details.ProductID, details.ArtifactID, path.PathID)
		return describeErr
	})
	if err != nil {
		return nil, err
	}

	return engine.Output(ArtifactParameters{Parameters: params})
}

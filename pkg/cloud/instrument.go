package cloud

import (
	"context"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// Instrument wraps every client in the bundle so each remote call is timed,
// counted and traced through the telemetry carried by the call context.
// Contexts without telemetry pass straight through to the underlying
// client, so instrumented bundles are safe everywhere, tests included.
func Instrument(c *Clients) *Clients {
	if c == nil {
		return nil
	}
	wrapped := &Clients{}
	if c.Catalog != nil {
		wrapped.Catalog = &instrumentedCatalog{next: c.Catalog}
	}
	if c.Portfolios != nil {
		wrapped.Portfolios = &instrumentedPortfolios{next: c.Portfolios}
	}
	if c.Stacks != nil {
		wrapped.Stacks = &instrumentedStacks{next: c.Stacks}
	}
	if c.Parameters != nil {
		wrapped.Parameters = &instrumentedParameters{next: c.Parameters}
	}
	if c.Objects != nil {
		wrapped.Objects = &instrumentedObjects{next: c.Objects}
	}
	if c.Builds != nil {
		wrapped.Builds = &instrumentedBuilds{next: c.Builds}
	}
	if c.Functions != nil {
		wrapped.Functions = &instrumentedFunctions{next: c.Functions}
	}
	return wrapped
}

type instrumentedCatalog struct{ next Catalog }

func (c *instrumentedCatalog) GetProvisionedProduct(ctx context.Context, name string) (product *ProvisionedProduct, found bool, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "GetProvisionedProduct", func(ctx context.Context) error {
		product, found, err = c.next.GetProvisionedProduct(ctx, name)
		return err
	})
	return product, found, err
}

func (c *instrumentedCatalog) ListLaunchPaths(ctx context.Context, productID string) (paths []LaunchPath, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "ListLaunchPaths", func(ctx context.Context) error {
		paths, err = c.next.ListLaunchPaths(ctx, productID)
		return err
	})
	return paths, err
}

func (c *instrumentedCatalog) GetProvisioningArtifact(ctx context.Context, productID, versionName string) (artifact *ProvisioningArtifact, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "GetProvisioningArtifact", func(ctx context.Context) error {
		artifact, err = c.next.GetProvisioningArtifact(ctx, productID, versionName)
		return err
	})
	return artifact, err
}

func (c *instrumentedCatalog) ListProvisioningArtifacts(ctx context.Context, productID string) (artifacts []ProvisioningArtifact, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "ListProvisioningArtifacts", func(ctx context.Context) error {
		artifacts, err = c.next.ListProvisioningArtifacts(ctx, productID)
		return err
	})
	return artifacts, err
}

func (c *instrumentedCatalog) DescribeProvisioningParameters(ctx context.Context, productID, artifactID, pathID string) (params []ProvisioningParameter, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "DescribeProvisioningParameters", func(ctx context.Context) error {
		params, err = c.next.DescribeProvisioningParameters(ctx, productID, artifactID, pathID)
		return err
	})
	return params, err
}

func (c *instrumentedCatalog) GetOutputs(ctx context.Context, provisionedProductID string) (outputs map[string]string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "GetOutputs", func(ctx context.Context) error {
		outputs, err = c.next.GetOutputs(ctx, provisionedProductID)
		return err
	})
	return outputs, err
}

func (c *instrumentedCatalog) GetCurrentParameters(ctx context.Context, provisionedProductID string) (params map[string]string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "GetCurrentParameters", func(ctx context.Context) error {
		params, err = c.next.GetCurrentParameters(ctx, provisionedProductID)
		return err
	})
	return params, err
}

func (c *instrumentedCatalog) Provision(ctx context.Context, input ProvisionInput) (recordID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "Provision", func(ctx context.Context) error {
		recordID, err = c.next.Provision(ctx, input)
		return err
	})
	return recordID, err
}

func (c *instrumentedCatalog) Update(ctx context.Context, input UpdateInput) (recordID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "Update", func(ctx context.Context) error {
		recordID, err = c.next.Update(ctx, input)
		return err
	})
	return recordID, err
}

func (c *instrumentedCatalog) CreatePlan(ctx context.Context, planName string, input UpdateInput) (plan *PlanDetail, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "CreatePlan", func(ctx context.Context) error {
		plan, err = c.next.CreatePlan(ctx, planName, input)
		return err
	})
	return plan, err
}

func (c *instrumentedCatalog) DescribePlan(ctx context.Context, planID string) (plan *PlanDetail, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "DescribePlan", func(ctx context.Context) error {
		plan, err = c.next.DescribePlan(ctx, planID)
		return err
	})
	return plan, err
}

func (c *instrumentedCatalog) ExecutePlan(ctx context.Context, planID string) (recordID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "ExecutePlan", func(ctx context.Context) error {
		recordID, err = c.next.ExecutePlan(ctx, planID)
		return err
	})
	return recordID, err
}

func (c *instrumentedCatalog) DeletePlan(ctx context.Context, planID string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "DeletePlan", func(ctx context.Context) error {
		return c.next.DeletePlan(ctx, planID)
	})
}

func (c *instrumentedCatalog) Terminate(ctx context.Context, provisionedProductID string) (recordID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "Terminate", func(ctx context.Context) error {
		recordID, err = c.next.Terminate(ctx, provisionedProductID)
		return err
	})
	return recordID, err
}

func (c *instrumentedCatalog) DescribeRecord(ctx context.Context, recordID string) (record *RecordDetail, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "DescribeRecord", func(ctx context.Context) error {
		record, err = c.next.DescribeRecord(ctx, recordID)
		return err
	})
	return record, err
}

func (c *instrumentedCatalog) ResetOwner(ctx context.Context, provisionedProductID string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "ResetOwner", func(ctx context.Context) error {
		return c.next.ResetOwner(ctx, provisionedProductID)
	})
}

type instrumentedPortfolios struct{ next Portfolios }

func (p *instrumentedPortfolios) FindByName(ctx context.Context, name string) (portfolio *Portfolio, found bool, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "FindPortfolioByName", func(ctx context.Context) error {
		portfolio, found, err = p.next.FindByName(ctx, name)
		return err
	})
	return portfolio, found, err
}

func (p *instrumentedPortfolios) Ensure(ctx context.Context, portfolio Portfolio) (ensured *Portfolio, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "EnsurePortfolio", func(ctx context.Context) error {
		ensured, err = p.next.Ensure(ctx, portfolio)
		return err
	})
	return ensured, err
}

func (p *instrumentedPortfolios) Share(ctx context.Context, portfolioID, accountID string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "SharePortfolio", func(ctx context.Context) error {
		return p.next.Share(ctx, portfolioID, accountID)
	})
}

func (p *instrumentedPortfolios) AcceptShare(ctx context.Context, portfolioID string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "AcceptPortfolioShare", func(ctx context.Context) error {
		return p.next.AcceptShare(ctx, portfolioID)
	})
}

func (p *instrumentedPortfolios) ListProducts(ctx context.Context, portfolioID string) (products []PortfolioProduct, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "ListPortfolioProducts", func(ctx context.Context) error {
		products, err = p.next.ListProducts(ctx, portfolioID)
		return err
	})
	return products, err
}

func (p *instrumentedPortfolios) CopyProduct(ctx context.Context, sourceProductID, targetPortfolioID string) (productID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "servicecatalog", "CopyProduct", func(ctx context.Context) error {
		productID, err = p.next.CopyProduct(ctx, sourceProductID, targetPortfolioID)
		return err
	})
	return productID, err
}

func (p *instrumentedPortfolios) AssociateProduct(ctx context.Context, productID, portfolioID string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "AssociateProduct", func(ctx context.Context) error {
		return p.next.AssociateProduct(ctx, productID, portfolioID)
	})
}

func (p *instrumentedPortfolios) AssociatePrincipal(ctx context.Context, portfolioID, principalARN string) error {
	return telemetry.RecordCloudOperation(ctx, "servicecatalog", "AssociatePrincipal", func(ctx context.Context) error {
		return p.next.AssociatePrincipal(ctx, portfolioID, principalARN)
	})
}

type instrumentedStacks struct{ next Stacks }

func (s *instrumentedStacks) Status(ctx context.Context, stackName string) (status string, found bool, err error) {
	err = telemetry.RecordCloudOperation(ctx, "cloudformation", "DescribeStacks", func(ctx context.Context) error {
		status, found, err = s.next.Status(ctx, stackName)
		return err
	})
	return status, found, err
}

type instrumentedParameters struct{ next Parameters }

func (p *instrumentedParameters) Get(ctx context.Context, name string) (param *Parameter, err error) {
	err = telemetry.RecordCloudOperation(ctx, "ssm", "GetParameter", func(ctx context.Context) error {
		param, err = p.next.Get(ctx, name)
		return err
	})
	return param, err
}

func (p *instrumentedParameters) Put(ctx context.Context, name, value, paramType string) error {
	return telemetry.RecordCloudOperation(ctx, "ssm", "PutParameter", func(ctx context.Context) error {
		return p.next.Put(ctx, name, value, paramType)
	})
}

func (p *instrumentedParameters) Delete(ctx context.Context, name string) error {
	return telemetry.RecordCloudOperation(ctx, "ssm", "DeleteParameter", func(ctx context.Context) error {
		return p.next.Delete(ctx, name)
	})
}

type instrumentedObjects struct{ next Objects }

func (o *instrumentedObjects) Put(ctx context.Context, bucket, key string, body []byte) error {
	return telemetry.RecordCloudOperation(ctx, "s3", "PutObject", func(ctx context.Context) error {
		return o.next.Put(ctx, bucket, key, body)
	})
}

func (o *instrumentedObjects) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (url string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "s3", "PresignGetObject", func(ctx context.Context) error {
		url, err = o.next.PresignGet(ctx, bucket, key, expiry)
		return err
	})
	return url, err
}

type instrumentedBuilds struct{ next Builds }

func (b *instrumentedBuilds) Start(ctx context.Context, project string, env map[string]string) (buildID string, err error) {
	err = telemetry.RecordCloudOperation(ctx, "codebuild", "StartBuild", func(ctx context.Context) error {
		buildID, err = b.next.Start(ctx, project, env)
		return err
	})
	return buildID, err
}

func (b *instrumentedBuilds) Wait(ctx context.Context, buildID string) (result *BuildResult, err error) {
	err = telemetry.RecordCloudOperation(ctx, "codebuild", "WaitForBuild", func(ctx context.Context) error {
		result, err = b.next.Wait(ctx, buildID)
		return err
	})
	return result, err
}

type instrumentedFunctions struct{ next Functions }

func (f *instrumentedFunctions) Invoke(ctx context.Context, name, qualifier, invocationType string, payload []byte) (result *InvokeResult, err error) {
	err = telemetry.RecordCloudOperation(ctx, "lambda", "Invoke", func(ctx context.Context) error {
		result, err = f.next.Invoke(ctx, name, qualifier, invocationType, payload)
		return err
	})
	return result, err
}

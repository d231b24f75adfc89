package workflow

import (
	"context"
	"fmt"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// SpokeLocalPortfolioOutput is the output record of a portfolio task.
type SpokeLocalPortfolioOutput struct {
	PortfolioName    string   `json:"portfolio_name"`
	AccountID        string   `json:"account_id"`
	Region           string   `json:"region"`
	LocalPortfolioID string   `json:"local_portfolio_id"`
	Products         []string `json:"products,omitempty"`
}

// DeploySpokeLocalPortfolioTask materializes a hub portfolio inside one
// spoke target: share from the hub, accept in the spoke, then copy or
// import the hub's products and associate principals.
type DeploySpokeLocalPortfolioTask struct {
	Deployment *Deployment

	PortfolioName string
	Portfolio     *manifest.SpokeLocalPortfolio
	AccountID     string
	Region        string

	Dependencies []engine.Task
}

func (t *DeploySpokeLocalPortfolioTask) Identity() engine.Identity {
	id := engine.NewIdentity("deploy-spoke-local-portfolio",
		"portfolio", t.PortfolioName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *DeploySpokeLocalPortfolioTask) Priority() int { return t.Portfolio.RequestedPriority }

func (t *DeploySpokeLocalPortfolioTask) RetryCount() int { return t.Portfolio.RetryCount }

func (t *DeploySpokeLocalPortfolioTask) Requires() []engine.Task { return t.Dependencies }

func (t *DeploySpokeLocalPortfolioTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	hub, err := t.Deployment.clientsFor(ctx, t.Deployment.Settings.PuppetAccountID, t.Region)
	if err != nil {
		return nil, err
	}
	spoke, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	logger := rt.Logger().WithAccountID(t.AccountID).WithRegion(t.Region).
		WithField("portfolio", t.PortfolioName)

	hubPortfolio, found, err := hub.Portfolios.FindByName(ctx, t.Portfolio.Portfolio)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("hub portfolio %s not found in %s", t.Portfolio.Portfolio, t.Region), nil)
	}

	if err := hub.Portfolios.Share(ctx, hubPortfolio.ID, t.AccountID); err != nil {
		return nil, err
	}
	if err := spoke.Portfolios.AcceptShare(ctx, hubPortfolio.ID); err != nil {
		return nil, err
	}

	local, err := spoke.Portfolios.Ensure(ctx, cloud.Portfolio{
		Name:         t.PortfolioName,
		Description:  hubPortfolio.Description,
		ProviderName: hubPortfolio.ProviderName,
	})
	if err != nil {
		return nil, err
	}

	products, err := hub.Portfolios.ListProducts(ctx, hubPortfolio.ID)
	if err != nil {
		return nil, err
	}

	localProducts := make([]string, 0, len(products))
	for _, product := range products {
		switch t.Portfolio.ProductGenerationMethod {
		case manifest.GenerationImport:
			if err := spoke.Portfolios.AssociateProduct(ctx, product.ID, local.ID); err != nil {
				return nil, err
			}
			localProducts = append(localProducts, product.ID)
		default:
			copiedID, err := spoke.Portfolios.CopyProduct(ctx, product.ID, local.ID)
			if err != nil {
				return nil, err
			}
			localProducts = append(localProducts, copiedID)
		}
	}

	for _, principal := range t.Portfolio.AssociatedPrincipals {
		arn := substituteTokens(principal, t.AccountID, t.Region)
		if err := spoke.Portfolios.AssociatePrincipal(ctx, local.ID, arn); err != nil {
			return nil, err
		}
	}

	logger.WithField("products", len(localProducts)).Info("spoke local portfolio deployed")

	return engine.Output(SpokeLocalPortfolioOutput{
		PortfolioName:    t.PortfolioName,
		AccountID:        t.AccountID,
		Region:           t.Region,
		LocalPortfolioID: local.ID,
		Products:         localProducts,
	})
}

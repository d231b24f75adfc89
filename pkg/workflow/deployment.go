package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// Settings carries the run-level context every task shares.
type Settings struct {
	// PuppetAccountID is the hub account orchestrating the run.
	PuppetAccountID string

	// HomeRegion is the hub's region, where shared SSM parameters and the
	// spoke manifest bucket live.
	HomeRegion string

	// Version is the tool version handed to spoke builds.
	Version string

	// SingleAccountID restricts the run to one account when non-empty.
	SingleAccountID string

	// DryRun classifies without mutating and writes diff records to
	// OutputDir instead of the cache.
	DryRun bool

	// CacheInvalidator scopes cached task outputs. Changing it forces
	// every task to execute again.
	CacheInvalidator string

	// OutputDir receives dry-run diff records.
	OutputDir string

	// SpokeBucket is the object store bucket reduced manifests are
	// uploaded to for spoke dispatch.
	SpokeBucket string

	// SpokeBuildProject is the build project started in spoke accounts.
	SpokeBuildProject string
}

// Deployment bundles the manifest, the client factory and the run settings
// tasks are built from.
type Deployment struct {
	Manifest *manifest.Accessor
	Clients  cloud.Factory
	Settings Settings
}

func (d *Deployment) clientsFor(ctx context.Context, accountID, region string) (*cloud.Clients, error) {
	clients, err := d.Clients.ForTarget(ctx, accountID, region)
	if err != nil {
		return nil, engine.NewConfigurationError("resolving clients for target", err)
	}
	return cloud.Instrument(clients), nil
}

// hubClients returns the clients for the hub account's home region.
func (d *Deployment) hubClients(ctx context.Context) (*cloud.Clients, error) {
	return d.clientsFor(ctx, d.Settings.PuppetAccountID, d.Settings.HomeRegion)
}

// substituteTokens expands the ${AWS::Region} and ${AWS::AccountId}
// placeholders manifests may use in parameter names.
func substituteTokens(s, accountID, region string) string {
	s = strings.ReplaceAll(s, "${AWS::Region}", region)
	s = strings.ReplaceAll(s, "${AWS::AccountId}", accountID)
	return s
}

// Poll intervals and wait bounds are variables so tests can shorten them.
// Every poll loop carries an overall deadline; a remote operation that never
// reaches a terminal status surfaces a fatal timeout instead of wedging the
// run.
var (
	recordPollInterval = 5 * time.Second
	planPollInterval   = 5 * time.Second
	recordWaitTimeout  = time.Hour
	planWaitTimeout    = 30 * time.Minute
)

// waitForRecord polls an asynchronous catalog record until it reaches a
// terminal status or the wait bound expires.
func waitForRecord(ctx context.Context, catalog cloud.Catalog, recordID string) (*cloud.RecordDetail, error) {
	deadline := time.Now().Add(recordWaitTimeout)
	for {
		record, err := catalog.DescribeRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if record.Status.IsTerminal() {
			if record.Status == cloud.RecordFailed {
				return record, engine.NewPermanentError(
					"record "+recordID+" failed: "+strings.Join(record.Errors, "; "), nil).
					WithCode(engine.ErrCodeRemoteFailed)
			}
			return record, nil
		}
		if time.Now().After(deadline) {
			return nil, engine.NewPermanentError(
				"record "+recordID+" still "+string(record.Status)+" after "+recordWaitTimeout.String(), nil).
				WithCode(engine.ErrCodeTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, engine.NewTransientError("waiting for record "+recordID, ctx.Err()).
				WithCode(engine.ErrCodeTimeout)
		case <-time.After(recordPollInterval):
		}
	}
}

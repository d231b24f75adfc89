package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// TerminateOutput is the output record of a terminate task.
type TerminateOutput struct {
	LaunchName string `json:"launch_name"`
	AccountID  string `json:"account_id"`
	Region     string `json:"region"`
	Effect     string `json:"effect"`
	RecordID   string `json:"record_id,omitempty"`
}

// TerminateProductTask ensures one launch is absent from one target.
// Terminating an already-absent product is a success.
type TerminateProductTask struct {
	Deployment *Deployment

	LaunchName string
	Launch     *manifest.Launch
	AccountID  string
	Region     string
	DryRun     bool

	Dependencies []engine.Task
}

func (t *TerminateProductTask) Identity() engine.Identity {
	id := engine.NewIdentity("terminate-product",
		"launch", t.LaunchName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.DryRun = t.DryRun
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *TerminateProductTask) Priority() int { return t.Launch.RequestedPriority }

func (t *TerminateProductTask) RetryCount() int { return t.Launch.RetryCount }

func (t *TerminateProductTask) WorkerTimeout() time.Duration {
	return t.Launch.WorkerTimeoutDuration()
}

func (t *TerminateProductTask) Requires() []engine.Task { return t.Dependencies }

func (t *TerminateProductTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	logger := rt.Logger().WithLaunch(t.LaunchName, t.Launch.Portfolio).
		WithAccountID(t.AccountID).WithRegion(t.Region)

	pp, exists, err := clients.Catalog.GetProvisionedProduct(ctx, t.LaunchName)
	if err != nil {
		return nil, err
	}

	if t.DryRun {
		diff := DiffResult{
			LaunchName: t.LaunchName,
			AccountID:  t.AccountID,
			Region:     t.Region,
			Effect:     EffectNoChange,
			Notes:      "already terminated",
		}
		if exists {
			diff.Effect = EffectChange
			diff.CurrentStatus = string(pp.Status)
			diff.Notes = "provisioned product would be terminated"
		}
		return writeDiff(t.Deployment, t.Identity(), diff)
	}

	output := TerminateOutput{
		LaunchName: t.LaunchName,
		AccountID:  t.AccountID,
		Region:     t.Region,
		Effect:     EffectNoChange,
	}

	if exists {
		recordID, err := clients.Catalog.Terminate(ctx, pp.ID)
		if err != nil {
			if !cloud.IsNotFound(err) {
				return nil, err
			}
			logger.Info("provisioned product disappeared before terminate")
		} else {
			if _, err := waitForRecord(ctx, clients.Catalog, recordID); err != nil {
				return nil, err
			}
			output.Effect = EffectChange
			output.RecordID = recordID
		}
	} else {
		logger.Info("provisioned product already terminated")
	}

	if err := t.deleteOutputs(ctx, logger); err != nil {
		return nil, err
	}

	return engine.Output(output)
}

// deleteOutputs removes any SSM parameters previously written for this
// launch. Absent parameters are logged and ignored.
func (t *TerminateProductTask) deleteOutputs(ctx context.Context, logger *telemetry.Logger) error {
	if len(t.Launch.SSMParamOutputs) == 0 {
		return nil
	}

	hub, err := t.Deployment.hubClients(ctx)
	if err != nil {
		return err
	}

	for _, binding := range t.Launch.SSMParamOutputs {
		name := substituteTokens(binding.ParamName, t.AccountID, t.Region)
		if err := hub.Parameters.Delete(ctx, name); err != nil {
			if cloud.IsNotFound(err) {
				logger.Infof("parameter %s already deleted", name)
				continue
			}
			return fmt.Errorf("deleting output parameter %s: %w", name, err)
		}
	}
	return nil
}

package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// Effect classifies what a provisioning decision did, or would do.
const (
	EffectChange   = "CHANGE"
	EffectNoChange = "NO_CHANGE"
)

// Plan statuses as reported by the catalog.
const (
	planCreateInProgress = "CREATE_IN_PROGRESS"
	planCreateSuccess    = "CREATE_SUCCESS"
	planCreateFailed     = "CREATE_FAILED"
)

// ProvisionOutput is the output record of a provision task.
type ProvisionOutput struct {
	LaunchName           string `json:"launch_name"`
	AccountID            string `json:"account_id"`
	Region               string `json:"region"`
	ProvisionedProductID string `json:"provisioned_product_id,omitempty"`
	ArtifactID           string `json:"artifact_id,omitempty"`
	Effect               string `json:"effect"`
	RecordID             string `json:"record_id,omitempty"`
}

// ProvisionProductTask converges one launch in one (account, region)
// target to its desired version and parameters.
type ProvisionProductTask struct {
	Deployment *Deployment

	LaunchName string
	Launch     *manifest.Launch
	AccountID  string
	Region     string
	DryRun     bool

	// Dependencies carries cross-item edges resolved from depends_on.
	Dependencies []engine.Task
}

func (t *ProvisionProductTask) Identity() engine.Identity {
	id := engine.NewIdentity("provision-product",
		"launch", t.LaunchName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.DryRun = t.DryRun
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *ProvisionProductTask) Priority() int { return t.Launch.RequestedPriority }

func (t *ProvisionProductTask) RetryCount() int { return t.Launch.RetryCount }

func (t *ProvisionProductTask) WorkerTimeout() time.Duration {
	return t.Launch.WorkerTimeoutDuration()
}

func (t *ProvisionProductTask) versionDetails() *GetVersionDetailsTask {
	return &GetVersionDetailsTask{
		Deployment: t.Deployment,
		Portfolio:  t.Launch.Portfolio,
		Product:    t.Launch.Product,
		Version:    t.Launch.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisionProductTask) launchPath() *ListLaunchPathsTask {
	return &ListLaunchPathsTask{
		Deployment: t.Deployment,
		Portfolio:  t.Launch.Portfolio,
		Product:    t.Launch.Product,
		Version:    t.Launch.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisionProductTask) artifactParameters() *ProvisioningArtifactParametersTask {
	return &ProvisioningArtifactParametersTask{
		Deployment: t.Deployment,
		Portfolio:  t.Launch.Portfolio,
		Product:    t.Launch.Product,
		Version:    t.Launch.Version,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisionProductTask) ssmTasks() map[string]*GetSSMParameterTask {
	return ssmParameterTasks(t.Deployment,
		t.Launch.Parameters, t.Deployment.Manifest.Manifest().Parameters,
		t.AccountID, t.Region)
}

func (t *ProvisionProductTask) Requires() []engine.Task {
	tasks := []engine.Task{
		t.versionDetails(),
		t.launchPath(),
		t.artifactParameters(),
	}
	ssm := t.ssmTasks()
	keys := make([]string, 0, len(ssm))
	for key := range ssm {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		tasks = append(tasks, ssm[key])
	}
	tasks = append(tasks, t.Dependencies...)
	return tasks
}

func (t *ProvisionProductTask) selfHealTask() *TerminateProductTask {
	return &TerminateProductTask{
		Deployment: t.Deployment,
		LaunchName: t.LaunchName,
		Launch:     t.Launch,
		AccountID:  t.AccountID,
		Region:     t.Region,
	}
}

func (t *ProvisionProductTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	var details VersionDetails
	if err := rt.InputInto(t.versionDetails(), &details); err != nil {
		return nil, err
	}
	var path LaunchPathOutput
	if err := rt.InputInto(t.launchPath(), &path); err != nil {
		return nil, err
	}
	var artifact ArtifactParameters
	if err := rt.InputInto(t.artifactParameters(), &artifact); err != nil {
		return nil, err
	}
	ssm, err := ssmValues(rt, t.ssmTasks())
	if err != nil {
		return nil, err
	}

	desired, err := resolveParameters(artifact.Parameters,
		t.Launch.Parameters, t.Deployment.Manifest.Manifest().Parameters, ssm)
	if err != nil {
		return nil, err
	}

	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	logger := rt.Logger().WithLaunch(t.LaunchName, t.Launch.Portfolio).
		WithAccountID(t.AccountID).WithRegion(t.Region)

	// Live state is queried fresh on every invocation, never trusted from
	// a previous phase.
	pp, exists, err := clients.Catalog.GetProvisionedProduct(ctx, t.LaunchName)
	if err != nil {
		return nil, err
	}

	if t.DryRun {
		return t.classify(ctx, clients, details, artifact.Parameters, desired, pp, exists)
	}

	if exists && pp.Status != cloud.StatusAvailable && pp.Status != cloud.StatusTainted {
		if _, healed := rt.Input(t.selfHealTask()); healed {
			return nil, engine.NewStateConflictError(
				fmt.Sprintf("provisioned product %s still %s after terminate", t.LaunchName, pp.Status), nil).
				WithCode(engine.ErrCodeStackUnhealthy)
		}
		logger.WithField("status", string(pp.Status)).
			Warn("provisioned product is stuck, terminating before provisioning")
		return engine.Followups(t.selfHealTask()), nil
	}

	var (
		effect   = EffectNoChange
		recordID string
	)

	switch {
	case exists && pp.ArtifactID == details.ArtifactID && pp.Status != cloud.StatusTainted:
		live, err := clients.Catalog.GetCurrentParameters(ctx, pp.ID)
		if err != nil {
			return nil, err
		}
		if parametersEqual(artifact.Parameters, live, desired) {
			logger.Info("provisioned product already matches desired state")
			break
		}
		fallthrough

	case exists:
		if pp.Status == cloud.StatusTainted {
			logger.Warn("provisioned product is tainted, forcing update")
		}
		if err := t.gateStackHealth(ctx, clients, logger, pp.ID); err != nil {
			return nil, err
		}
		if err := clients.Catalog.ResetOwner(ctx, pp.ID); err != nil {
			return nil, err
		}
		recordID, err = t.update(ctx, clients, logger, details, path, desired, pp.ID)
		if err != nil {
			return nil, err
		}
		effect = EffectChange

	default:
		recordID, err = clients.Catalog.Provision(ctx, cloud.ProvisionInput{
			ProductID:              details.ProductID,
			ArtifactID:             details.ArtifactID,
			LaunchPathID:           path.PathID,
			ProvisionedProductName: t.LaunchName,
			Parameters:             desired,
		})
		if err != nil {
			return nil, err
		}
		if _, err := waitForRecord(ctx, clients.Catalog, recordID); err != nil {
			return nil, err
		}
		effect = EffectChange
	}

	pp, exists, err = clients.Catalog.GetProvisionedProduct(ctx, t.LaunchName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("provisioned product %s missing after provisioning", t.LaunchName), nil).
			WithCode(engine.ErrCodeRemoteFailed)
	}

	if t.Launch.Execution == manifest.ExecutionHub && len(t.Launch.SSMParamOutputs) > 0 {
		if err := t.propagateOutputs(ctx, clients, logger, pp.ID); err != nil {
			return nil, err
		}
	}

	return engine.Output(ProvisionOutput{
		LaunchName:           t.LaunchName,
		AccountID:            t.AccountID,
		Region:               t.Region,
		ProvisionedProductID: pp.ID,
		ArtifactID:           pp.ArtifactID,
		Effect:               effect,
		RecordID:             recordID,
	})
}

// gateStackHealth refuses to mutate on top of a stack in a foreign state.
func (t *ProvisionProductTask) gateStackHealth(ctx context.Context, clients *cloud.Clients, logger *telemetry.Logger, ppID string) error {
	stackName := fmt.Sprintf("SC-%s-%s", t.AccountID, ppID)
	status, found, err := clients.Stacks.Status(ctx, stackName)
	if err != nil {
		return err
	}
	if !found {
		logger.WithField("stack", stackName).Warn("no backing stack found, proceeding")
		return nil
	}

	switch status {
	case "CREATE_COMPLETE", "UPDATE_COMPLETE":
		return nil
	case "UPDATE_ROLLBACK_COMPLETE":
		logger.WithField("stack", stackName).
			Warn("stack rolled back from a previous update, proceeding but manual review is advised")
		return nil
	default:
		return engine.NewStateConflictError(
			fmt.Sprintf("stack %s is %s, refusing to update over manual intervention", stackName, status), nil).
			WithCode(engine.ErrCodeStackUnhealthy)
	}
}

func (t *ProvisionProductTask) update(ctx context.Context, clients *cloud.Clients, logger *telemetry.Logger, details VersionDetails, path LaunchPathOutput, desired map[string]string, ppID string) (string, error) {
	input := cloud.UpdateInput{
		ProvisionedProductID: ppID,
		ProductID:            details.ProductID,
		ArtifactID:           details.ArtifactID,
		LaunchPathID:         path.PathID,
		Parameters:           desired,
	}

	if !t.Deployment.Manifest.Manifest().Configuration.ShouldUseProductPlans {
		recordID, err := clients.Catalog.Update(ctx, input)
		if err != nil {
			return "", err
		}
		if _, err := waitForRecord(ctx, clients.Catalog, recordID); err != nil {
			return recordID, err
		}
		return recordID, nil
	}

	planName := "puppet-plan-" + t.LaunchName
	plan, err := clients.Catalog.CreatePlan(ctx, planName, input)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := clients.Catalog.DeletePlan(context.WithoutCancel(ctx), plan.ID); err != nil {
			logger.WithError(err).WithField("plan_id", plan.ID).Warn("failed to delete plan")
		}
	}()

	plan, err = t.waitForPlan(ctx, clients.Catalog, plan.ID)
	if err != nil {
		return "", err
	}
	logger.WithFields(map[string]interface{}{
		"plan_id": plan.ID,
		"changes": plan.Changes,
	}).Info("executing plan")

	recordID, err := clients.Catalog.ExecutePlan(ctx, plan.ID)
	if err != nil {
		return "", err
	}
	if _, err := waitForRecord(ctx, clients.Catalog, recordID); err != nil {
		return recordID, err
	}
	return recordID, nil
}

func (t *ProvisionProductTask) waitForPlan(ctx context.Context, catalog cloud.Catalog, planID string) (*cloud.PlanDetail, error) {
	deadline := time.Now().Add(planWaitTimeout)
	for {
		plan, err := catalog.DescribePlan(ctx, planID)
		if err != nil {
			return nil, err
		}
		switch plan.Status {
		case planCreateSuccess:
			return plan, nil
		case planCreateFailed:
			return nil, engine.NewPermanentError(
				fmt.Sprintf("plan %s failed to create", planID), nil).
				WithCode(engine.ErrCodeRemoteFailed)
		case planCreateInProgress:
		default:
			return nil, engine.NewPermanentError(
				fmt.Sprintf("plan %s in unexpected status %s", planID, plan.Status), nil).
				WithCode(engine.ErrCodeUnknownStatus)
		}
		if time.Now().After(deadline) {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("plan %s still creating after %s", planID, planWaitTimeout), nil).
				WithCode(engine.ErrCodeTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, engine.NewTransientError("waiting for plan "+planID, ctx.Err()).
				WithCode(engine.ErrCodeTimeout)
		case <-time.After(planPollInterval):
		}
	}
}

// propagateOutputs writes declared stack outputs to the hub's parameter
// store. Declared bindings are a contract: a missing output key is fatal.
func (t *ProvisionProductTask) propagateOutputs(ctx context.Context, clients *cloud.Clients, logger *telemetry.Logger, ppID string) error {
	outputs, err := clients.Catalog.GetOutputs(ctx, ppID)
	if err != nil {
		return err
	}

	hub, err := t.Deployment.hubClients(ctx)
	if err != nil {
		return err
	}

	for _, binding := range t.Launch.SSMParamOutputs {
		value, ok := outputs[binding.StackOutput]
		if !ok {
			return engine.NewPermanentError(
				fmt.Sprintf("declared output binding %s has no matching stack output on %s", binding.StackOutput, t.LaunchName), nil).
				WithCode(engine.ErrCodeMissingOutputBinding)
		}

		name := substituteTokens(binding.ParamName, t.AccountID, t.Region)
		paramType := binding.ParamType
		if paramType == "" {
			paramType = "String"
		}
		if err := hub.Parameters.Put(ctx, name, value, paramType); err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"parameter": name,
			"output":    binding.StackOutput,
		}).Info("propagated stack output to parameter store")
	}
	return nil
}

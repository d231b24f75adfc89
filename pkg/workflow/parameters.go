package workflow

import (
	"context"
	"fmt"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// GetSSMParameterTask fetches one stored parameter from the hub's
// parameter store. It exists as its own task so SSM failures surface as
// ordinary dependency failures and the value is fetched once per run.
type GetSSMParameterTask struct {
	Deployment *Deployment

	// Name is the parameter name after token substitution.
	Name string

	// Region is the lookup region; defaults to the hub's home region.
	Region string
}

// SSMParameterOutput is the task's output record.
type SSMParameterOutput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (t *GetSSMParameterTask) Identity() engine.Identity {
	id := engine.NewIdentity("get-ssm-parameter",
		"name", t.Name,
		"region", t.lookupRegion(),
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *GetSSMParameterTask) Requires() []engine.Task { return nil }

func (t *GetSSMParameterTask) lookupRegion() string {
	if t.Region != "" {
		return t.Region
	}
	return t.Deployment.Settings.HomeRegion
}

func (t *GetSSMParameterTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	clients, err := t.Deployment.clientsFor(ctx, t.Deployment.Settings.PuppetAccountID, t.lookupRegion())
	if err != nil {
		return nil, err
	}

	param, err := clients.Parameters.Get(ctx, t.Name)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("ssm parameter %s does not exist", t.Name), err).
				WithCode(engine.ErrCodeParameterNotFound)
		}
		return nil, err
	}

	return engine.Output(SSMParameterOutput{Name: param.Name, Value: param.Value})
}

// parameterSpecFor returns the effective spec for a key: item-level specs
// shadow manifest-level ones.
func parameterSpecFor(key string, itemSpecs, manifestSpecs map[string]manifest.ParameterSpec) (manifest.ParameterSpec, bool, bool) {
	if spec, ok := itemSpecs[key]; ok {
		return spec, true, true
	}
	if spec, ok := manifestSpecs[key]; ok {
		return spec, true, false
	}
	return manifest.ParameterSpec{}, false, false
}

// ssmParameterTasks builds the fetch tasks for every SSM-backed parameter
// an item declares, keyed by parameter name.
func ssmParameterTasks(d *Deployment, itemSpecs, manifestSpecs map[string]manifest.ParameterSpec, accountID, region string) map[string]*GetSSMParameterTask {
	tasks := make(map[string]*GetSSMParameterTask)
	collect := func(specs map[string]manifest.ParameterSpec) {
		for key, spec := range specs {
			if spec.SSM == nil {
				continue
			}
			if _, seen := tasks[key]; seen {
				continue
			}
			tasks[key] = &GetSSMParameterTask{
				Deployment: d,
				Name:       substituteTokens(spec.SSM.Name, accountID, region),
				Region:     spec.SSM.Region,
			}
		}
	}
	// Item-level specs shadow manifest-level ones, so collect them first.
	collect(itemSpecs)
	collect(manifestSpecs)
	return tasks
}

// ssmValues reads the outputs of SSM fetch tasks into a key -> value map.
func ssmValues(rt *engine.Runtime, tasks map[string]*GetSSMParameterTask) (map[string]string, error) {
	values := make(map[string]string, len(tasks))
	for key, task := range tasks {
		var out SSMParameterOutput
		if err := rt.InputInto(task, &out); err != nil {
			return nil, err
		}
		values[key] = out.Value
	}
	return values, nil
}

// resolveParameters resolves one value for each key the provisioning
// artifact declares. Precedence per key: item-level literal value, then an
// SSM-backed input, then the manifest-level default, then the artifact's
// own default. Keys the artifact does not declare are dropped even when
// the manifest supplies them.
func resolveParameters(declared []cloud.ProvisioningParameter, itemSpecs, manifestSpecs map[string]manifest.ParameterSpec, ssm map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(declared))
	for _, p := range declared {
		spec, found, fromItem := parameterSpecFor(p.Key, itemSpecs, manifestSpecs)
		switch {
		case found && fromItem && spec.Default != "":
			resolved[p.Key] = spec.Default
		case found && spec.SSM != nil:
			value, ok := ssm[p.Key]
			if !ok {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("ssm value for parameter %s was not fetched", p.Key), nil).
					WithCode(engine.ErrCodeParameterNotFound)
			}
			resolved[p.Key] = value
		case found && spec.Default != "":
			resolved[p.Key] = spec.Default
		default:
			resolved[p.Key] = p.DefaultValue
		}
	}
	return resolved, nil
}

// parametersEqual compares a live parameter map against the resolved
// desired map over the declared keys only.
func parametersEqual(declared []cloud.ProvisioningParameter, live, desired map[string]string) bool {
	for _, p := range declared {
		if live[p.Key] != desired[p.Key] {
			return false
		}
	}
	return true
}

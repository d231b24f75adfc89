package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// LambdaInvocationOutput is the output record of a lambda invocation.
type LambdaInvocationOutput struct {
	InvocationName string          `json:"invocation_name"`
	AccountID      string          `json:"account_id"`
	Region         string          `json:"region"`
	StatusCode     int             `json:"status_code"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// lambdaPayload is the document sent to the invoked function.
type lambdaPayload struct {
	AccountID  string            `json:"account_id"`
	Region     string            `json:"region"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// InvokeLambdaTask calls a function once per target.
type InvokeLambdaTask struct {
	Deployment *Deployment

	InvocationName string
	Invocation     *manifest.LambdaInvocation
	AccountID      string
	Region         string

	Dependencies []engine.Task
}

func (t *InvokeLambdaTask) Identity() engine.Identity {
	id := engine.NewIdentity("invoke-lambda",
		"invocation", t.InvocationName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *InvokeLambdaTask) Priority() int { return t.Invocation.RequestedPriority }

func (t *InvokeLambdaTask) RetryCount() int { return t.Invocation.RetryCount }

func (t *InvokeLambdaTask) ssmTasks() map[string]*GetSSMParameterTask {
	return ssmParameterTasks(t.Deployment,
		t.Invocation.Parameters, t.Deployment.Manifest.Manifest().Parameters,
		t.AccountID, t.Region)
}

func (t *InvokeLambdaTask) Requires() []engine.Task {
	ssm := t.ssmTasks()
	keys := make([]string, 0, len(ssm))
	for key := range ssm {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	tasks := make([]engine.Task, 0, len(keys))
	for _, key := range keys {
		tasks = append(tasks, ssm[key])
	}
	tasks = append(tasks, t.Dependencies...)
	return tasks
}

func (t *InvokeLambdaTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	ssm, err := ssmValues(rt, t.ssmTasks())
	if err != nil {
		return nil, err
	}

	params := make(map[string]string, len(t.Invocation.Parameters))
	for key, spec := range t.Invocation.Parameters {
		switch {
		case spec.SSM != nil:
			params[key] = ssm[key]
		case spec.Default != "":
			params[key] = spec.Default
		}
	}

	payload, err := json.Marshal(lambdaPayload{
		AccountID:  t.AccountID,
		Region:     t.Region,
		Parameters: params,
	})
	if err != nil {
		return nil, engine.NewPermanentError("encoding invocation payload", err).
			WithCode(engine.ErrCodeInternal)
	}

	// The function runs in the hub; the payload tells it which target it
	// is being invoked for.
	hub, err := t.Deployment.hubClients(ctx)
	if err != nil {
		return nil, err
	}

	result, err := hub.Functions.Invoke(ctx,
		t.Invocation.FunctionName, t.Invocation.Qualifier, t.Invocation.InvocationType, payload)
	if err != nil {
		return nil, err
	}
	if result.FunctionError != "" {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("function %s returned error %s", t.Invocation.FunctionName, result.FunctionError), nil).
			WithCode(engine.ErrCodeRemoteFailed)
	}

	return engine.Output(LambdaInvocationOutput{
		InvocationName: t.InvocationName,
		AccountID:      t.AccountID,
		Region:         t.Region,
		StatusCode:     result.StatusCode,
		Payload:        result.Payload,
	})
}

package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// CodeBuildRunOutput is the output record of a code build run task.
type CodeBuildRunOutput struct {
	RunName   string `json:"run_name"`
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
	BuildID   string `json:"build_id"`
	Status    string `json:"status"`
}

// RunCodeBuildTask starts a build project in one target and waits for it.
type RunCodeBuildTask struct {
	Deployment *Deployment

	RunName   string
	Build     *manifest.CodeBuildRun
	AccountID string
	Region    string

	Dependencies []engine.Task
}

func (t *RunCodeBuildTask) Identity() engine.Identity {
	id := engine.NewIdentity("run-code-build",
		"run", t.RunName,
		"account", t.AccountID,
		"region", t.Region,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *RunCodeBuildTask) Priority() int { return t.Build.RequestedPriority }

func (t *RunCodeBuildTask) RetryCount() int { return t.Build.RetryCount }

func (t *RunCodeBuildTask) ssmTasks() map[string]*GetSSMParameterTask {
	return ssmParameterTasks(t.Deployment,
		t.Build.Parameters, t.Deployment.Manifest.Manifest().Parameters,
		t.AccountID, t.Region)
}

func (t *RunCodeBuildTask) Requires() []engine.Task {
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

func (t *RunCodeBuildTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	ssm, err := ssmValues(rt, t.ssmTasks())
	if err != nil {
		return nil, err
	}

	env := map[string]string{
		"TARGET_ACCOUNT_ID": t.AccountID,
		"TARGET_REGION":     t.Region,
	}
	for key, spec := range t.Build.Parameters {
		switch {
		case spec.SSM != nil:
			env[key] = ssm[key]
		case spec.Default != "":
			env[key] = spec.Default
		}
	}

	clients, err := t.Deployment.clientsFor(ctx, t.AccountID, t.Region)
	if err != nil {
		return nil, err
	}

	buildID, err := clients.Builds.Start(ctx, t.Build.ProjectName, env)
	if err != nil {
		return nil, err
	}

	build, err := clients.Builds.Wait(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if !build.Succeeded {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("build %s of project %s finished %s", buildID, t.Build.ProjectName, build.Status), nil).
			WithCode(engine.ErrCodeRemoteFailed)
	}

	return engine.Output(CodeBuildRunOutput{
		RunName:   t.RunName,
		AccountID: t.AccountID,
		Region:    t.Region,
		BuildID:   buildID,
		Status:    build.Status,
	})
}

package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

// spokeManifestExpiry is how long a spoke build has to fetch its reduced
// manifest from the presigned URL.
const spokeManifestExpiry = 24 * time.Hour

// SpokeExecutionOutput is the output record of a spoke dispatch.
type SpokeExecutionOutput struct {
	LaunchName string `json:"launch_name"`
	AccountID  string `json:"account_id"`
	BuildID    string `json:"build_id"`
	Status     string `json:"status"`
}

// SpokeExecutionTask dispatches a spoke-execution launch to its target
// account: it uploads a reduced manifest, presigns a retrieval URL and
// runs the spoke's build job against it, blocking until the build ends.
// The hub graph treats the whole spoke run as this one opaque task.
type SpokeExecutionTask struct {
	Deployment *Deployment

	LaunchName string
	Launch     *manifest.Launch
	AccountID  string

	Dependencies []engine.Task
}

func (t *SpokeExecutionTask) Identity() engine.Identity {
	id := engine.NewIdentity("spoke-execution",
		"launch", t.LaunchName,
		"account", t.AccountID,
	)
	id.Invalidator = t.Deployment.Settings.CacheInvalidator
	return id
}

func (t *SpokeExecutionTask) Priority() int { return t.Launch.RequestedPriority }

func (t *SpokeExecutionTask) RetryCount() int { return t.Launch.RetryCount }

func (t *SpokeExecutionTask) Requires() []engine.Task { return t.Dependencies }

func (t *SpokeExecutionTask) Run(ctx context.Context, rt *engine.Runtime) (*engine.Result, error) {
	settings := t.Deployment.Settings
	if settings.SpokeBucket == "" || settings.SpokeBuildProject == "" {
		return nil, engine.NewConfigurationError(
			"spoke execution requires a manifest bucket and build project", nil)
	}

	reduced, err := manifest.Reduce(t.Deployment.Manifest.Manifest(), t.AccountID)
	if err != nil {
		return nil, err
	}
	body, err := reduced.Encode()
	if err != nil {
		return nil, engine.NewPermanentError("encoding reduced manifest", err).
			WithCode(engine.ErrCodeInternal)
	}

	hub, err := t.Deployment.hubClients(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("spoke-manifests/%s/%s/manifest.yaml", rt.RunID(), t.AccountID)
	if err := hub.Objects.Put(ctx, settings.SpokeBucket, key, body); err != nil {
		return nil, err
	}
	url, err := hub.Objects.PresignGet(ctx, settings.SpokeBucket, key, spokeManifestExpiry)
	if err != nil {
		return nil, err
	}

	spoke, err := t.Deployment.clientsFor(ctx, t.AccountID, t.spokeRegion(reduced))
	if err != nil {
		return nil, err
	}

	cfg := t.Deployment.Manifest.Manifest().Configuration
	env := map[string]string{
		"MANIFEST_URL":                         url,
		"PUPPET_ACCOUNT_ID":                    settings.PuppetAccountID,
		"HOME_REGION":                          settings.HomeRegion,
		"REGIONS":                              strings.Join(t.spokeRegions(reduced), ","),
		"VERSION":                              settings.Version,
		"SHOULD_FORWARD_EVENTS_TO_EVENTBRIDGE": strconv.FormatBool(cfg.ShouldForwardEventsToEventBridge),
		"SHOULD_FORWARD_FAILURES_TO_OPSCENTER": strconv.FormatBool(cfg.ShouldForwardFailuresToOpsCenter),
	}

	logger := rt.Logger().WithLaunch(t.LaunchName, t.Launch.Portfolio).WithAccountID(t.AccountID)
	logger.WithField("project", settings.SpokeBuildProject).Info("dispatching spoke run")

	buildID, err := spoke.Builds.Start(ctx, settings.SpokeBuildProject, env)
	if err != nil {
		return nil, err
	}

	build, err := spoke.Builds.Wait(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if !build.Succeeded {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("spoke build %s finished %s in account %s", buildID, build.Status, t.AccountID), nil).
			WithCode(engine.ErrCodeRemoteFailed)
	}

	return engine.Output(SpokeExecutionOutput{
		LaunchName: t.LaunchName,
		AccountID:  t.AccountID,
		BuildID:    buildID,
		Status:     build.Status,
	})
}

// spokeRegion is where the spoke's build project runs: the account's
// default region.
func (t *SpokeExecutionTask) spokeRegion(reduced *manifest.Manifest) string {
	return reduced.Accounts[0].DefaultRegion
}

// spokeRegions is the sorted set of regions the reduced manifest touches,
// handed to the spoke run as its region scope.
func (t *SpokeExecutionTask) spokeRegions(reduced *manifest.Manifest) []string {
	acc := manifest.NewAccessor(reduced)
	seen := make(map[string]bool)
	for _, section := range manifest.SectionNames() {
		for _, item := range reduced.ItemNames(section) {
			targets, err := acc.TargetsFor(section, item)
			if err != nil {
				continue
			}
			for _, target := range targets {
				seen[target.Region] = true
			}
		}
	}
	regions := make([]string, 0, len(seen))
	for region := range seen {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
)

// DiffResult is the classification a dry-run task produces. It is the
// full contract surface for plan output consumers.
type DiffResult struct {
	LaunchName     string `json:"launch_name"`
	AccountID      string `json:"account_id"`
	Region         string `json:"region"`
	CurrentVersion string `json:"current_version"`
	NewVersion     string `json:"new_version"`
	Effect         string `json:"effect"`
	CurrentStatus  string `json:"current_status,omitempty"`
	Active         bool   `json:"active"`
	Notes          string `json:"notes,omitempty"`
}

// classify runs the same decision sequence as the mutating path without
// calling any mutating client method.
func (t *ProvisionProductTask) classify(ctx context.Context, clients *cloud.Clients, details VersionDetails, declared []cloud.ProvisioningParameter, desired map[string]string, pp *cloud.ProvisionedProduct, exists bool) (*engine.Result, error) {
	diff := DiffResult{
		LaunchName: t.LaunchName,
		AccountID:  t.AccountID,
		Region:     t.Region,
		NewVersion: details.ArtifactID,
		Active:     details.Active,
	}

	switch {
	case !exists:
		diff.Effect = EffectChange
		diff.Notes = "new provision"

	case pp.Status == cloud.StatusTainted:
		diff.CurrentVersion = pp.ArtifactID
		diff.CurrentStatus = string(pp.Status)
		diff.Effect = EffectChange
		diff.Notes = "tainted, forced re-convergence"

	case pp.ArtifactID != details.ArtifactID:
		diff.CurrentVersion = pp.ArtifactID
		diff.CurrentStatus = string(pp.Status)
		diff.Effect = EffectChange
		diff.Notes = "version differs"

	default:
		diff.CurrentVersion = pp.ArtifactID
		diff.CurrentStatus = string(pp.Status)
		live, err := clients.Catalog.GetCurrentParameters(ctx, pp.ID)
		if err != nil {
			return nil, err
		}
		if parametersEqual(declared, live, desired) {
			diff.Effect = EffectNoChange
		} else {
			diff.Effect = EffectChange
			diff.Notes = "parameters differ"
		}
	}

	return writeDiff(t.Deployment, t.Identity(), diff)
}

// writeDiff records a dry-run result in the output directory and returns
// it as the task output. Dry-run identities bypass the cache, so the file
// is the durable artifact.
func writeDiff(d *Deployment, id engine.Identity, diff DiffResult) (*engine.Result, error) {
	result, err := engine.Output(diff)
	if err != nil {
		return nil, err
	}

	if d.Settings.OutputDir == "" {
		return result, nil
	}

	if err := os.MkdirAll(d.Settings.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	name := strings.ReplaceAll(id.Key(), "/", "_") + ".json"
	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding diff result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Settings.OutputDir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing diff result: %w", err)
	}

	return result, nil
}

package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/stores"
)

const deployTestManifest = `
schema: puppet-2019-04-01
accounts:
  - account_id: "012345678910"
    name: hub
    default_region: eu-west-1
`

// TestDeployJournalsRunOnFreshDatabase deploys against a database file that
// does not exist yet. The scheduler degrades journal errors to warnings, so
// the command must have created the schema for the run row to appear at all.
func TestDeployJournalsRunOnFreshDatabase(t *testing.T) {
	dir := t.TempDir()
	manifestFile := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestFile, []byte(deployTestManifest), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	databaseFile := filepath.Join(dir, "puppet.db")

	root := newRootCommand("test", "none", "today")
	root.SetArgs([]string{
		"deploy",
		"--manifest", manifestFile,
		"--puppet-account-id", "012345678910",
		"--home-region", "eu-west-1",
		"--database", databaseFile,
	})
	ctx := context.Background()
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: databaseFile})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("initializing database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("journaled runs = %d, want 1", len(runs))
	}
	if runs[0].Status != stores.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", runs[0].Status)
	}
}

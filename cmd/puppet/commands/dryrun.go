package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/workflow"
)

func newDryRunCommand() *cobra.Command {
	var (
		parallelism   int
		singleAccount string
		outputDir     string
		jsonReport    bool
	)

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Classify what a deploy would change",
		Long: `Run the launch fan-out without mutating anything.

Each launch target is classified against the live estate:
  - CHANGE: the target would be provisioned, updated or terminated
  - NO_CHANGE: the target already matches the manifest

Diff records are written to the output directory, one file per target.
A pending change is a normal outcome, so the command succeeds either way.`,
		Example: `  # Classify a manifest against the live estate
  puppet dry-run --manifest manifest.yaml --puppet-account-id 012345678910 --home-region eu-west-1

  # Machine-readable report
  puppet dry-run --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if puppetAccountID == "" || homeRegion == "" {
				return fmt.Errorf("--puppet-account-id and --home-region are required")
			}

			ctx := cmd.Context()

			acc, err := loadManifest()
			if err != nil {
				return err
			}

			tel, err := newTelemetry()
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}
			defer tel.Shutdown(ctx)

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			deployment := &workflow.Deployment{
				Manifest: acc,
				Clients:  newClientFactory(),
				Settings: workflow.Settings{
					PuppetAccountID: puppetAccountID,
					HomeRegion:      homeRegion,
					Version:         appVersion,
					SingleAccountID: singleAccount,
					DryRun:          true,
					OutputDir:       outputDir,
				},
			}

			roots, err := workflow.BuildTasks(deployment)
			if err != nil {
				return fmt.Errorf("building task graph: %w", err)
			}

			log.Info().
				Str("manifest", manifestPath).
				Str("output_dir", outputDir).
				Msg("Starting dry run")

			// Dry-run identities never touch the cache, so no store.
			scheduler := engine.NewScheduler(engine.SchedulerConfig{
				Parallelism: parallelism,
			}, nil, nil, tel)

			report, err := scheduler.Run(ctx, roots)
			if err != nil {
				return fmt.Errorf("running task graph: %w", err)
			}

			diffs := collectDiffs(report)
			if jsonReport {
				encoded, err := json.MarshalIndent(diffs, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding report: %w", err)
				}
				fmt.Println(string(encoded))
			} else {
				printDiffTable(diffs)
			}

			if report.HasFailures() {
				printRunSummary(report)
				return fmt.Errorf("dry run %s finished with %d failed tasks", report.RunID, len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max parallel tasks")
	cmd.Flags().StringVar(&singleAccount, "single-account", "", "restrict the run to one account id")
	cmd.Flags().StringVar(&outputDir, "output-dir", "output", "directory diff records are written to")
	cmd.Flags().BoolVar(&jsonReport, "json", false, "print the report as JSON")

	return cmd
}

// collectDiffs pulls the diff records out of the dry-run task outputs.
func collectDiffs(report *engine.RunReport) []workflow.DiffResult {
	var diffs []workflow.DiffResult
	for _, tr := range report.Succeeded {
		if !strings.HasSuffix(tr.IdentityKey, "/dry-run") || len(tr.Output) == 0 {
			continue
		}
		var diff workflow.DiffResult
		if err := json.Unmarshal(tr.Output, &diff); err != nil {
			continue
		}
		diffs = append(diffs, diff)
	}
	return diffs
}

func printDiffTable(diffs []workflow.DiffResult) {
	if len(diffs) == 0 {
		fmt.Println("No launch targets to classify")
		return
	}
	fmt.Printf("%-30s %-14s %-12s %-10s %s\n", "LAUNCH", "ACCOUNT", "REGION", "EFFECT", "NOTES")
	for _, diff := range diffs {
		fmt.Printf("%-30s %-14s %-12s %-10s %s\n",
			diff.LaunchName, diff.AccountID, diff.Region, diff.Effect, diff.Notes)
	}
}

package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/engine"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/stores"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/workflow"
)

func newDeployCommand() *cobra.Command {
	var (
		parallelism       int
		singleAccount     string
		cacheInvalidator  string
		databasePath      string
		taskTimeout       time.Duration
		spokeBucket       string
		spokeBuildProject string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Execute a manifest",
		Long: `Execute every task the manifest expands to.

This command:
  - Loads and validates the manifest
  - Expands each section item across its target accounts and regions
  - Executes the task graph in parallel (respecting dependencies)
  - Serves unchanged tasks from the output cache
  - Records the run and every task in the run journal`,
		Example: `  # Deploy a manifest
  puppet deploy --manifest manifest.yaml --puppet-account-id 012345678910 --home-region eu-west-1

  # Restrict the run to one spoke account
  puppet deploy --single-account 111111111111

  # Force every task to execute again
  puppet deploy --cache-invalidator $(date +%s)`,
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

			store, err := stores.NewSQLiteStore(stores.Config{Path: databasePath})
			if err != nil {
				return fmt.Errorf("opening task store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("initializing task store: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrating task store: %w", err)
			}

			deployment := &workflow.Deployment{
				Manifest: acc,
				Clients:  newClientFactory(),
				Settings: workflow.Settings{
					PuppetAccountID:   puppetAccountID,
					HomeRegion:        homeRegion,
					Version:           appVersion,
					SingleAccountID:   singleAccount,
					CacheInvalidator:  cacheInvalidator,
					SpokeBucket:       spokeBucket,
					SpokeBuildProject: spokeBuildProject,
				},
			}

			roots, err := workflow.BuildTasks(deployment)
			if err != nil {
				return fmt.Errorf("building task graph: %w", err)
			}

			log.Info().
				Str("manifest", manifestPath).
				Int("parallelism", parallelism).
				Int("items", len(roots)).
				Msg("Starting deployment")

			scheduler := engine.NewScheduler(engine.SchedulerConfig{
				Parallelism:    parallelism,
				DefaultTimeout: taskTimeout,
			}, store, store, tel)

			report, err := scheduler.Run(ctx, roots)
			if err != nil {
				return fmt.Errorf("running task graph: %w", err)
			}

			printRunSummary(report)
			if report.HasFailures() {
				return fmt.Errorf("run %s finished with %d failed and %d skipped tasks",
					report.RunID, len(report.Failed), len(report.Skipped))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max parallel tasks")
	cmd.Flags().StringVar(&singleAccount, "single-account", "", "restrict the run to one account id")
	cmd.Flags().StringVar(&cacheInvalidator, "cache-invalidator", "", "cache scope token; change it to re-run everything")
	cmd.Flags().StringVar(&databasePath, "database", "puppet.db", "task output cache and run journal path")
	cmd.Flags().DurationVar(&taskTimeout, "task-timeout", 0, "per-attempt task timeout (0 disables)")
	cmd.Flags().StringVar(&spokeBucket, "spoke-bucket", "", "bucket reduced manifests are uploaded to for spoke dispatch")
	cmd.Flags().StringVar(&spokeBuildProject, "spoke-build-project", "", "build project started in spoke accounts")

	return cmd
}

func printRunSummary(report *engine.RunReport) {
	fmt.Printf("\nRun %s finished in %s\n", report.RunID, report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  succeeded: %d\n", len(report.Succeeded))
	fmt.Printf("  cached:    %d\n", len(report.Cached))
	fmt.Printf("  failed:    %d\n", len(report.Failed))
	fmt.Printf("  skipped:   %d\n", len(report.Skipped))

	for _, failed := range report.Failed {
		fmt.Printf("\nFAILED %s\n  %s\n", failed.IdentityKey, failed.Error)
	}
	for _, skipped := range report.Skipped {
		fmt.Printf("\nSKIPPED %s\n  %s\n", skipped.IdentityKey, skipped.Error)
	}
}

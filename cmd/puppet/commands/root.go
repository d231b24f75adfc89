package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/cloud"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

var (
	// Global flags
	manifestPath    string
	puppetAccountID string
	homeRegion      string
	verbose         bool

	// appVersion is the build version, threaded through to spoke builds.
	appVersion string
)

// newClientFactory builds the cloud client factory used by the deploy and
// dry-run commands. The default StaticFactory serves local development and
// tests; production builds replace this to register SDK clients for every
// (account, region) the manifest targets.
var newClientFactory = func() cloud.Factory {
	return cloud.NewStaticFactory()
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "puppet",
		Short: "Service Catalog Puppet - manifest-driven multi-account provisioning",
		Long: `Puppet provisions service catalog products, portfolios, assertions,
code build runs and lambda invocations across every account and region a
manifest targets.

Features:
  - Declarative manifest validated against a CUE schema
  - Parallel task graph with cross-item dependency ordering
  - Idempotent re-runs backed by a task output cache
  - Dry-run classification without any remote mutation
  - Spoke execution dispatch for delegated accounts`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "f", "manifest.yaml", "manifest file path")
	rootCmd.PersistentFlags().StringVar(&puppetAccountID, "puppet-account-id", "", "hub account id orchestrating the run")
	rootCmd.PersistentFlags().StringVar(&homeRegion, "home-region", "", "hub home region")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDryRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newExpandCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadManifest parses and validates the manifest file behind --manifest.
func loadManifest() (*manifest.Accessor, error) {
	loader, err := manifest.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("initializing manifest loader: %w", err)
	}
	m, err := loader.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", manifestPath, err)
	}
	return manifest.NewAccessor(m), nil
}

// newTelemetry builds the run telemetry bundle from the global flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = appVersion
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.NewTelemetry(cfg)
}

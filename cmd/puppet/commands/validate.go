package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a manifest",
		Long: `Validate the manifest without touching any account.

This command checks:
  - YAML syntax and CUE schema conformance
  - Struct-level field constraints
  - Semantic rules (dependency targets, duplicate regions)
  - Guardrail policies, builtin plus any loaded with --policies`,
		Example: `  # Validate a manifest
  puppet validate --manifest manifest.yaml

  # Validate with custom guardrails
  puppet validate --policies ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			engine, err := policy.NewEngine(tel.Logger)
			if err != nil {
				return fmt.Errorf("initializing policy engine: %w", err)
			}
			if len(policyPaths) > 0 {
				if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}

			result, err := engine.Evaluate(ctx, acc.Manifest())
			if err != nil {
				return fmt.Errorf("evaluating policies: %w", err)
			}

			for _, warning := range result.Warnings {
				log.Warn().
					Str("policy", warning.Policy).
					Str("item", warning.Item).
					Msg(warning.Message)
			}
			for _, violation := range result.Violations {
				log.Error().
					Str("policy", violation.Policy).
					Str("item", violation.Item).
					Msg(violation.Message)
			}

			if !result.Allowed {
				return fmt.Errorf("manifest %s failed %d policy checks", manifestPath, len(result.Violations))
			}
			fmt.Printf("%s is valid (%d policies, %d warnings)\n",
				manifestPath, len(result.EvaluatedPolicies), len(result.Warnings))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "extra policy files or directories")

	return cmd
}

package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/manifest"
)

func newExpandCommand() *cobra.Command {
	var (
		accountID string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Write the spoke-scoped manifest for an account",
		Long: `Reduce the manifest to what one spoke account executes locally.

The reduced manifest keeps the spoke-execution launches targeting the
account plus their dependency closure, narrows every deploy_to to the
account, and rewrites execution to hub so the spoke runs them itself.
This is the document the deploy command uploads for spoke dispatch.`,
		Example: `  # Print the reduced manifest for a spoke account
  puppet expand --account 111111111111

  # Write it to a file
  puppet expand --account 111111111111 --out spoke-manifest.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := loadManifest()
			if err != nil {
				return err
			}

			reduced, err := manifest.Reduce(acc.Manifest(), accountID)
			if err != nil {
				return fmt.Errorf("reducing manifest for account %s: %w", accountID, err)
			}

			encoded, err := reduced.Encode()
			if err != nil {
				return fmt.Errorf("encoding reduced manifest: %w", err)
			}

			if outPath == "" {
				fmt.Print(string(encoded))
				return nil
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			log.Info().
				Str("account", accountID).
				Str("path", outPath).
				Msg("Wrote spoke manifest")
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "spoke account id")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (stdout when empty)")
	cmd.MarkFlagRequired("account")

	return cmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("puppet %s\n  commit: %s\n  built:  %s\n", version, commit, buildDate)
		},
	}
}

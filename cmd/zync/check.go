package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jpalmerr/zync"
	"github.com/jpalmerr/zync/config"
	"github.com/spf13/cobra"
)

const checkTimeout = 15 * time.Second

// checkCmd verifies that the deployer accepts the admin token.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the deployer accepts admin tokens",
	Long: `Check that the deployer accepts the admin token built from the config.

With deployer.secret (or --secret) the token is signed locally, which checks
that the deployer shares the secret. Otherwise the platform issues the token.

Exit codes:
  0 - The deployer accepted the token
  1 - The deployer refused the token or could not be reached

Example:
  zync check -c zync.yaml
  zync check -c zync.yaml --secret "$DEPLOYER_SECRET"`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addConfigFlag(checkCmd)
	checkCmd.Flags().String("secret", "", "deployer signing secret, overrides deployer.secret")
}

func runCheck(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
		cfg.Deployer.Secret = secret
	}

	opts := config.BuildOptions(cfg)
	if cfg.Deployer.Secret != "" {
		opts = append(opts, zync.WithSigningSecret(cfg.Deployer.Secret))
	}
	opts = append(opts, zync.WithLogger(newLogger(os.Stderr)))

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	err = zync.CheckConfig(ctx, opts...)
	switch {
	case err == nil:
		fmt.Fprintln(cmd.OutOrStdout(), "The deployer accepted the admin token.")
		return nil
	case errors.Is(err, zync.ErrInvalidSecret), errors.Is(err, zync.ErrNotAdmin):
		return err
	default:
		return fmt.Errorf("check failed: %w", err)
	}
}

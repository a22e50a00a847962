package main

import (
	"fmt"
	"time"

	"github.com/jpalmerr/zync/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without contacting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a zync configuration file without contacting the platform or
the deployer.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  zync validate -c zync.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addConfigFlag(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	platform := cfg.Platform.URL
	if platform == "" {
		platform = "(none)"
	}
	deployerURL := cfg.Deployer.URL
	if deployerURL == "" {
		deployerURL = "(discovered from the platform)"
	}
	tokens := "platform"
	if cfg.Deployer.Secret != "" {
		tokens = "signed locally"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Platform:      %s\n", platform)
	fmt.Fprintf(out, "  Deployer:      %s\n", deployerURL)
	fmt.Fprintf(out, "  Admin tokens:  %s\n", tokens)
	fmt.Fprintf(out, "  Polling:       %s short, %s long\n",
		orDefault(cfg.Polling.ShortInterval.Duration(), "2s"),
		orDefault(cfg.Polling.LongInterval.Duration(), "10s"))
	fmt.Fprintf(out, "  Dashboard:     port %d, %d concurrent loads\n",
		cfg.Dashboard.Port, cfg.Dashboard.MaxConcurrency)
	if cfg.Challenge.Name != "" {
		fmt.Fprintf(out, "  Challenge:     %s/%s\n", cfg.Challenge.Category, cfg.Challenge.Name)
	}

	return nil
}

func orDefault(d time.Duration, def string) string {
	if d == 0 {
		return def
	}
	return d.String()
}

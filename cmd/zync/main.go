// Package main is the entry point for the zync CLI.
//
// zync can be used as a library (SDK) or as a standalone binary with YAML
// configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	zync watch -c zync.yaml --id 12        # Interactive view of one challenge
//	zync deploy -c zync.yaml --id 12       # Deploy and wait until it runs
//	zync dashboard -c zync.yaml            # Start the admin dashboard
//	zync check -c zync.yaml                # Check the deployer shares the secret
//	zync validate -c zync.yaml             # Validate configuration
//	zync version                           # Show version info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// verbose switches every command logger to debug level.
var verbose bool

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "zync",
	Short: "Client for a CTF challenge deployer",
	Long: `zync talks to the deployer that runs per-team instances of CTF
challenges.

Players deploy, extend and terminate their own instance and follow its
status. Administrators get a web dashboard listing every challenge with
live status, bulk actions, deployment errors and team deployments.

Quick start:
  1. Create a config file (zync.yaml)
  2. Run: zync watch -c zync.yaml --id 12
  3. Or, as an admin: zync dashboard -c zync.yaml

Example config:
  title: Example CTF
  platform:
    url: https://ctf.example.com
    session: ${CTFD_SESSION}
  deployer:
    secret: ${DEPLOYER_SECRET:-}
  dashboard:
    port: 8080`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this zync binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "zync %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// addConfigFlag registers the required --config flag.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

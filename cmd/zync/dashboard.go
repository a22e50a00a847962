package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/zync"
	"github.com/jpalmerr/zync/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// dashboardCmd starts the admin dashboard server.
var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the admin dashboard",
	Long: `Start the zync admin dashboard.

The dashboard will:
  - Load configuration from the specified YAML file
  - Obtain an admin token (signed with deployer.secret, or from the platform)
  - List the deployer's challenges and poll the status of each one
  - Serve the dashboard UI on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  zync dashboard -c zync.yaml
  zync dashboard --config /etc/zync/zync.yaml`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	addConfigFlag(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stderr)

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting dashboard",
		"port", cfg.Dashboard.Port,
		"max_concurrency", cfg.Dashboard.MaxConcurrency,
		"signed_tokens", cfg.Deployer.Secret != "",
	)

	opts := append(config.BuildDashboardOptions(cfg), zync.WithLogger(logger))
	d, err := zync.NewDashboard(opts...)
	if err != nil {
		return fmt.Errorf("failed to create dashboard: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until ctx is cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("dashboard error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("dashboard error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

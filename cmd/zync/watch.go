package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jpalmerr/zync/internal/tui"
	"github.com/spf13/cobra"
)

// watchCmd opens the interactive view of one challenge.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a challenge deployment interactively",
	Long: `Open a terminal view of your deployment of a challenge.

The view shows the live status, the connection info and the time left, and
polls the deployer while a deployment starts or stops. Keys:
  d  deploy      e  add time      x  terminate
  r  refresh     q  quit

Logs would garble the view, so they are discarded unless --log-file is set.

Example:
  zync watch -c zync.yaml --id 12
  zync watch -c zync.yaml --id 12 --log-file zync.log -v`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addConfigFlag(watchCmd)
	addChallengeFlags(watchCmd)
	watchCmd.Flags().String("log-file", "", "append logs to this file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, ch, err := loadChallenge(cmd)
	if err != nil {
		return err
	}

	var logOut io.Writer = io.Discard
	if path, _ := cmd.Flags().GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}

	renderer := tui.NewRenderer()
	w, err := buildWatcher(cfg, ch, renderer, logOut)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	title := ch.String()
	if cfg.Title != "" {
		title = cfg.Title + " | " + title
	}
	p := tea.NewProgram(tui.New(ctx, title, w), tea.WithAltScreen(), tea.WithContext(ctx))
	renderer.Attach(p)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jpalmerr/zync"
	"github.com/jpalmerr/zync/config"
	"github.com/jpalmerr/zync/internal/tui"
	"github.com/spf13/cobra"
)

const defaultWait = 3 * time.Minute

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the status of a challenge deployment",
		Long: `Fetch the status of your deployment of a challenge once and print it.

Example:
  zync status -c zync.yaml --id 12
  zync status -c zync.yaml --category web --name login`,
		RunE: runStatus,
	}

	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a challenge and wait until it runs",
		Long: `Ask the deployer to start your instance of a challenge, then follow its
status until the deployment settles or --wait elapses.

Example:
  zync deploy -c zync.yaml --id 12
  zync deploy -c zync.yaml --id 12 --wait 0   # do not wait`,
		RunE: runPlayerAction(actionDeploy),
	}

	extendCmd = &cobra.Command{
		Use:   "extend",
		Short: "Add time to a running deployment",
		Long: `Ask the deployer to push back the expiration of your running instance.

Example:
  zync extend -c zync.yaml --id 12`,
		RunE: runPlayerAction(actionExtend),
	}

	terminateCmd = &cobra.Command{
		Use:   "terminate",
		Short: "Stop a deployment and wait until it is gone",
		Long: `Ask the deployer to stop your instance of a challenge, then follow its
status until it is gone or --wait elapses.

Example:
  zync terminate -c zync.yaml --id 12`,
		RunE: runPlayerAction(actionTerminate),
	}
)

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, deployCmd, extendCmd, terminateCmd} {
		rootCmd.AddCommand(cmd)
		addConfigFlag(cmd)
		addChallengeFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{deployCmd, terminateCmd} {
		cmd.Flags().Duration("wait", defaultWait, "how long to follow the status, 0 to return right away")
	}
}

// addChallengeFlags registers the flags overriding the config's challenge.
func addChallengeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("id", 0, "challenge id on the platform")
	cmd.Flags().String("name", "", "challenge name")
	cmd.Flags().String("category", "", "challenge category")
}

// loadChallenge reads the config and the challenge flags.
func loadChallenge(cmd *cobra.Command) (*config.Config, zync.Challenge, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zync.Challenge{}, fmt.Errorf("failed to load config: %w", err)
	}

	var override config.ChallengeConfig
	override.ID, _ = cmd.Flags().GetInt("id")
	override.Name, _ = cmd.Flags().GetString("name")
	override.Category, _ = cmd.Flags().GetString("category")

	ch, err := config.BuildChallenge(cfg.Challenge, override)
	if err != nil {
		return nil, zync.Challenge{}, fmt.Errorf("invalid challenge: %w", err)
	}
	return cfg, ch, nil
}

func newWatcher(cmd *cobra.Command, r zync.Renderer) (*zync.Watcher, error) {
	cfg, ch, err := loadChallenge(cmd)
	if err != nil {
		return nil, err
	}
	return buildWatcher(cfg, ch, r, cmd.ErrOrStderr())
}

// buildWatcher creates a watcher logging to logOut.
func buildWatcher(cfg *config.Config, ch zync.Challenge, r zync.Renderer, logOut io.Writer) (*zync.Watcher, error) {
	opts := append(config.BuildOptions(cfg), zync.WithLogger(newLogger(logOut)))
	w, err := zync.NewWatcher(ch, r, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return w, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	w, err := newWatcher(cmd, nil)
	if err != nil {
		return err
	}
	defer w.Close()

	o := w.Status(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), tui.Describe(o))
	return outcomeError(o)
}

type playerAction int

const (
	actionDeploy playerAction = iota
	actionExtend
	actionTerminate
)

func runPlayerAction(action playerAction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		lines := newLineRenderer(cmd.OutOrStdout())
		w, err := newWatcher(cmd, lines)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w.Open(ctx)
		mark := lines.count()

		switch action {
		case actionDeploy:
			err = w.Deploy(ctx)
		case actionExtend:
			err = w.Extend(ctx)
		case actionTerminate:
			err = w.Terminate(ctx)
		}
		if err != nil || action == actionExtend {
			return err
		}

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()

		o, err := lines.settled(waitCtx, mark)
		if err != nil {
			return fmt.Errorf("deployment did not settle: %w", err)
		}
		return outcomeError(o)
	}
}

// outcomeError turns a failure outcome into the command's exit error.
func outcomeError(o zync.Outcome) error {
	switch o.Kind {
	case zync.KindRunning, zync.KindStarting, zync.KindStopping, zync.KindNotDeployed, zync.KindHidden:
		return nil
	}
	if o.Err != nil {
		return o.Err
	}
	return errors.New(tui.Describe(o))
}

// lineRenderer prints each rendered outcome as one line and keeps them for
// [lineRenderer.settled]. Countdown updates are not printed.
type lineRenderer struct {
	out io.Writer

	mu       sync.Mutex
	last     string
	outcomes []zync.Outcome
	changed  chan struct{}
}

func newLineRenderer(out io.Writer) *lineRenderer {
	if out == nil {
		out = os.Stdout
	}
	return &lineRenderer{out: out, changed: make(chan struct{}, 1)}
}

func (r *lineRenderer) Loading() {}

func (r *lineRenderer) TimeLeft(string) {}

func (r *lineRenderer) Render(o zync.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes = append(r.outcomes, o)
	if line := tui.Describe(o); line != r.last {
		fmt.Fprintln(r.out, line)
		r.last = line
	}
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *lineRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// settled waits for the first outcome after index from that is neither
// starting nor stopping.
func (r *lineRenderer) settled(ctx context.Context, from int) (zync.Outcome, error) {
	for {
		r.mu.Lock()
		for _, o := range r.outcomes[from:] {
			if o.Kind != zync.KindStarting && o.Kind != zync.KindStopping {
				r.mu.Unlock()
				return o, nil
			}
		}
		from = len(r.outcomes)
		r.mu.Unlock()

		select {
		case <-r.changed:
		case <-ctx.Done():
			return zync.Outcome{}, ctx.Err()
		}
	}
}

package zync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/poller"
	"github.com/jpalmerr/zync/internal/token"
)

var (
	// ErrWatcherClosed is returned by actions on a watcher that is not open.
	ErrWatcherClosed = errors.New("watcher is not open")

	// ErrExtendInProgress is returned when an extension is already running.
	ErrExtendInProgress = errors.New("an extension is already in progress")
)

const retryLater = " Please retry later or contact an administrator."

// actionMessages are the texts shown when a player action fails without
// an explanation from the deployer.
type actionMessages struct {
	rejected string
	server   string
	network  string
}

var (
	deployMessages = actionMessages{
		rejected: "Invalid challenge.",
		server:   "Error while starting the deployment.",
		network:  "Network error while starting the deployment.",
	}
	extendMessages = actionMessages{
		rejected: "Unable to add time to the deployment.",
		server:   "Error while adding time to the deployment.",
		network:  "Network error while adding time to the deployment.",
	}
	terminateMessages = actionMessages{
		rejected: "Error while deleting the deployment.",
		server:   "Error while deleting the deployment.",
		network:  "Network error while deleting the deployment.",
	}
)

// Watcher follows the deployment of one challenge for the current player
// and runs the player actions: deploy, extend, terminate.
//
// The lifecycle is:
//
//	w, err := zync.NewWatcher(ch, renderer, zync.WithPlatform(url), zync.WithSession(s))
//	if err != nil {
//	    return err
//	}
//	w.Open(ctx) // first status rendered when Open returns
//	defer w.Close()
//
//	w.Deploy(ctx)
//
// Every state change goes through the renderer. A Watcher is safe for
// concurrent use.
type Watcher struct {
	challenge Challenge
	short     time.Duration
	logger    *slog.Logger

	deployers *resolver
	tokens    *token.Cache
	session   *poller.Session

	extending atomic.Bool
}

// NewWatcher creates a [Watcher] for ch. Nothing is fetched until
// [Watcher.Open].
//
// Tokens come from [WithTokenFunc] if set, from the platform otherwise; the
// platform needs the challenge id ([WithChallengeID]). The deployer URL comes
// from [WithDeployerURL] or is discovered from the platform.
//
// Returns an error if an option is invalid or a collaborator is missing.
func NewWatcher(ch Challenge, r Renderer, opts ...Option) (*Watcher, error) {
	if ch.Name() == "" {
		return nil, errors.New("challenge is required")
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	platform, err := cfg.newPlatform()
	if err != nil {
		return nil, err
	}

	var source token.Source
	switch {
	case cfg.tokenFunc != nil:
		source = token.SourceFunc(cfg.tokenFunc)
	case platform != nil:
		if ch.ID() == 0 {
			return nil, errors.New("challenge id is required to request tokens from the platform")
		}
		source = platform.PlayerSource()
	default:
		return nil, errors.New("a platform or a token func is required")
	}

	deployers, err := newResolver(cfg, platform)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		challenge: ch,
		short:     shortInterval(cfg.policy),
		logger:    cfg.logger.With("challenge", ch.Key()),
		deployers: deployers,
		tokens:    token.NewCache(source),
	}
	w.session = poller.NewSession(w.fetch, r,
		poller.WithPolicy(cfg.policy),
		poller.WithLogger(cfg.logger),
		poller.WithName(ch.Key()),
	)
	return w, nil
}

// Challenge returns the watched challenge.
func (w *Watcher) Challenge() Challenge {
	return w.challenge
}

// Open starts polling and returns once the first status has been rendered.
// Requests are bound to ctx until [Watcher.Close].
func (w *Watcher) Open(ctx context.Context) {
	w.logger.Debug("watcher opened")
	w.session.Start(ctx, false)
}

// Close stops polling: the pending timer and countdown are cancelled and
// the in-flight request is aborted. Close is idempotent.
func (w *Watcher) Close() {
	w.session.Stop()
	w.deployers.close()
	w.logger.Debug("watcher closed")
}

// Refresh fetches the status now.
func (w *Watcher) Refresh() {
	w.session.Poll(false)
}

// Status fetches the status once, outside the polling session.
func (w *Watcher) Status(ctx context.Context) Outcome {
	snap, err := w.fetch(ctx)
	o := poller.Classify(snap, err)
	if err != nil && ctx.Err() != nil {
		o.Kind = KindCancelled
	}
	return o
}

// Deploy asks the deployer to start the challenge. An accepted deployment
// (or one already in progress) is shown as starting and polled again after
// the short interval. Failures are rendered and returned.
func (w *Watcher) Deploy(ctx context.Context) error {
	if !w.session.Active() {
		return ErrWatcherClosed
	}
	w.session.Show(Outcome{Kind: KindStarting})

	client, tok, err := w.prepare(ctx)
	var state deployer.DeployState
	if err == nil {
		state, err = client.Deploy(ctx, tok, w.challenge.request())
	}
	if err != nil {
		invalidateOnAuth(err, w.tokens, w.challenge.tokenKey())
		w.session.Show(failureOutcome(err, deployMessages))
		return err
	}

	w.logger.Info("deployment requested", "already_in_progress", state == deployer.DeployInProgress)
	w.session.Schedule(w.short, true)
	return nil
}

// Extend adds time to the running deployment. Only one extension runs at
// a time; a concurrent call returns [ErrExtendInProgress].
//
// The returned snapshot is applied as a regular poll result. A deployment
// gone in the meantime is shown as not deployed. Other failures are
// rendered, then the status is fetched again.
func (w *Watcher) Extend(ctx context.Context) error {
	if !w.session.Active() {
		return ErrWatcherClosed
	}
	if !w.extending.CompareAndSwap(false, true) {
		return ErrExtendInProgress
	}
	defer w.extending.Store(false)

	client, tok, err := w.prepare(ctx)
	var snap deployer.Snapshot
	if err == nil {
		snap, err = client.Extend(ctx, tok)
	}
	if err == nil {
		if snap.Status == "" {
			snap.Status = deployer.StatusRunning
		}
		w.logger.Info("deployment extended", "extensions_left", snap.ExtensionsLeft)
		w.session.Deliver(poller.Classify(snap, nil))
		return nil
	}

	invalidateOnAuth(err, w.tokens, w.challenge.tokenKey())
	o := failureOutcome(err, extendMessages)
	switch o.Kind {
	case KindCancelled:
	case KindNotDeployed:
		w.session.Deliver(o)
	case KindUnauthorized:
		w.session.Show(o)
	default:
		w.session.Show(o)
		w.session.Poll(true)
	}
	return err
}

// Terminate asks the deployer to stop the deployment. An accepted request
// is shown as stopping and polled again after the short interval.
func (w *Watcher) Terminate(ctx context.Context) error {
	if !w.session.Active() {
		return ErrWatcherClosed
	}
	w.session.Show(Outcome{Kind: KindStopping})

	client, tok, err := w.prepare(ctx)
	if err == nil {
		err = client.Terminate(ctx, tok, w.challenge.request())
	}
	if err != nil {
		invalidateOnAuth(err, w.tokens, w.challenge.tokenKey())
		w.session.Show(failureOutcome(err, terminateMessages))
		return err
	}

	w.logger.Info("termination requested")
	w.session.Schedule(w.short, true)
	return nil
}

func (w *Watcher) fetch(ctx context.Context) (deployer.Snapshot, error) {
	client, tok, err := w.prepare(ctx)
	if err != nil {
		return deployer.Snapshot{}, err
	}
	snap, err := client.Status(ctx, tok)
	invalidateOnAuth(err, w.tokens, w.challenge.tokenKey())
	return snap, err
}

func (w *Watcher) prepare(ctx context.Context) (*deployer.Client, string, error) {
	client, err := w.deployers.get(ctx)
	if err != nil {
		return nil, "", err
	}
	tok, err := w.tokens.Token(ctx, w.challenge.tokenKey())
	if err != nil {
		return nil, "", tokenFailure(ctx, err)
	}
	return client, tok, nil
}

// failureOutcome classifies an action error and fills in the message shown
// when the deployer gave none.
func failureOutcome(err error, m actionMessages) Outcome {
	o := poller.Classify(deployer.Snapshot{}, err)

	var (
		clientErr *deployer.ClientError
		serverErr *deployer.ServerError
	)
	switch o.Kind {
	case KindRejected:
		if errors.As(err, &clientErr) && clientErr.Message != "" {
			o.Message = clientErr.Message
		} else {
			o.Message = m.rejected
		}
	case KindServerError:
		if errors.As(err, &serverErr) && serverErr.Message != "" {
			o.Message = serverErr.Message
		} else {
			o.Message = m.server + retryLater
		}
	case KindNetworkFailure:
		o.Message = m.network
	}
	return o
}

func shortInterval(p Policy) time.Duration {
	if p.ShortInterval > 0 {
		return p.ShortInterval
	}
	return DefaultPolicy().ShortInterval
}

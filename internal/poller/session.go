package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/zync/internal/deployer"
)

// Fetcher reads the current status of the session's entity.
type Fetcher func(ctx context.Context) (deployer.Snapshot, error)

// Renderer shows session state to a user.
//
// Calls for one session are serialized. A renderer must not call back into
// the session synchronously.
type Renderer interface {
	// Loading is called before a fetch unless the caller asked to skip it.
	Loading()

	// Render shows an outcome.
	Render(o Outcome)

	// TimeLeft updates the remaining time of a running deployment.
	TimeLeft(remaining string)
}

// Option configures a [Session].
type Option func(*Session)

// WithClock sets the clock. The default is [RealClock].
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPolicy sets the polling delays. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(s *Session) {
		s.policy = p.withDefaults()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithName labels the session in logs.
func WithName(name string) Option {
	return func(s *Session) {
		s.name = name
	}
}

// Session is the polling session of one entity.
//
// Fetches run in the goroutine that triggered them (the caller of
// [Session.Start] or [Session.Poll], or a timer). Results are applied under
// the session lock after a generation check, so a late result from a
// superseded request never renders.
//
// All methods are safe for concurrent use.
type Session struct {
	name   string
	fetch  Fetcher
	render Renderer
	clock  Clock
	policy Policy
	logger *slog.Logger

	mu         sync.Mutex
	parent     context.Context
	active     bool
	generation uint64

	// pending poll timer; timerSeq invalidates callbacks of replaced timers
	timer    Timer
	timerSeq uint64

	// cancel aborts the in-flight request, nil when idle
	cancel context.CancelFunc

	countdown    Timer
	countdownSeq uint64
	expiresAt    time.Time
}

// NewSession creates an inactive [Session]. Nothing happens until
// [Session.Start] is called.
func NewSession(fetch Fetcher, render Renderer, opts ...Option) *Session {
	s := &Session{
		fetch:  fetch,
		render: render,
		clock:  RealClock{},
		policy: DefaultPolicy(),
		logger: slog.Default(),
		parent: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.render == nil {
		s.render = nopRenderer{}
	}
	return s
}

// Start activates the session and fetches the status right away, returning
// once the first result has been applied. Requests are bound to ctx until
// [Session.Stop]; if ctx is nil, context.Background() is used.
//
// Calling Start on an active session supersedes its pending timer and
// in-flight request.
func (s *Session) Start(ctx context.Context, skipLoading bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.active = true
	s.parent = ctx
	s.mu.Unlock()

	s.poll(skipLoading, false)
}

// Stop deactivates the session: the pending timer and the countdown are
// cancelled and the in-flight request is aborted. Results arriving after
// Stop are discarded. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.generation++
	s.stopTimerLocked()
	s.stopCountdownLocked()
	s.abortLocked()
}

// Active reports whether the session is started.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Poll fetches the status now, superseding any pending timer or in-flight
// request. It does nothing on an inactive session.
func (s *Session) Poll(skipLoading bool) {
	s.poll(skipLoading, false)
}

// Schedule arms the poll timer, replacing any pending one. It is used after
// an action the deployer handles asynchronously (deploy accepted, terminate
// accepted). A scheduled poll is a follow-up: server and network failures
// are retried on the long interval.
func (s *Session) Schedule(delay time.Duration, skipLoading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.armLocked(delay, skipLoading, true)
}

// Deliver applies an outcome obtained outside the poll loop, such as the
// snapshot returned by an extension, exactly as if a fetch had produced
// it. Any in-flight poll is superseded.
func (s *Session) Deliver(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.generation++
	s.stopTimerLocked()
	s.abortLocked()
	s.applyLocked(o, false)
}

// Show renders an outcome without touching timers or requests.
func (s *Session) Show(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || o.Kind == KindCancelled {
		return
	}
	s.safeRender(func() { s.render.Render(o) })
}

func (s *Session) poll(skipLoading, retrying bool) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.abortLocked()

	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel

	if !skipLoading {
		s.safeRender(s.render.Loading)
	}
	s.mu.Unlock()

	snap, err := s.fetch(ctx)
	outcome := Classify(snap, err)
	if err != nil && ctx.Err() != nil {
		outcome = Outcome{Kind: KindCancelled, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cancel()

	if !s.active || gen != s.generation {
		s.logger.Debug("discarding stale poll result",
			"session", s.name,
			"outcome", outcome.Kind.String(),
		)
		return
	}
	s.cancel = nil

	s.logger.Debug("poll result",
		"session", s.name,
		"outcome", outcome.Kind.String(),
		"retrying", retrying,
	)
	if outcome.Kind == KindNetworkFailure || outcome.Kind == KindServerError {
		s.logger.Warn("status fetch failed",
			"session", s.name,
			"outcome", outcome.Kind.String(),
			"error", err,
		)
	}

	s.applyLocked(outcome, retrying)
}

func (s *Session) applyLocked(o Outcome, retrying bool) {
	action := Decide(o, retrying, s.policy)
	if !action.Render {
		return
	}

	s.stopCountdownLocked()
	s.safeRender(func() { s.render.Render(o) })

	if action.Countdown {
		s.startCountdownLocked(*o.Snapshot.ExpirationTime)
	}
	if action.Next > 0 {
		s.armLocked(action.Next, true, true)
	}
}

func (s *Session) armLocked(delay time.Duration, skipLoading, retrying bool) {
	s.stopTimerLocked()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if seq != s.timerSeq || !s.active {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.poll(skipLoading, retrying)
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) startCountdownLocked(expires time.Time) {
	s.stopCountdownLocked()
	s.expiresAt = expires
	s.safeRender(func() { s.render.TimeLeft(FormatTimeLeft(expires, s.clock.Now())) })
	s.armCountdownLocked()
}

func (s *Session) armCountdownLocked() {
	seq := s.countdownSeq
	s.countdown = s.clock.AfterFunc(s.policy.CountdownTick, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if seq != s.countdownSeq || !s.active {
			return
		}
		s.countdown = nil

		left := FormatTimeLeft(s.expiresAt, s.clock.Now())
		s.safeRender(func() { s.render.TimeLeft(left) })

		if left == ZeroTimeLeft {
			s.countdownSeq++
			s.armLocked(s.policy.ExpiryFollowUp, false, false)
			return
		}
		s.armCountdownLocked()
	})
}

func (s *Session) stopCountdownLocked() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	s.countdownSeq++
}

// safeRender calls a renderer method with panic recovery.
// A panicking renderer is logged with a correlation ID and the session
// carries on.
func (s *Session) safeRender(f func()) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("renderer panic",
				"session", s.name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	f()
}

// pending reports the session's timers and in-flight request, for tests.
func (s *Session) pending() (timer, inFlight, countdown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil, s.cancel != nil, s.countdown != nil
}

type nopRenderer struct{}

func (nopRenderer) Loading()        {}
func (nopRenderer) Render(Outcome)  {}
func (nopRenderer) TimeLeft(string) {}

package zync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/zync/dashboard"
	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/poller"
	"github.com/jpalmerr/zync/internal/server"
	"github.com/jpalmerr/zync/internal/store"
	"github.com/jpalmerr/zync/internal/token"
)

// adminKey is the token cache key of the unscoped admin token.
const adminKey = ""

// Dashboard is the admin orchestrator: it lists every challenge known to
// the deployer, polls each one in its own session and serves the web
// dashboard with deploy and terminate actions.
//
// The typical lifecycle is:
//
//	d, err := zync.NewDashboard(zync.WithPlatform(url), zync.WithSession(s))
//	if err != nil {
//	    slog.Error("failed to create dashboard", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	d.Start(ctx) // blocks until context cancelled
type Dashboard struct {
	cfg    *zyncConfig
	short  time.Duration
	logger *slog.Logger

	deployers *resolver
	admin     *token.Cache
	status    *token.Cache
	store     *store.MemoryStore

	// loadMu is held by load from the list fetch through the fan-out; only
	// sessions in rows are ever started
	loadMu sync.Mutex

	mu   sync.Mutex
	base context.Context
	rows map[string]*row
}

// row is one polled challenge.
type row struct {
	challenge deployer.Challenge
	session   *poller.Session
}

// NewDashboard creates a [Dashboard].
//
// Admin tokens come from [WithTokenFunc], else from [WithSigningSecret],
// else from the platform. The deployer URL comes from [WithDeployerURL], or
// from the platform's admin token answer.
//
// Returns an error if an option is invalid or a collaborator is missing.
func NewDashboard(opts ...Option) (*Dashboard, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	platform, err := cfg.newPlatform()
	if err != nil {
		return nil, err
	}
	deployers, err := newResolver(cfg, platform)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		cfg:       cfg,
		short:     shortInterval(cfg.policy),
		logger:    cfg.logger,
		deployers: deployers,
		store:     store.NewMemoryStore(),
		base:      context.Background(),
		rows:      make(map[string]*row),
	}

	switch {
	case cfg.tokenFunc != nil:
		source := token.SourceFunc(cfg.tokenFunc)
		d.admin = token.NewCache(source)
		d.status = token.NewCache(source)
	case cfg.signingSecret != "":
		signer, err := token.NewSigner(cfg.signingSecret, cfg.tokenTTL)
		if err != nil {
			return nil, err
		}
		d.admin = token.NewCache(signer.AdminSource())
		d.status = token.NewCache(signer.AdminSource())
	case platform != nil:
		d.admin = token.NewCache(token.SourceFunc(func(ctx context.Context, _ string) (string, error) {
			at, err := platform.AdminToken(ctx)
			if err != nil {
				return "", err
			}
			if err := d.deployers.use(at.APIURL); err != nil {
				return "", err
			}
			return at.Token, nil
		}))
		d.status = token.NewCache(token.SourceFunc(func(ctx context.Context, key string) (string, error) {
			category, name := token.SplitKey(key)
			st, err := platform.StatusToken(ctx, category, name)
			if err != nil {
				return "", err
			}
			d.store.Modify(key, func(r *store.Row) { r.ChallengeID = st.ChallengeID })
			return st.Token, nil
		}))
	default:
		return nil, errors.New("a platform, a signing secret or a token func is required")
	}

	return d, nil
}

// Start loads the challenges, polls them and serves the dashboard.
//
// Start is a blocking call that runs until the provided context is
// cancelled. During execution:
//
//   - The admin token is fetched; Start fails if it cannot be
//   - Every challenge is polled once, at most [WithMaxConcurrency] at a time
//   - The HTTP server starts on the configured port
//   - The error and team lists are refreshed on their intervals
//
// Returns nil on graceful shutdown. Returns an error if the admin token
// cannot be obtained or the HTTP server fails to start.
func (d *Dashboard) Start(ctx context.Context) error {
	d.logger.Info("zync dashboard starting")
	d.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", d.cfg.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	if _, _, err := d.adminClient(ctx); err != nil {
		return fmt.Errorf("admin token: %w", err)
	}
	if err := d.load(ctx); err != nil {
		// the page still comes up; a reload can recover
		d.logger.Warn("initial challenge load failed", "error", err)
	}

	httpServer := server.NewServer(d.store, d, d.cfg.port, dashboard.Assets, d.cfg.title, d.logger)
	if err := httpServer.Start(ctx); err != nil {
		d.stopAll()
		d.deployers.close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.every(ctx, d.cfg.errorsInterval, "errors", d.refreshErrors)
	}()
	go func() {
		defer wg.Done()
		d.every(ctx, d.cfg.teamsInterval, "teams", d.refreshTeams)
	}()

	<-ctx.Done()
	wg.Wait()
	d.stopAll()
	d.deployers.close()
	d.logger.Info("zync dashboard stopped")
	return nil
}

// Rows returns the current challenge rows, sorted by category and name.
func (d *Dashboard) Rows() []Row {
	return d.store.GetAll()
}

// Errors returns the last fetched error list.
func (d *Dashboard) Errors() []DeploymentError {
	return d.store.Errors()
}

// Teams returns the last fetched team list.
func (d *Dashboard) Teams() []TeamDeployment {
	return d.store.Teams()
}

// Port returns the configured HTTP port for the dashboard server.
func (d *Dashboard) Port() int {
	return d.cfg.port
}

// Deploy deploys the challenges with the given keys. Each accepted
// challenge is shown as starting and polled again after the short interval.
func (d *Dashboard) Deploy(ctx context.Context, keys ...string) error {
	return d.each(ctx, keys, KindStarting, (*deployer.Client).AdminDeploy)
}

// Terminate terminates the challenges with the given keys.
func (d *Dashboard) Terminate(ctx context.Context, keys ...string) error {
	return d.each(ctx, keys, KindStopping, (*deployer.Client).AdminTerminate)
}

// DeployAll deploys every challenge and returns how many the deployer
// queued.
func (d *Dashboard) DeployAll(ctx context.Context) (int, error) {
	return d.all(ctx, KindStarting, (*deployer.Client).DeployAll)
}

// TerminateAll terminates every challenge and returns how many the
// deployer queued.
func (d *Dashboard) TerminateAll(ctx context.Context) (int, error) {
	return d.all(ctx, KindStopping, (*deployer.Client).TerminateAll)
}

// Reload makes the deployer re-read its challenges, then rebuilds the rows.
func (d *Dashboard) Reload(ctx context.Context) error {
	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return err
	}
	if err := client.ReloadChallenges(ctx, tok); err != nil {
		invalidateOnAuth(err, d.admin, adminKey)
		return fmt.Errorf("reload challenges: %w", err)
	}
	d.logger.Info("deployer reloaded its challenges")
	return d.load(ctx)
}

// Refresh polls every row and the aggregate lists now.
func (d *Dashboard) Refresh(ctx context.Context) error {
	d.fanOut(ctx, d.snapshotRows(), func(r *row) {
		r.session.Poll(false)
	})
	return errors.Join(d.refreshErrors(ctx), d.refreshTeams(ctx))
}

type oneCall func(c *deployer.Client, ctx context.Context, tok string, ch deployer.Challenge) error

func (d *Dashboard) each(ctx context.Context, keys []string, shown Kind, call oneCall) error {
	rows, err := d.lookup(keys)
	if err != nil {
		return err
	}
	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range rows {
		key := token.ChallengeKey(r.challenge.Category, r.challenge.ChallengeName)
		if err := call(client, ctx, tok, r.challenge); err != nil {
			invalidateOnAuth(err, d.admin, adminKey)
			d.logger.Warn("admin action failed", "challenge", key, "action", shown.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		r.session.Show(Outcome{Kind: shown})
		r.session.Schedule(d.short, true)
	}
	return errors.Join(errs...)
}

type bulkCall func(c *deployer.Client, ctx context.Context, tok string) (int, error)

func (d *Dashboard) all(ctx context.Context, shown Kind, call bulkCall) (int, error) {
	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return 0, err
	}
	n, err := call(client, ctx, tok)
	if err != nil {
		invalidateOnAuth(err, d.admin, adminKey)
		return 0, err
	}

	d.logger.Info("bulk action accepted", "action", shown.String(), "count", n)
	for _, r := range d.snapshotRows() {
		r.session.Show(Outcome{Kind: shown})
		r.session.Schedule(d.short, true)
	}
	return n, nil
}

// load lists the challenges and replaces the rows, stopping the sessions
// of the previous list.
func (d *Dashboard) load(ctx context.Context) error {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return err
	}
	challenges, err := client.ListChallenges(ctx, tok)
	if err != nil {
		invalidateOnAuth(err, d.admin, adminKey)
		return fmt.Errorf("list challenges: %w", err)
	}
	sort.Slice(challenges, func(i, j int) bool {
		if challenges[i].Category != challenges[j].Category {
			return challenges[i].Category < challenges[j].Category
		}
		return challenges[i].ChallengeName < challenges[j].ChallengeName
	})

	now := time.Now()
	rows := make(map[string]*row, len(challenges))
	ordered := make([]*row, 0, len(challenges))
	storeRows := make([]store.Row, 0, len(challenges))
	for _, ch := range challenges {
		key := token.ChallengeKey(ch.Category, ch.ChallengeName)
		if _, dup := rows[key]; dup {
			continue
		}
		r := &row{
			challenge: ch,
			session: poller.NewSession(d.statusFetcher(key), rowRenderer{key: key, store: d.store},
				poller.WithPolicy(d.cfg.policy),
				poller.WithLogger(d.logger),
				poller.WithName(key),
			),
		}
		rows[key] = r
		ordered = append(ordered, r)
		storeRows = append(storeRows, store.Row{
			Key:           key,
			Category:      ch.Category,
			ChallengeName: ch.ChallengeName,
			Loading:       true,
			UpdatedAt:     now,
		})
	}

	d.mu.Lock()
	old := d.rows
	d.rows = rows
	base := d.base
	d.mu.Unlock()

	for _, r := range old {
		r.session.Stop()
	}
	d.store.Replace(storeRows)
	d.logger.Info("challenges loaded", "count", len(ordered))

	// sessions outlive the request that triggered a reload
	d.fanOut(base, ordered, func(r *row) {
		r.session.Start(base, true)
	})
	return nil
}

// fanOut runs fn for every row, at most maxConcurrency at a time.
func (d *Dashboard) fanOut(ctx context.Context, rows []*row, fn func(*row)) {
	if len(rows) == 0 {
		return
	}
	jobs := make(chan *row, len(rows))

	workers := min(d.cfg.maxConcurrency, len(rows))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				if ctx.Err() != nil {
					return
				}
				fn(r)
			}
		}()
	}

	for _, r := range rows {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
}

func (d *Dashboard) statusFetcher(key string) poller.Fetcher {
	return func(ctx context.Context) (deployer.Snapshot, error) {
		client, err := d.deployers.get(ctx)
		if err != nil {
			return deployer.Snapshot{}, err
		}
		tok, err := d.status.Token(ctx, key)
		if err != nil {
			return deployer.Snapshot{}, tokenFailure(ctx, err)
		}
		snap, err := client.Status(ctx, tok)
		invalidateOnAuth(err, d.status, key)
		return snap, err
	}
}

func (d *Dashboard) adminClient(ctx context.Context) (*deployer.Client, string, error) {
	// the platform's admin token answer may carry the deployer url
	tok, err := d.admin.Token(ctx, adminKey)
	if err != nil {
		return nil, "", err
	}
	client, err := d.deployers.get(ctx)
	if err != nil {
		return nil, "", err
	}
	return client, tok, nil
}

func (d *Dashboard) refreshErrors(ctx context.Context) error {
	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return err
	}
	entries, err := client.ListErrors(ctx, tok)
	if err != nil {
		invalidateOnAuth(err, d.admin, adminKey)
		return fmt.Errorf("list errors: %w", err)
	}
	d.store.SetErrors(entries)
	return nil
}

func (d *Dashboard) refreshTeams(ctx context.Context) error {
	client, tok, err := d.adminClient(ctx)
	if err != nil {
		return err
	}
	teams, err := client.ListTeams(ctx, tok)
	if err != nil {
		invalidateOnAuth(err, d.admin, adminKey)
		return fmt.Errorf("list teams: %w", err)
	}
	d.store.SetTeams(teams)
	return nil
}

// every runs fn now, then on each tick until ctx is done.
func (d *Dashboard) every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("aggregate refresh failed", "list", name, "error", err)
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (d *Dashboard) lookup(keys []string) ([]*row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := make([]*row, 0, len(keys))
	for _, key := range keys {
		r, ok := d.rows[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", server.ErrUnknownChallenge, key)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (d *Dashboard) snapshotRows() []*row {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := make([]*row, 0, len(d.rows))
	for _, r := range d.rows {
		rows = append(rows, r)
	}
	return rows
}

func (d *Dashboard) stopAll() {
	for _, r := range d.snapshotRows() {
		r.session.Stop()
	}
}

// rowRenderer renders a session into its dashboard row.
type rowRenderer struct {
	key   string
	store store.Store
}

func (r rowRenderer) Loading() {
	r.store.Modify(r.key, func(row *store.Row) {
		row.Loading = true
	})
}

func (r rowRenderer) Render(o Outcome) {
	r.store.Modify(r.key, func(row *store.Row) {
		row.Loading = false
		row.Outcome = o.Kind.String()
		row.ConnectionInfo = o.Snapshot.ConnectionInfo
		row.ExpirationTime = o.Snapshot.ExpirationTime
		row.Message = o.Message
		row.TimeLeft = ""
		row.UpdatedAt = time.Now()
	})
}

func (r rowRenderer) TimeLeft(remaining string) {
	r.store.Modify(r.key, func(row *store.Row) {
		row.TimeLeft = remaining
	})
}

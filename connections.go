package zync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/token"
)

const (
	defaultTitle          = "Zync"
	defaultPort           = 8080
	defaultMaxConcurrency = 10
	defaultErrorsInterval = 10 * time.Second
	defaultTeamsInterval  = 15 * time.Second
	defaultTokenTTL       = 2 * time.Hour
)

// ErrNoPlatform is returned when an operation needs the platform and none
// was configured.
var ErrNoPlatform = errors.New("no platform configured")

// newPlatform returns nil when no platform URL is configured.
func (cfg *zyncConfig) newPlatform() (*token.Platform, error) {
	if cfg.platformURL == "" {
		return nil, nil
	}
	p, err := token.NewPlatform(cfg.platformURL,
		token.WithSession(cfg.session),
		token.WithCSRFNonce(cfg.csrfNonce),
		token.WithAccessToken(cfg.accessToken),
		token.WithPlatformLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	return p, nil
}

func (cfg *zyncConfig) newDeployer(baseURL string) (*deployer.Client, error) {
	opts := []deployer.Option{
		deployer.WithLogger(cfg.logger),
		deployer.WithRateLimit(cfg.rateLimit, cfg.burst),
	}
	if cfg.deployerTimeout > 0 {
		opts = append(opts, deployer.WithTimeout(cfg.deployerTimeout))
	}
	return deployer.NewClient(baseURL, opts...)
}

// resolver hands out the deployer client, discovering its URL from the
// platform on first use when none is configured.
type resolver struct {
	cfg      *zyncConfig
	platform *token.Platform

	mu     sync.Mutex
	client *deployer.Client
}

func newResolver(cfg *zyncConfig, platform *token.Platform) (*resolver, error) {
	if cfg.deployerURL == "" && platform == nil {
		return nil, errors.New("a deployer url or a platform is required")
	}
	return &resolver{cfg: cfg, platform: platform}, nil
}

func (r *resolver) get(ctx context.Context) (*deployer.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	baseURL := r.cfg.deployerURL
	if baseURL == "" {
		discovered, err := r.platform.DeployerURL(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", deployer.ErrCancelled, err)
			}
			return nil, &deployer.NetworkError{Err: err}
		}
		baseURL = discovered
	}

	client, err := r.cfg.newDeployer(baseURL)
	if err != nil {
		return nil, fmt.Errorf("deployer: %w", err)
	}
	r.client = client
	return client, nil
}

// use installs a deployer URL learnt out of band (the admin token carries
// one). A configured URL wins.
func (r *resolver) use(baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil || r.cfg.deployerURL != "" || baseURL == "" {
		return nil
	}
	client, err := r.cfg.newDeployer(baseURL)
	if err != nil {
		return fmt.Errorf("deployer: %w", err)
	}
	r.client = client
	return nil
}

func (r *resolver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

// tokenFailure maps a token provider error to a deployer error so the
// session classifies it: cancelled if ctx is done, unauthorized otherwise.
func tokenFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", deployer.ErrCancelled, err)
	}
	return &deployer.AuthError{Message: fmt.Sprintf("unable to obtain a deployment token: %v", err)}
}

// invalidateOnAuth drops a rejected token so the next call fetches a fresh
// one.
func invalidateOnAuth(err error, tokens *token.Cache, key string) {
	var authErr *deployer.AuthError
	if errors.As(err, &authErr) {
		tokens.Invalidate(key)
	}
}

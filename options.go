package zync

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"
)

// zyncConfig holds mutable state during construction.
type zyncConfig struct {
	title string

	platformURL string
	session     string
	csrfNonce   string
	accessToken string

	deployerURL     string
	deployerTimeout time.Duration
	rateLimit       float64
	burst           int

	tokenFunc     func(ctx context.Context, key string) (string, error)
	signingSecret string
	tokenTTL      time.Duration

	policy         Policy
	port           int
	maxConcurrency int
	errorsInterval time.Duration
	teamsInterval  time.Duration

	logger *slog.Logger
}

// Option configures a [Watcher] or a [Dashboard] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, and the constructor returns that error.
type Option func(*zyncConfig) error

func newConfig(opts []Option) (*zyncConfig, error) {
	cfg := &zyncConfig{
		title:          defaultTitle,
		policy:         DefaultPolicy(),
		port:           defaultPort,
		maxConcurrency: defaultMaxConcurrency,
		errorsInterval: defaultErrorsInterval,
		teamsInterval:  defaultTeamsInterval,
		tokenTTL:       defaultTokenTTL,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithPlatform sets the base URL of the CTF platform that issues deployment
// tokens and knows where the deployer lives.
//
// Example:
//
//	w, err := zync.NewWatcher(ch, renderer,
//	    zync.WithPlatform("https://ctf.example.com"),
//	    zync.WithSession(os.Getenv("CTFD_SESSION")),
//	)
//
// Returns an error if the URL is not an absolute http(s) URL.
func WithPlatform(rawURL string) Option {
	return func(cfg *zyncConfig) error {
		if err := checkHTTPURL(rawURL); err != nil {
			return err
		}
		cfg.platformURL = rawURL
		return nil
	}
}

// WithSession sets the platform session cookie.
func WithSession(session string) Option {
	return func(cfg *zyncConfig) error {
		cfg.session = session
		return nil
	}
}

// WithCSRFNonce sets the platform CSRF nonce sent with POST requests.
func WithCSRFNonce(nonce string) Option {
	return func(cfg *zyncConfig) error {
		cfg.csrfNonce = nonce
		return nil
	}
}

// WithAccessToken sets a platform API access token, used instead of or
// alongside the session cookie.
func WithAccessToken(tok string) Option {
	return func(cfg *zyncConfig) error {
		cfg.accessToken = tok
		return nil
	}
}

// WithDeployerURL sets the deployer base URL. Without it the URL is asked
// from the platform on first use.
//
// Returns an error if the URL is not an absolute http(s) URL.
func WithDeployerURL(rawURL string) Option {
	return func(cfg *zyncConfig) error {
		if err := checkHTTPURL(rawURL); err != nil {
			return err
		}
		cfg.deployerURL = rawURL
		return nil
	}
}

// WithDeployerTimeout sets the per-request timeout towards the deployer.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithDeployerTimeout(d time.Duration) Option {
	return func(cfg *zyncConfig) error {
		if d <= 0 {
			return errors.New("deployer timeout must be positive")
		}
		cfg.deployerTimeout = d
		return nil
	}
}

// WithRateLimit bounds the request rate towards the deployer. A rate of zero
// disables limiting.
//
// Returns an error if the rate or the burst is negative.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cfg *zyncConfig) error {
		if perSecond < 0 {
			return errors.New("rate limit cannot be negative")
		}
		if burst < 0 {
			return errors.New("burst cannot be negative")
		}
		cfg.rateLimit = perSecond
		cfg.burst = burst
		return nil
	}
}

// WithTokenFunc replaces the platform as the source of deployment tokens.
// The key is the challenge id for a [Watcher], "category/name" for the
// status tokens of a [Dashboard] and "" for its admin token.
//
// Returns an error if f is nil.
func WithTokenFunc(f func(ctx context.Context, key string) (string, error)) Option {
	return func(cfg *zyncConfig) error {
		if f == nil {
			return errors.New("token func cannot be nil")
		}
		cfg.tokenFunc = f
		return nil
	}
}

// WithSigningSecret makes a [Dashboard] sign its admin tokens with the
// deployer's shared secret instead of asking the platform.
//
// Returns an error if the secret is empty.
func WithSigningSecret(secret string) Option {
	return func(cfg *zyncConfig) error {
		if secret == "" {
			return errors.New("signing secret cannot be empty")
		}
		cfg.signingSecret = secret
		return nil
	}
}

// WithPolicy sets the polling delays. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(cfg *zyncConfig) error {
		if p.ShortInterval < 0 || p.LongInterval < 0 || p.CountdownTick < 0 || p.ExpiryFollowUp < 0 {
			return errors.New("polling intervals cannot be negative")
		}
		cfg.policy = p
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
// Defaults to 8080.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *zyncConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency sets how many challenges the dashboard loads or
// refreshes at once. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *zyncConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithAggregateIntervals sets how often the dashboard refreshes the error
// list and the team list. Defaults to 10s and 15s.
//
// Returns an error if either duration is zero or negative.
func WithAggregateIntervals(errorsEvery, teamsEvery time.Duration) Option {
	return func(cfg *zyncConfig) error {
		if errorsEvery <= 0 || teamsEvery <= 0 {
			return errors.New("aggregate intervals must be positive")
		}
		cfg.errorsInterval = errorsEvery
		cfg.teamsInterval = teamsEvery
		return nil
	}
}

// WithTitle sets the dashboard title. Defaults to "Zync".
func WithTitle(title string) Option {
	return func(cfg *zyncConfig) error {
		if title != "" {
			cfg.title = title
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// If not provided, slog.Default() is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *zyncConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

func checkHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be an absolute http or https url")
	}
	return nil
}

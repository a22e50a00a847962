package config

import (
	"github.com/jpalmerr/zync"
)

// BuildOptions converts parsed configuration into SDK options, shared by
// [zync.NewWatcher] and [zync.NewDashboard].
func BuildOptions(cfg *Config) []zync.Option {
	var opts []zync.Option

	if cfg.Title != "" {
		opts = append(opts, zync.WithTitle(cfg.Title))
	}

	if cfg.Platform.URL != "" {
		opts = append(opts,
			zync.WithPlatform(cfg.Platform.URL),
			zync.WithSession(cfg.Platform.Session),
			zync.WithCSRFNonce(cfg.Platform.CSRFNonce),
			zync.WithAccessToken(cfg.Platform.AccessToken),
		)
	}

	if cfg.Deployer.URL != "" {
		opts = append(opts, zync.WithDeployerURL(cfg.Deployer.URL))
	}
	if cfg.Deployer.Timeout != 0 {
		opts = append(opts, zync.WithDeployerTimeout(cfg.Deployer.Timeout.Duration()))
	}
	if cfg.Deployer.RateLimit > 0 {
		opts = append(opts, zync.WithRateLimit(cfg.Deployer.RateLimit, cfg.Deployer.Burst))
	}

	opts = append(opts, zync.WithPolicy(zync.Policy{
		ShortInterval:  cfg.Polling.ShortInterval.Duration(),
		LongInterval:   cfg.Polling.LongInterval.Duration(),
		CountdownTick:  cfg.Polling.CountdownTick.Duration(),
		ExpiryFollowUp: cfg.Polling.ExpiryFollowUp.Duration(),
	}))

	return opts
}

// BuildDashboardOptions adds the dashboard section to [BuildOptions]. With
// a deployer secret the dashboard signs its own admin tokens.
func BuildDashboardOptions(cfg *Config) []zync.Option {
	opts := BuildOptions(cfg)
	opts = append(opts,
		zync.WithPort(cfg.Dashboard.Port),
		zync.WithMaxConcurrency(cfg.Dashboard.MaxConcurrency),
		zync.WithAggregateIntervals(cfg.Dashboard.ErrorsInterval.Duration(), cfg.Dashboard.TeamsInterval.Duration()),
	)
	if cfg.Deployer.Secret != "" {
		opts = append(opts, zync.WithSigningSecret(cfg.Deployer.Secret))
	}
	return opts
}

// BuildChallenge converts a challenge section, with overrides from the
// command line, into a [zync.Challenge]. Zero overrides keep the
// configured values.
func BuildChallenge(cc ChallengeConfig, override ChallengeConfig) (zync.Challenge, error) {
	if override.ID != 0 {
		cc.ID = override.ID
	}
	if override.Name != "" {
		cc.Name = override.Name
	}
	if override.Category != "" {
		cc.Category = override.Category
	}

	var opts []zync.ChallengeOption
	if cc.ID != 0 {
		opts = append(opts, zync.WithChallengeID(cc.ID))
	}
	return zync.NewChallenge(cc.Category, cc.Name, opts...)
}

// Package config provides YAML configuration parsing for zync.
//
// This package enables running zync as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	title: Example CTF
//
//	platform:
//	  url: https://ctf.example.com
//	  session: ${CTFD_SESSION}
//	  csrf_nonce: ${CTFD_NONCE:-}
//
//	deployer:
//	  timeout: 10s
//	  rate_limit: 20
//
//	polling:
//	  short_interval: 2s
//	  long_interval: 10s
//
//	dashboard:
//	  port: 8080
//	  max_concurrency: 10
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production configs.
// This prevents accidental DoS of the deployer with overly aggressive polling.
const minPollInterval = 1 * time.Second

// Defaults applied by [Parse].
const (
	DefaultPort           = 8080
	DefaultMaxConcurrency = 10
	DefaultErrorsInterval = 10 * time.Second
	DefaultTeamsInterval  = 15 * time.Second
)

// Config is the root configuration structure for zync.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "Zync" if not set.
	Title string `yaml:"title"`

	Platform  PlatformConfig  `yaml:"platform"`
	Deployer  DeployerConfig  `yaml:"deployer"`
	Polling   PollingConfig   `yaml:"polling"`
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Challenge is the default challenge of the player commands. Command
	// line flags override it.
	Challenge ChallengeConfig `yaml:"challenge"`
}

// PlatformConfig locates the CTF platform and the player's credentials.
//
// Every field supports environment variable substitution: ${VAR} or
// ${VAR:-default}.
type PlatformConfig struct {
	// URL is the platform base URL.
	URL string `yaml:"url"`

	// Session is the value of the platform session cookie.
	Session string `yaml:"session"`

	// CSRFNonce is sent as CSRF-Token with POST requests.
	CSRFNonce string `yaml:"csrf_nonce"`

	// AccessToken is a platform API token, sent as "Token <value>".
	AccessToken string `yaml:"access_token"`
}

// DeployerConfig tunes the deployer client.
type DeployerConfig struct {
	// URL is the deployer base URL. If empty it is discovered from the
	// platform. Supports environment variable substitution.
	URL string `yaml:"url"`

	// Secret is the deployer's signing secret, used by the dashboard and
	// the check command instead of platform admin tokens. Supports
	// environment variable substitution.
	Secret string `yaml:"secret"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// RateLimit is the request budget towards the deployer in requests per
	// second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the number of requests allowed above the rate.
	Burst int `yaml:"burst"`
}

// PollingConfig holds the polling cadence. Zero fields keep the defaults:
// 2s, 10s, 1s and 600ms.
type PollingConfig struct {
	// ShortInterval is the delay between polls of a starting or stopping
	// deployment.
	ShortInterval Duration `yaml:"short_interval"`

	// LongInterval is the delay before retrying after an error.
	LongInterval Duration `yaml:"long_interval"`

	// CountdownTick is the refresh period of the time-left display.
	CountdownTick Duration `yaml:"countdown_tick"`

	// ExpiryFollowUp is the delay of the poll issued once the countdown
	// reaches zero.
	ExpiryFollowUp Duration `yaml:"expiry_follow_up"`
}

// DashboardConfig configures the admin dashboard.
type DashboardConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// MaxConcurrency bounds the challenges loaded or refreshed at once.
	// Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ErrorsInterval is how often the error list is refreshed.
	// Defaults to 10s.
	ErrorsInterval Duration `yaml:"errors_interval"`

	// TeamsInterval is how often the team list is refreshed.
	// Defaults to 15s.
	TeamsInterval Duration `yaml:"teams_interval"`
}

// ChallengeConfig identifies a challenge.
type ChallengeConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the platform section and in the
// deployer url and secret. Defaults are applied to the dashboard section.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Dashboard.Port == 0 {
		cfg.Dashboard.Port = DefaultPort
	}
	if cfg.Dashboard.MaxConcurrency == 0 {
		cfg.Dashboard.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Dashboard.ErrorsInterval == 0 {
		cfg.Dashboard.ErrorsInterval = Duration(DefaultErrorsInterval)
	}
	if cfg.Dashboard.TeamsInterval == 0 {
		cfg.Dashboard.TeamsInterval = Duration(DefaultTeamsInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"platform.url", &c.Platform.URL},
		{"platform.session", &c.Platform.Session},
		{"platform.csrf_nonce", &c.Platform.CSRFNonce},
		{"platform.access_token", &c.Platform.AccessToken},
		{"deployer.url", &c.Deployer.URL},
		{"deployer.secret", &c.Deployer.Secret},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}

	if c.Platform.URL == "" && c.Deployer.URL == "" {
		return errors.New("platform.url or deployer.url is required")
	}
	if err := validateURL("platform.url", c.Platform.URL); err != nil {
		return err
	}
	if err := validateURL("deployer.url", c.Deployer.URL); err != nil {
		return err
	}

	if err := c.Deployer.validate(); err != nil {
		return err
	}
	if err := c.Polling.validate(); err != nil {
		return err
	}
	if err := c.Dashboard.validate(); err != nil {
		return err
	}

	if c.Challenge.ID < 0 {
		return fmt.Errorf("challenge.id cannot be negative, got %d", c.Challenge.ID)
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", field, err)
	}
	if parsedURL.Scheme == "" {
		return fmt.Errorf("%s: url must have a scheme (http:// or https://)", field)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: url scheme must be http or https, got %q", field, parsedURL.Scheme)
	}
	return nil
}

func (d DeployerConfig) validate() error {
	if d.Timeout != 0 && d.Timeout.Duration() < time.Second {
		return fmt.Errorf("deployer.timeout must be at least 1s if specified, got %s", d.Timeout.Duration())
	}
	if d.RateLimit < 0 {
		return fmt.Errorf("deployer.rate_limit cannot be negative, got %v", d.RateLimit)
	}
	if d.Burst < 0 {
		return fmt.Errorf("deployer.burst cannot be negative, got %d", d.Burst)
	}
	return nil
}

func (p PollingConfig) validate() error {
	intervals := []struct {
		name  string
		value Duration
		min   time.Duration
	}{
		{"polling.short_interval", p.ShortInterval, minPollInterval},
		{"polling.long_interval", p.LongInterval, minPollInterval},
		{"polling.countdown_tick", p.CountdownTick, 100 * time.Millisecond},
		{"polling.expiry_follow_up", p.ExpiryFollowUp, 0},
	}
	for _, iv := range intervals {
		if iv.value == 0 {
			continue
		}
		if iv.value.Duration() < 0 {
			return fmt.Errorf("%s cannot be negative, got %s", iv.name, iv.value.Duration())
		}
		if iv.value.Duration() < iv.min {
			return fmt.Errorf("%s must be at least %s if specified, got %s", iv.name, iv.min, iv.value.Duration())
		}
	}

	if p.ShortInterval != 0 && p.LongInterval != 0 && p.LongInterval < p.ShortInterval {
		return fmt.Errorf("polling.long_interval (%s) must not be shorter than polling.short_interval (%s)",
			p.LongInterval.Duration(), p.ShortInterval.Duration())
	}
	return nil
}

func (d DashboardConfig) validate() error {
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535, got %d", d.Port)
	}
	if d.MaxConcurrency < 1 {
		return fmt.Errorf("dashboard.max_concurrency must be positive, got %d", d.MaxConcurrency)
	}
	if d.ErrorsInterval.Duration() < minPollInterval {
		return fmt.Errorf("dashboard.errors_interval must be at least %s, got %s", minPollInterval, d.ErrorsInterval.Duration())
	}
	if d.TeamsInterval.Duration() < minPollInterval {
		return fmt.Errorf("dashboard.teams_interval must be at least %s, got %s", minPollInterval, d.TeamsInterval.Duration())
	}
	return nil
}

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPlatformTimeout = 10 * time.Second
	maxPlatformBodySize    = 64 << 10
)

// ErrPlatformUnauthorized is returned when the platform rejects the session.
var ErrPlatformUnauthorized = errors.New("platform rejected the session")

// Platform is a client for the zync endpoints of the CTFd platform.
//
// Authentication uses the CTFd session cookie and, for admin POSTs, the
// CSRF nonce; an API access token may be used instead of the cookie for the
// player endpoints.
type Platform struct {
	baseURL     string
	httpClient  *http.Client
	session     string
	csrfNonce   string
	accessToken string
	logger      *slog.Logger
}

// PlatformOption configures a [Platform].
type PlatformOption func(*Platform)

// WithSession sets the CTFd session cookie value.
func WithSession(session string) PlatformOption {
	return func(p *Platform) { p.session = session }
}

// WithCSRFNonce sets the nonce sent as CSRF-Token on POST requests.
func WithCSRFNonce(nonce string) PlatformOption {
	return func(p *Platform) { p.csrfNonce = nonce }
}

// WithAccessToken sets a CTFd API access token.
func WithAccessToken(tok string) PlatformOption {
	return func(p *Platform) { p.accessToken = tok }
}

// WithPlatformTimeout sets the per-request timeout.
func WithPlatformTimeout(d time.Duration) PlatformOption {
	return func(p *Platform) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithPlatformLogger sets the logger.
func WithPlatformLogger(logger *slog.Logger) PlatformOption {
	return func(p *Platform) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlatform creates a [Platform] client for the CTFd instance at baseURL.
func NewPlatform(baseURL string, opts ...PlatformOption) (*Platform, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid platform url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("platform url must be http or https, got %q", baseURL)
	}

	p := &Platform{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultPlatformTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AdminToken is the answer of the admin token endpoint.
type AdminToken struct {
	Token  string `json:"token"`
	APIURL string `json:"api_url"`
}

// StatusToken is the answer of the admin status token endpoint.
type StatusToken struct {
	Token       string `json:"token"`
	ChallengeID int    `json:"challenge_id"`
}

// DeployerURL asks the platform where the deployer lives.
func (p *Platform) DeployerURL(ctx context.Context) (string, error) {
	var out struct {
		DeployerURL string `json:"deployer_url"`
	}
	if err := p.call(ctx, http.MethodGet, "/api/v1/deploy/url", nil, &out); err != nil {
		return "", fmt.Errorf("deployer url: %w", err)
	}
	if out.DeployerURL == "" {
		return "", errors.New("deployer url: missing from platform response")
	}
	return out.DeployerURL, nil
}

// PlayerToken requests a deployment token for the current player and the
// given challenge.
func (p *Platform) PlayerToken(ctx context.Context, challengeID int) (string, error) {
	body := map[string]int{"challenge_id": challengeID}
	var out struct {
		Token string `json:"token"`
	}
	if err := p.call(ctx, http.MethodPost, "/api/v1/deploy/token", body, &out); err != nil {
		return "", fmt.Errorf("player token: %w", err)
	}
	return out.Token, nil
}

// AdminToken requests the admin token used for the dashboard's bulk calls,
// along with the deployer URL.
func (p *Platform) AdminToken(ctx context.Context) (AdminToken, error) {
	var out AdminToken
	if err := p.call(ctx, http.MethodGet, "/admin/zync_token", nil, &out); err != nil {
		return AdminToken{}, fmt.Errorf("admin token: %w", err)
	}
	if out.Token == "" {
		return AdminToken{}, fmt.Errorf("admin token: %w", ErrEmptyToken)
	}
	return out, nil
}

// StatusToken requests an admin token scoped to one challenge, used to read
// that challenge's status.
func (p *Platform) StatusToken(ctx context.Context, category, challengeName string) (StatusToken, error) {
	body := map[string]string{"category": category, "challenge_name": challengeName}
	var out StatusToken
	if err := p.call(ctx, http.MethodPost, "/admin/zync_status_token", body, &out); err != nil {
		return StatusToken{}, fmt.Errorf("status token: %w", err)
	}
	return out, nil
}

// PlayerSource returns a [Source] whose keys are challenge ids.
func (p *Platform) PlayerSource() Source {
	return SourceFunc(func(ctx context.Context, key string) (string, error) {
		id, err := strconv.Atoi(key)
		if err != nil {
			return "", fmt.Errorf("invalid challenge id %q: %w", key, err)
		}
		return p.PlayerToken(ctx, id)
	})
}

func (p *Platform) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.session != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: p.session})
	}
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Token "+p.accessToken)
	}
	if method != http.MethodGet && p.csrfNonce != "" {
		req.Header.Set("CSRF-Token", p.csrfNonce)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlatformBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrPlatformUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		p.logger.Warn("platform request failed",
			"method", method,
			"path", path,
			"status_code", resp.StatusCode,
		)
		return fmt.Errorf("platform answered %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		// CTFd redirects unauthenticated users to the login page with a 200
		return fmt.Errorf("invalid platform response: %w", err)
	}
	return nil
}

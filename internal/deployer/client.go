package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxResponseBodySize = 1 << 20 // 1MB

const defaultTimeout = 10 * time.Second

// connection pooling limits; the admin dashboard fans out over every challenge
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Client talks to one deployer instance.
//
// Client uses per-request timeouts via context rather than a global timeout,
// so a caller's cancellation and the request deadline are distinguishable:
// the former yields [ErrCancelled], the latter a [NetworkError].
// Response bodies are limited to 1MB.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithTimeout sets the per-request timeout. Defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit bounds the request rate towards the deployer. A limit of
// zero or less disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a [Client] for the deployer at baseURL.
//
// Returns an error if baseURL is not an absolute http(s) URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid deployer url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("deployer url must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes idle connections. The client remains usable.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

// Status fetches the deployment status for the entity the token is bound to.
//
// A 200 whose body cannot be decoded yields a snapshot with [StatusUnknown]
// rather than an error.
func (c *Client) Status(ctx context.Context, token string) (Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status", token, nil)
	if err != nil {
		return Snapshot{}, err
	}
	if !resp.ok() {
		return Snapshot{}, resp.err()
	}
	return decodeSnapshot(resp.body), nil
}

// Deploy asks the deployer to start an instance.
func (c *Client) Deploy(ctx context.Context, token string, req DeployRequest) (DeployState, error) {
	resp, err := c.do(ctx, http.MethodPost, "/deploy", token, req)
	if err != nil {
		return 0, err
	}
	switch resp.statusCode {
	case http.StatusAccepted:
		return DeployAccepted, nil
	case http.StatusConflict:
		return DeployInProgress, nil
	}
	if resp.ok() {
		return 0, &ClientError{StatusCode: resp.statusCode, Message: "unexpected response"}
	}
	return 0, resp.err()
}

// Extend adds time to a running instance and returns the updated snapshot.
func (c *Client) Extend(ctx context.Context, token string) (Snapshot, error) {
	resp, err := c.do(ctx, http.MethodPost, "/extend", token, nil)
	if err != nil {
		return Snapshot{}, err
	}
	if !resp.ok() {
		return Snapshot{}, resp.err()
	}
	snap := decodeSnapshot(resp.body)
	if snap.Status == StatusUnknown {
		// extend only succeeds on running instances; the body may omit status
		snap.Status = StatusRunning
	}
	return snap, nil
}

// Terminate asks the deployer to stop the instance.
func (c *Client) Terminate(ctx context.Context, token string, req DeployRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/terminate", token, req)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	return nil
}

// ListChallenges returns the challenges the deployer can instantiate for the
// admin dashboard.
func (c *Client) ListChallenges(ctx context.Context, token string) ([]Challenge, error) {
	var out []Challenge
	if err := c.getJSON(ctx, "/admin/list-unique-challs", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListErrors returns the deployments currently in error, across teams.
func (c *Client) ListErrors(ctx context.Context, token string) ([]ErrorEntry, error) {
	var out []ErrorEntry
	if err := c.getJSON(ctx, "/admin/list-errors", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTeams returns the per-team deployments.
func (c *Client) ListTeams(ctx context.Context, token string) ([]TeamDeployment, error) {
	var out []TeamDeployment
	if err := c.getJSON(ctx, "/admin/list-teams", token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminDeploy deploys one challenge with an admin token.
func (c *Client) AdminDeploy(ctx context.Context, token string, ch Challenge) error {
	return c.postOK(ctx, "/admin/deploy", token, DeployRequest{ChallengeName: ch.ChallengeName, Category: ch.Category})
}

// AdminTerminate terminates one challenge with an admin token.
func (c *Client) AdminTerminate(ctx context.Context, token string, ch Challenge) error {
	return c.postOK(ctx, "/admin/terminate", token, DeployRequest{ChallengeName: ch.ChallengeName, Category: ch.Category})
}

// DeployAll deploys every challenge and returns how many were queued.
func (c *Client) DeployAll(ctx context.Context, token string) (int, error) {
	return c.bulk(ctx, "/admin/deploy-all", token)
}

// TerminateAll terminates every challenge and returns how many were queued.
func (c *Client) TerminateAll(ctx context.Context, token string) (int, error) {
	return c.bulk(ctx, "/admin/terminate-all", token)
}

// ReloadChallenges makes the deployer re-read its challenge definitions.
func (c *Client) ReloadChallenges(ctx context.Context, token string) error {
	return c.postOK(ctx, "/admin/reload-challs", token, nil)
}

// ConfigCheck verifies that the deployer accepts the token. A 401 means the
// signing secret differs; a 403 means the token role is not admin.
func (c *Client) ConfigCheck(ctx context.Context, token string) error {
	return c.postOK(ctx, "/admin/config_check", token, nil)
}

func (c *Client) bulk(ctx context.Context, path, token string) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, path, token, nil)
	if err != nil {
		return 0, err
	}
	if !resp.ok() {
		return 0, resp.err()
	}
	var out bulkResult
	if err := json.Unmarshal(resp.body, &out); err != nil {
		// the bulk call succeeded; the count is informational
		return 0, nil
	}
	return out.ChallengesCount, nil
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return &ServerError{StatusCode: resp.statusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}

func (c *Client) postOK(ctx context.Context, path, token string, body any) error {
	resp, err := c.do(ctx, http.MethodPost, path, token, body)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	return nil
}

// response is a fully read HTTP response.
type response struct {
	statusCode  int
	contentType string
	body        []byte
}

func (r response) ok() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

func (r response) err() error {
	return errorForResponse(r.statusCode, r.body, r.contentType)
}

// do performs one request. The returned error is always one of ErrCancelled
// (wrapped) or *NetworkError; HTTP-level failures are left to the caller.
func (c *Client) do(ctx context.Context, method, path, token string, body any) (response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return response{}, fmt.Errorf("%s %s: %w", method, path, ErrCancelled)
			}
			return response{}, &NetworkError{Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return response{}, &NetworkError{Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, &NetworkError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, fmt.Errorf("%s %s: %w", method, path, ErrCancelled)
		}
		c.logger.Debug("deployer request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return response{}, &NetworkError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return response{}, fmt.Errorf("%s %s: %w", method, path, ErrCancelled)
		}
		return response{}, &NetworkError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.Debug("deployer request",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"request_id", requestID,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return response{
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

// decodeSnapshot decodes a status body, falling back to an unknown snapshot.
func decodeSnapshot(body []byte) Snapshot {
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{Status: StatusUnknown, ExtensionTime: defaultExtensionTime}
	}
	return snap
}

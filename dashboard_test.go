package zync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/server"
)

// adminDeployer is a fake deployer for the dashboard. Status tokens are
// "tok:<key>" so the status route knows which challenge is asked.
type adminDeployer struct {
	*fakeDeployer

	mu         sync.Mutex
	challenges []deployer.Challenge
	states     map[string]string
	deployed   []deployer.DeployRequest
}

func newAdminDeployer(t *testing.T) (*adminDeployer, *httptest.Server) {
	t.Helper()
	fd, ts := newFakeDeployer(t)
	ad := &adminDeployer{
		fakeDeployer: fd,
		challenges: []deployer.Challenge{
			{Category: "web", ChallengeName: "blog"},
			{Category: "crypto", ChallengeName: "rsa"},
		},
		states: map[string]string{"web/blog": "running"},
	}

	fd.handle("/admin/list-unique-challs", func(w http.ResponseWriter, _ *http.Request) {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ad.challenges)
	})
	fd.handle("/status", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok:")
		ad.mu.Lock()
		state, ok := ad.states[key]
		ad.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		reply(http.StatusOK, fmt.Sprintf(`{"status":%q}`, state))(w, r)
	})
	fd.handle("/admin/deploy", func(w http.ResponseWriter, r *http.Request) {
		var req deployer.DeployRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		ad.mu.Lock()
		ad.deployed = append(ad.deployed, req)
		ad.states[req.Category+"/"+req.ChallengeName] = "starting"
		ad.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	fd.handle("/admin/terminate", reply(http.StatusOK, ""))
	fd.handle("/admin/deploy-all", reply(http.StatusOK, `{"challenges_count":2}`))
	fd.handle("/admin/terminate-all", reply(http.StatusOK, `{"challenges_count":2}`))
	fd.handle("/admin/reload-challs", func(w http.ResponseWriter, _ *http.Request) {
		ad.mu.Lock()
		ad.challenges = append(ad.challenges, deployer.Challenge{Category: "pwn", ChallengeName: "heap"})
		ad.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	fd.handle("/admin/list-errors", reply(http.StatusOK, `[{"team_id":"3","category":"web","challenge_name":"blog","error":"image pull failed"}]`))
	fd.handle("/admin/list-teams", reply(http.StatusOK, `[{"team_id":"3","category":"web","challenge_name":"blog","status":"running"}]`))
	return ad, ts
}

func keyedToken(_ context.Context, key string) (string, error) {
	return "tok:" + key, nil
}

// startDashboard runs d.Start in the background until the test ends.
func startDashboard(t *testing.T, d *Dashboard) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return after context cancellation")
		}
	})

	eventually(t, "dashboard to load", func() bool {
		rows := d.Rows()
		if len(rows) == 0 {
			return false
		}
		for _, r := range rows {
			if r.Outcome == "" {
				return false
			}
		}
		return true
	})
}

func newTestDashboard(t *testing.T, deployerURL string, port int, opts ...Option) *Dashboard {
	t.Helper()
	base := []Option{
		WithDeployerURL(deployerURL),
		WithTokenFunc(keyedToken),
		WithPort(port),
		WithPolicy(fastPolicy()),
		WithMaxConcurrency(2),
		WithAggregateIntervals(50*time.Millisecond, 50*time.Millisecond),
		WithLogger(testLogger()),
	}
	d, err := NewDashboard(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewDashboard() error = %v", err)
	}
	return d
}

func rowOutcome(d *Dashboard, key string) string {
	for _, r := range d.Rows() {
		if r.Key == key {
			return r.Outcome
		}
	}
	return ""
}

func TestNewDashboard_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no token source", []Option{WithDeployerURL("http://deployer")}},
		{"no deployer", []Option{WithSigningSecret("secret")}},
		{"empty secret", []Option{WithDeployerURL("http://deployer"), WithSigningSecret("")}},
		{"bad port", []Option{WithDeployerURL("http://deployer"), WithTokenFunc(keyedToken), WithPort(70000)}},
		{"bad concurrency", []Option{WithDeployerURL("http://deployer"), WithTokenFunc(keyedToken), WithMaxConcurrency(0)}},
		{"bad intervals", []Option{WithDeployerURL("http://deployer"), WithTokenFunc(keyedToken), WithAggregateIntervals(0, time.Second)}},
		{"nil logger", []Option{WithDeployerURL("http://deployer"), WithTokenFunc(keyedToken), WithLogger(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDashboard(tt.opts...); err == nil {
				t.Error("NewDashboard() expected error, got nil")
			}
		})
	}
}

func TestDashboard_StartLoadsRows(t *testing.T) {
	_, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19101)
	startDashboard(t, d)

	rows := d.Rows()
	if len(rows) != 2 {
		t.Fatalf("len(Rows()) = %d, want 2", len(rows))
	}
	if rows[0].Key != "crypto/rsa" || rows[1].Key != "web/blog" {
		t.Errorf("row order = %s, %s, want crypto/rsa, web/blog", rows[0].Key, rows[1].Key)
	}
	if rows[0].Outcome != "not_deployed" {
		t.Errorf("crypto/rsa outcome = %q, want not_deployed", rows[0].Outcome)
	}
	if rows[1].Outcome != "running" {
		t.Errorf("web/blog outcome = %q, want running", rows[1].Outcome)
	}

	eventually(t, "aggregate lists", func() bool {
		return len(d.Errors()) == 1 && len(d.Teams()) == 1
	})
	if got := d.Errors()[0].Message; got != "image pull failed" {
		t.Errorf("Errors()[0].Message = %q, want %q", got, "image pull failed")
	}
}

func TestDashboard_ServesAPI(t *testing.T) {
	_, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19102)
	startDashboard(t, d)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/challenges", d.Port()))
	if err != nil {
		t.Fatalf("GET /api/challenges error = %v", err)
	}
	defer resp.Body.Close()

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("len(rows) = %d, want 2", len(rows))
	}
}

func TestDashboard_Deploy(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19103)
	startDashboard(t, d)

	if err := d.Deploy(context.Background(), "crypto/rsa"); err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	eventually(t, "crypto/rsa to start", func() bool {
		return rowOutcome(d, "crypto/rsa") == "starting"
	})

	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.deployed) != 1 || ad.deployed[0].ChallengeName != "rsa" || ad.deployed[0].Category != "crypto" {
		t.Errorf("deployed = %+v, want one crypto/rsa", ad.deployed)
	}
	for _, auth := range ad.authHeaders() {
		if auth == "" {
			t.Error("request without Authorization header")
		}
	}
}

func TestDashboard_DeployUnknownChallenge(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19104)
	startDashboard(t, d)

	err := d.Deploy(context.Background(), "web/blog", "misc/nope")
	if !errors.Is(err, server.ErrUnknownChallenge) {
		t.Errorf("Deploy() error = %v, want ErrUnknownChallenge", err)
	}
	if got := ad.count("/admin/deploy"); got != 0 {
		t.Errorf("deploy calls = %d, want 0", got)
	}
}

func TestDashboard_BulkActions(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19105)
	startDashboard(t, d)

	n, err := d.DeployAll(context.Background())
	if err != nil {
		t.Fatalf("DeployAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeployAll() = %d, want 2", n)
	}

	n, err = d.TerminateAll(context.Background())
	if err != nil {
		t.Fatalf("TerminateAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("TerminateAll() = %d, want 2", n)
	}
	if got := ad.count("/admin/terminate-all"); got != 1 {
		t.Errorf("terminate-all calls = %d, want 1", got)
	}
}

func TestDashboard_ActionError(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	ad.handle("/admin/terminate", reply(http.StatusInternalServerError, `{"message":"stuck"}`))
	d := newTestDashboard(t, ts.URL, 19106)
	startDashboard(t, d)

	err := d.Terminate(context.Background(), "web/blog")
	var serverErr *deployer.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Terminate() error = %v, want ServerError", err)
	}
	if serverErr.Message != "stuck" {
		t.Errorf("Message = %q, want %q", serverErr.Message, "stuck")
	}
	if got := rowOutcome(d, "web/blog"); got != "running" {
		t.Errorf("web/blog outcome = %q, want running", got)
	}
}

func TestDashboard_Reload(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19107)
	startDashboard(t, d)

	if err := d.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := ad.count("/admin/reload-challs"); got != 1 {
		t.Errorf("reload calls = %d, want 1", got)
	}

	rows := d.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(Rows()) = %d, want 3", len(rows))
	}
	if rows[1].Key != "pwn/heap" || rows[1].Outcome != "not_deployed" {
		t.Errorf("rows[1] = %s %q, want pwn/heap not_deployed", rows[1].Key, rows[1].Outcome)
	}
}

func TestDashboard_ConcurrentReloadsLeaveNoStraySessions(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	ad.mu.Lock()
	ad.states = map[string]string{"web/blog": "starting", "crypto/rsa": "starting", "pwn/heap": "starting"}
	ad.mu.Unlock()

	d := newTestDashboard(t, ts.URL, 19113)
	t.Cleanup(d.stopAll)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.Reload(ctx); err != nil {
					t.Errorf("Reload() error = %v", err)
				}
			}()
		}
		wg.Wait()

		d.stopAll()
		time.Sleep(60 * time.Millisecond)
		before := ad.count("/status")
		time.Sleep(150 * time.Millisecond)
		if after := ad.count("/status"); after != before {
			t.Fatalf("round %d: %d status polls after every session was stopped", round, after-before)
		}
	}
}

func TestDashboard_Refresh(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19108)
	startDashboard(t, d)

	before := ad.count("/status")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if after := ad.count("/status"); after < before+2 {
		t.Errorf("status polls = %d, want at least %d", after, before+2)
	}
}

func TestDashboard_AdminTokenFailure(t *testing.T) {
	_, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19109, WithTokenFunc(func(_ context.Context, key string) (string, error) {
		if key == "" {
			return "", errors.New("no admin session")
		}
		return "tok:" + key, nil
	}))

	if err := d.Start(context.Background()); err == nil {
		t.Error("Start() expected error, got nil")
	}
}

func TestDashboard_StartReturnsIfContextAlreadyCancelled(t *testing.T) {
	_, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19110)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.Start(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return with already-cancelled context")
	}
}

func TestDashboard_PlatformTokens(t *testing.T) {
	ad, ts := newAdminDeployer(t)
	ad.handle("/status", reply(http.StatusNotFound, ""))

	var statusRequests sync.Map
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/admin/zync_token":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "admin-tok", "api_url": ts.URL})
		case "/admin/zync_status_token":
			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			_ = json.Unmarshal(body, &req)
			statusRequests.Store(req["category"]+"/"+req["challenge_name"], r.Header.Get("CSRF-Token"))
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "status-tok", "challenge_id": 7})
		default:
			http.NotFound(w, r)
		}
	}))
	defer platform.Close()

	d, err := NewDashboard(
		WithPlatform(platform.URL),
		WithSession("sess"),
		WithCSRFNonce("nonce"),
		WithPort(19111),
		WithPolicy(fastPolicy()),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewDashboard() error = %v", err)
	}
	startDashboard(t, d)

	for _, r := range d.Rows() {
		if r.ChallengeID != 7 {
			t.Errorf("%s ChallengeID = %d, want 7", r.Key, r.ChallengeID)
		}
		nonce, ok := statusRequests.Load(r.Key)
		if !ok || nonce != "nonce" {
			t.Errorf("%s status token request nonce = %v, want nonce", r.Key, nonce)
		}
	}
	if got := ad.count("/admin/list-unique-challs"); got != 1 {
		t.Errorf("list calls = %d, want 1", got)
	}
}

func TestRowRenderer(t *testing.T) {
	_, ts := newAdminDeployer(t)
	d := newTestDashboard(t, ts.URL, 19112)
	d.store.Replace([]Row{{Key: "web/blog", Category: "web", ChallengeName: "blog"}})

	r := rowRenderer{key: "web/blog", store: d.store}
	r.Loading()
	if row, _ := d.store.Get("web/blog"); !row.Loading {
		t.Error("Loading() did not mark the row")
	}

	exp := time.Now().Add(time.Hour)
	r.Render(Outcome{Kind: KindRunning, Snapshot: Snapshot{Status: StatusRunning, ConnectionInfo: "nc x 1", ExpirationTime: &exp}})
	r.TimeLeft("59m 59s")

	row, _ := d.store.Get("web/blog")
	if row.Loading || row.Outcome != "running" || row.ConnectionInfo != "nc x 1" || row.TimeLeft != "59m 59s" {
		t.Errorf("row = %+v", row)
	}

	r.Render(Outcome{Kind: KindServerError, Message: "boom"})
	row, _ = d.store.Get("web/blog")
	if row.Outcome != "server_error" || row.Message != "boom" || row.TimeLeft != "" || row.ConnectionInfo != "" {
		t.Errorf("row after error = %+v", row)
	}
}

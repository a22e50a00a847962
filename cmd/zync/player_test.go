package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeCTF plays both the platform and the deployer.
type fakeCTF struct {
	mu       sync.Mutex
	running  bool
	deploys  int
	statuses int
}

func newFakeCTF(t *testing.T) (*fakeCTF, *httptest.Server) {
	t.Helper()
	f := &fakeCTF{}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeCTF) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v1/deploy/token":
		_, _ = w.Write([]byte(`{"token":"player-tok"}`))
	case "/status":
		f.statuses++
		if !f.running {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no deployment"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "running",
			"connection_info": "nc host 1337",
			"expiration_time": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			"extensions_left": 2,
			"unique":          false,
		})
	case "/deploy":
		f.deploys++
		f.running = true
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{}`))
	case "/extend":
		if !f.running {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"running","connection_info":"nc host 1337","extensions_left":1}`))
	case "/terminate":
		f.running = false
		_, _ = w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCTF) setRunning(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = running
}

func playerConfig(t *testing.T, url string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf(`
platform:
  url: %s
  session: sess
deployer:
  url: %s
polling:
  short_interval: 1s
  long_interval: 1s
challenge:
  id: 3
  name: login
  category: web
`, url, url))
}

func TestStatus_NotDeployed(t *testing.T) {
	_, ts := newFakeCTF(t)

	output, err := executeCmd(t, "status", "-c", playerConfig(t, ts.URL), "--id", "3")
	if err != nil {
		t.Fatalf("status command error = %v", err)
	}
	if strings.TrimSpace(output) != "Not deployed" {
		t.Errorf("output = %q, want %q", output, "Not deployed")
	}
}

func TestStatus_Running(t *testing.T) {
	f, ts := newFakeCTF(t)
	f.setRunning(true)

	output, err := executeCmd(t, "status", "-c", playerConfig(t, ts.URL), "--id", "3")
	if err != nil {
		t.Fatalf("status command error = %v", err)
	}
	if !strings.Contains(output, "Running: nc host 1337 (2 extensions left)") {
		t.Errorf("output = %q, want running line", output)
	}
}

func TestStatus_NeedsChallenge(t *testing.T) {
	_, ts := newFakeCTF(t)
	configPath := writeConfig(t, fmt.Sprintf("deployer:\n  url: %s\n", ts.URL))

	_, err := executeCmd(t, "status", "-c", configPath, "--id", "0", "--name", "", "--category", "")
	if err == nil {
		t.Fatal("status command expected error without a challenge, got nil")
	}
	if !strings.Contains(err.Error(), "invalid challenge") {
		t.Errorf("error should mention 'invalid challenge', got: %v", err)
	}
}

func TestDeploy_WaitsUntilRunning(t *testing.T) {
	f, ts := newFakeCTF(t)

	output, err := executeCmd(t, "deploy", "-c", playerConfig(t, ts.URL), "--id", "3", "--wait", "10s")
	if err != nil {
		t.Fatalf("deploy command error = %v", err)
	}

	for _, want := range []string{"Not deployed", "Deploying...", "Running: nc host 1337"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\nGot: %s", want, output)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deploys != 1 {
		t.Errorf("deploys = %d, want 1", f.deploys)
	}
}

func TestDeploy_NoWait(t *testing.T) {
	f, ts := newFakeCTF(t)

	output, err := executeCmd(t, "deploy", "-c", playerConfig(t, ts.URL), "--id", "3", "--wait", "0")
	if err != nil {
		t.Fatalf("deploy command error = %v", err)
	}
	if strings.Contains(output, "Running") {
		t.Errorf("output = %q, want no running line without waiting", output)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses != 1 {
		t.Errorf("status fetches = %d, want 1", f.statuses)
	}
}

func TestExtend(t *testing.T) {
	f, ts := newFakeCTF(t)
	f.setRunning(true)

	output, err := executeCmd(t, "extend", "-c", playerConfig(t, ts.URL), "--id", "3")
	if err != nil {
		t.Fatalf("extend command error = %v", err)
	}
	if !strings.Contains(output, "(1 extensions left)") {
		t.Errorf("output = %q, want updated extensions", output)
	}
}

func TestTerminate_WaitsUntilGone(t *testing.T) {
	f, ts := newFakeCTF(t)
	f.setRunning(true)

	output, err := executeCmd(t, "terminate", "-c", playerConfig(t, ts.URL), "--id", "3", "--wait", "10s")
	if err != nil {
		t.Fatalf("terminate command error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if last := lines[len(lines)-1]; last != "Not deployed" {
		t.Errorf("last line = %q, want %q\nGot: %s", last, "Not deployed", output)
	}
	if !strings.Contains(output, "Stopping...") {
		t.Errorf("output missing stopping line\nGot: %s", output)
	}
}

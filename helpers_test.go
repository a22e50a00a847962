package zync

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy keeps the state machine cadence but shrinks the delays.
func fastPolicy() Policy {
	return Policy{
		ShortInterval:  20 * time.Millisecond,
		LongInterval:   50 * time.Millisecond,
		CountdownTick:  time.Second,
		ExpiryFollowUp: 20 * time.Millisecond,
	}
}

// fakeDeployer routes requests by path and counts them.
type fakeDeployer struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
	auth     []string
}

func newFakeDeployer(t *testing.T) (*fakeDeployer, *httptest.Server) {
	t.Helper()
	f := &fakeDeployer{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
	}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeDeployer) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeDeployer) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeDeployer) authHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.auth...)
}

func (f *fakeDeployer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

// reply answers with code and, if body is set, a JSON body.
func reply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

// recorder is a Renderer that keeps every call.
type recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	loadings int
	timeLeft []string
	notify   chan Outcome
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan Outcome, 100)}
}

func (r *recorder) Loading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadings++
}

func (r *recorder) Render(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	select {
	case r.notify <- o:
	default:
	}
}

func (r *recorder) TimeLeft(remaining string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeLeft = append(r.timeLeft, remaining)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.outcomes))
	for i, o := range r.outcomes {
		kinds[i] = o.Kind
	}
	return kinds
}

func (r *recorder) last() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return Outcome{Kind: KindCancelled}
	}
	return r.outcomes[len(r.outcomes)-1]
}

// waitFor consumes rendered outcomes until one of the given kind shows up.
func (r *recorder) waitFor(t *testing.T, kind Kind) Outcome {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case o := <-r.notify:
			if o.Kind == kind {
				return o
			}
		case <-timeout:
			t.Fatalf("no %s outcome rendered, got %v", kind, r.kinds())
			return Outcome{}
		}
	}
}

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

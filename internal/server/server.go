package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/zync/internal/store"
)

const (
	// writeTimeout is the maximum time allowed for a single SSE or WebSocket
	// write. Must be <= shutdown timeout to ensure clean shutdown.
	writeTimeout = 5 * time.Second

	// actionTimeout bounds one dashboard action towards the deployer.
	actionTimeout = 30 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Zync"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// ErrUnknownChallenge is returned by [Actions] for a key the dashboard does
// not track. The server answers 404.
var ErrUnknownChallenge = errors.New("unknown challenge")

// Actions are the operations the dashboard page can trigger.
//
// Keys are "category/challenge_name".
type Actions interface {
	Deploy(ctx context.Context, keys ...string) error
	Terminate(ctx context.Context, keys ...string) error
	DeployAll(ctx context.Context) (int, error)
	TerminateAll(ctx context.Context) (int, error)
	Reload(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// Server handles HTTP requests for the admin dashboard and its API.
//
// Read routes:
//   - GET /: Serves the embedded dashboard HTML
//   - GET /api/challenges, /api/errors, /api/teams: JSON snapshots
//   - GET /api/sse: Server-Sent Events stream of store events
//   - GET /api/ws: the same stream over a WebSocket
//
// Action routes (POST, only when [Actions] is set):
//   - /api/challenges/{category}/{name}/deploy and .../terminate
//   - /api/deploy and /api/terminate with {"keys": [...]}
//   - /api/deploy-all, /api/terminate-all, /api/reload, /api/refresh
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	actions    Actions
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store holding the dashboard state
//   - actions: Dashboard operations (may be nil for a read-only server)
//   - port: TCP port to listen on
//   - assets: Embedded filesystem containing dashboard assets (may be nil)
//   - title: Dashboard title (defaults to "Zync" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, actions Actions, port int, assets fs.FS, title string, logger *slog.Logger) *Server {
	return &Server{
		store:   st,
		actions: actions,
		port:    port,
		assets:  assets,
		title:   title,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/challenges", s.handleChallenges).Methods(http.MethodGet)
	api.HandleFunc("/errors", s.handleErrors).Methods(http.MethodGet)
	api.HandleFunc("/teams", s.handleTeams).Methods(http.MethodGet)
	api.HandleFunc("/sse", s.handleSSE).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	if s.actions != nil {
		api.HandleFunc("/challenges/{category}/{name}/deploy", s.handleDeployOne).Methods(http.MethodPost)
		api.HandleFunc("/challenges/{category}/{name}/terminate", s.handleTerminateOne).Methods(http.MethodPost)
		api.HandleFunc("/deploy", s.handleDeploySelected).Methods(http.MethodPost)
		api.HandleFunc("/terminate", s.handleTerminateSelected).Methods(http.MethodPost)
		api.HandleFunc("/deploy-all", s.handleDeployAll).Methods(http.MethodPost)
		api.HandleFunc("/terminate-all", s.handleTerminateAll).Methods(http.MethodPost)
		api.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
		api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	}

	if s.assets != nil {
		router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	}

	return router
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Errors())
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Teams())
}

// snapshot is sent to every new stream before live events.
func (s *Server) snapshot() []store.Event {
	return []store.Event{
		{Type: store.EventReset, Rows: s.store.GetAll()},
		{Type: store.EventErrors, Errors: s.store.Errors()},
		{Type: store.EventTeams, Teams: s.store.Teams()},
	}
}

// handleSSE streams store events via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// subscribe before the snapshot so no event falls in between
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, ev := range s.snapshot() {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// handleWS streams store events over a WebSocket. Messages from the client
// are read and discarded; reading is how a close is noticed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev store.Event) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(ev)
	}

	for _, ev := range s.snapshot() {
		if err := write(ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// actionResponse is the body of every action route.
type actionResponse struct {
	OK    bool   `json:"ok"`
	Count *int   `json:"count,omitempty"`
	Error string `json:"error,omitempty"`
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleDeployOne(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	s.runAction(w, r, "deploy", func(ctx context.Context) (*int, error) {
		return nil, s.actions.Deploy(ctx, key)
	})
}

func (s *Server) handleTerminateOne(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	s.runAction(w, r, "terminate", func(ctx context.Context) (*int, error) {
		return nil, s.actions.Terminate(ctx, key)
	})
}

func (s *Server) handleDeploySelected(w http.ResponseWriter, r *http.Request) {
	keys, ok := s.decodeKeys(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, "deploy selected", func(ctx context.Context) (*int, error) {
		n := len(keys)
		return &n, s.actions.Deploy(ctx, keys...)
	})
}

func (s *Server) handleTerminateSelected(w http.ResponseWriter, r *http.Request) {
	keys, ok := s.decodeKeys(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, "terminate selected", func(ctx context.Context) (*int, error) {
		n := len(keys)
		return &n, s.actions.Terminate(ctx, keys...)
	})
}

func (s *Server) handleDeployAll(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "deploy all", func(ctx context.Context) (*int, error) {
		n, err := s.actions.DeployAll(ctx)
		return &n, err
	})
}

func (s *Server) handleTerminateAll(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "terminate all", func(ctx context.Context) (*int, error) {
		n, err := s.actions.TerminateAll(ctx)
		return &n, err
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "reload", func(ctx context.Context) (*int, error) {
		return nil, s.actions.Reload(ctx)
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "refresh", func(ctx context.Context) (*int, error) {
		return nil, s.actions.Refresh(ctx)
	})
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) (*int, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	count, err := fn(ctx)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, ErrUnknownChallenge) {
			code = http.StatusNotFound
		}
		s.logger.Warn("dashboard action failed", "action", name, "error", err)
		s.writeJSON(w, code, actionResponse{Error: err.Error()})
		return
	}

	s.logger.Info("dashboard action", "action", name)
	s.writeJSON(w, http.StatusOK, actionResponse{OK: true, Count: count})
}

func (s *Server) decodeKeys(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req keysRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, actionResponse{Error: "invalid request body"})
		return nil, false
	}
	if len(req.Keys) == 0 {
		s.writeJSON(w, http.StatusBadRequest, actionResponse{Error: "no challenge selected"})
		return nil, false
	}
	return req.Keys, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func keyFromVars(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["category"] + "/" + vars["name"]
}

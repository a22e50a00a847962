// Package mockdeployer is an in-memory deployer for demos and manual tests.
//
// It speaks the deployer's HTTP API, checks HS256 bearer tokens against a
// shared secret, and moves instances through starting, running, stopping
// and gone on timers. Admin calls act on team "0".
package mockdeployer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// Timings of simulated instances.
type Timings struct {
	Start      time.Duration
	Stop       time.Duration
	Lifetime   time.Duration
	Extension  time.Duration
	Extensions int
}

// DefaultTimings are short enough to watch every transition in a demo.
func DefaultTimings() Timings {
	return Timings{
		Start:      3 * time.Second,
		Stop:       2 * time.Second,
		Lifetime:   5 * time.Minute,
		Extension:  2 * time.Minute,
		Extensions: 2,
	}
}

// Challenge is one challenge the mock can deploy.
type Challenge struct {
	Category      string `json:"category"`
	ChallengeName string `json:"challenge_name"`

	// FailRate is the probability that a deployment ends in error.
	FailRate float64 `json:"-"`
}

func (c Challenge) key() string {
	return c.Category + "/" + c.ChallengeName
}

type claims struct {
	TeamID        *string `json:"team_id"`
	Role          string  `json:"role"`
	ChallengeName string  `json:"challenge_name"`
	Category      string  `json:"category"`
	jwt.RegisteredClaims
}

type instance struct {
	team      string
	challenge Challenge
	status    string
	port      int
	expires   time.Time
	extLeft   int
	timer     *time.Timer
}

type errorEntry struct {
	TeamID        string    `json:"team_id"`
	Category      string    `json:"category"`
	ChallengeName string    `json:"challenge_name"`
	Message       string    `json:"error"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Server is the mock deployer.
type Server struct {
	secret  []byte
	timings Timings
	logger  *slog.Logger

	mu         sync.Mutex
	challenges []Challenge
	extra      []Challenge
	instances  map[string]*instance
	errors     []errorEntry
	nextPort   int
}

// New creates a mock deployer serving challenges. extra is added on the
// first reload.
func New(secret string, challenges, extra []Challenge, timings Timings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		secret:     []byte(secret),
		timings:    timings,
		logger:     logger,
		challenges: append([]Challenge(nil), challenges...),
		extra:      append([]Challenge(nil), extra...),
		instances:  make(map[string]*instance),
		nextPort:   31337,
	}
}

// Handler returns the deployer routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.player(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/deploy", s.player(s.handleDeploy)).Methods(http.MethodPost)
	r.HandleFunc("/extend", s.player(s.handleExtend)).Methods(http.MethodPost)
	r.HandleFunc("/terminate", s.player(s.handleTerminate)).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/list-unique-challs", s.admin(s.handleList)).Methods(http.MethodGet)
	admin.HandleFunc("/list-errors", s.admin(s.handleErrors)).Methods(http.MethodGet)
	admin.HandleFunc("/list-teams", s.admin(s.handleTeams)).Methods(http.MethodGet)
	admin.HandleFunc("/deploy", s.admin(s.handleDeploy)).Methods(http.MethodPost)
	admin.HandleFunc("/terminate", s.admin(s.handleTerminate)).Methods(http.MethodPost)
	admin.HandleFunc("/deploy-all", s.admin(s.handleDeployAll)).Methods(http.MethodPost)
	admin.HandleFunc("/terminate-all", s.admin(s.handleTerminateAll)).Methods(http.MethodPost)
	admin.HandleFunc("/reload-challs", s.admin(s.handleReload)).Methods(http.MethodPost)
	admin.HandleFunc("/config_check", s.admin(func(w http.ResponseWriter, _ *http.Request, _ *claims) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})).Methods(http.MethodPost)
	return r
}

type handler func(w http.ResponseWriter, r *http.Request, c *claims)

func (s *Server) parse(r *http.Request) (*claims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, errors.New("missing bearer token")
	}
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c.TeamID == nil {
		return nil, errors.New("token has no team")
	}
	return c, nil
}

func (s *Server) player(h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.parse(r)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "Invalid token: "+err.Error())
			return
		}
		h(w, r, c)
	}
}

func (s *Server) admin(h handler) http.HandlerFunc {
	return s.player(func(w http.ResponseWriter, r *http.Request, c *claims) {
		if c.Role != "admin" {
			writeMessage(w, http.StatusForbidden, "Admin role required")
			return
		}
		h(w, r, c)
	})
}

// target resolves the challenge of a request: the body for deploy and
// terminate calls, the token scope otherwise.
func (s *Server) target(r *http.Request, c *claims) (Challenge, bool) {
	want := Challenge{Category: c.Category, ChallengeName: c.ChallengeName}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var body Challenge
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.ChallengeName != "" {
			want = body
		}
	}
	for _, ch := range s.challenges {
		if ch.key() == want.key() {
			return ch, true
		}
	}
	return Challenge{}, false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, c *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.target(r, c)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Unknown challenge")
		return
	}
	inst := s.instances[*c.TeamID+"|"+ch.key()]
	if inst == nil {
		writeMessage(w, http.StatusNotFound, "No deployment for this challenge")
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot(inst))
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request, c *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.target(r, c)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Unknown challenge")
		return
	}
	if s.deployLocked(*c.TeamID, ch) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
		return
	}
	writeMessage(w, http.StatusConflict, "Deployment already in progress")
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request, c *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.target(r, c)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Unknown challenge")
		return
	}
	inst := s.instances[*c.TeamID+"|"+ch.key()]
	switch {
	case inst == nil || inst.status != "running":
		writeMessage(w, http.StatusNotFound, "No running deployment")
	case inst.extLeft == 0:
		writeMessage(w, http.StatusBadRequest, "No extension left")
	default:
		inst.extLeft--
		inst.expires = inst.expires.Add(s.timings.Extension)
		s.armLocked(inst, time.Until(inst.expires), s.expire)
		writeJSON(w, http.StatusOK, s.snapshot(inst))
	}
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request, c *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.target(r, c)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Unknown challenge")
		return
	}
	if !s.terminateLocked(*c.TeamID + "|" + ch.key()) {
		writeMessage(w, http.StatusNotFound, "No deployment for this challenge")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.challenges)
}

func (s *Server) handleErrors(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.errors)
}

func (s *Server) handleTeams(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type teamRow struct {
		TeamID         string    `json:"team_id"`
		Category       string    `json:"category"`
		ChallengeName  string    `json:"challenge_name"`
		Status         string    `json:"status"`
		ConnectionInfo string    `json:"connection_info,omitempty"`
		ExpirationTime time.Time `json:"expiration_time"`
	}
	rows := make([]teamRow, 0, len(s.instances))
	for _, inst := range s.instances {
		if inst.team == "0" {
			continue
		}
		snap := s.snapshot(inst)
		rows = append(rows, teamRow{
			TeamID:         inst.team,
			Category:       inst.challenge.Category,
			ChallengeName:  inst.challenge.ChallengeName,
			Status:         inst.status,
			ConnectionInfo: snap.ConnectionInfo,
			ExpirationTime: inst.expires,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TeamID != rows[j].TeamID {
			return rows[i].TeamID < rows[j].TeamID
		}
		return rows[i].Category+rows[i].ChallengeName < rows[j].Category+rows[j].ChallengeName
	})
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDeployAll(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ch := range s.challenges {
		if s.deployLocked("0", ch) {
			n++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"challenges_count": n})
}

func (s *Server) handleTerminateAll(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inst := range s.instances {
		if inst.team == "0" && s.terminateLocked(id) {
			n++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"challenges_count": n})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request, _ *claims) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges = append(s.challenges, s.extra...)
	s.extra = nil
	s.logger.Info("challenges reloaded", "count", len(s.challenges))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// deployLocked starts an instance unless one exists.
func (s *Server) deployLocked(team string, ch Challenge) bool {
	id := team + "|" + ch.key()
	if _, exists := s.instances[id]; exists {
		return false
	}
	inst := &instance{team: team, challenge: ch, status: "starting", extLeft: s.timings.Extensions}
	s.instances[id] = inst
	s.logger.Info("deploying", "team", team, "challenge", ch.key())

	s.armLocked(inst, s.timings.Start, func(inst *instance) {
		if rand.Float64() < ch.FailRate {
			inst.status = "error"
			s.errors = append(s.errors, errorEntry{
				TeamID:        team,
				Category:      ch.Category,
				ChallengeName: ch.ChallengeName,
				Message:       "container exited with code 1",
				OccurredAt:    time.Now().UTC(),
			})
			return
		}
		inst.status = "running"
		inst.port = s.nextPort
		s.nextPort++
		inst.expires = time.Now().Add(s.timings.Lifetime)
		s.armLocked(inst, s.timings.Lifetime, s.expire)
	})
	return true
}

// terminateLocked stops an instance. It reports false if there is none or
// it is already stopping.
func (s *Server) terminateLocked(id string) bool {
	inst := s.instances[id]
	if inst == nil || inst.status == "stopping" {
		return false
	}
	inst.status = "stopping"
	s.armLocked(inst, s.timings.Stop, func(*instance) {
		delete(s.instances, id)
	})
	return true
}

func (s *Server) expire(inst *instance) {
	s.logger.Info("deployment expired", "team", inst.team, "challenge", inst.challenge.key())
	delete(s.instances, inst.team+"|"+inst.challenge.key())
}

// armLocked replaces the instance timer. fn runs under the lock.
func (s *Server) armLocked(inst *instance, d time.Duration, fn func(*instance)) {
	if inst.timer != nil {
		inst.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if inst.timer != t {
			return
		}
		inst.timer = nil
		fn(inst)
	})
	inst.timer = t
}

type snapshot struct {
	Status         string     `json:"status"`
	ConnectionInfo string     `json:"connection_info,omitempty"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	ExtensionsLeft int        `json:"extensions_left"`
	ExtensionTime  string     `json:"extension_time"`
	Unique         bool       `json:"unique"`
}

func (s *Server) snapshot(inst *instance) snapshot {
	snap := snapshot{
		Status:         inst.status,
		ExtensionsLeft: inst.extLeft,
		ExtensionTime:  s.timings.Extension.String(),
		Unique:         inst.team == "0",
	}
	if inst.status == "running" {
		snap.ConnectionInfo = "nc localhost " + strconv.Itoa(inst.port)
		exp := inst.expires.UTC()
		snap.ExpirationTime = &exp
	}
	return snap
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

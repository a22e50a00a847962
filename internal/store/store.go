package store

import (
	"time"

	"github.com/jpalmerr/zync/internal/deployer"
)

// Row is the dashboard representation of one challenge, optimized for JSON
// serialization (REST API, SSE and WebSocket).
type Row struct {
	// Key identifies the row, "category/challenge_name".
	Key string `json:"key"`

	Category      string `json:"category"`
	ChallengeName string `json:"challenge_name"`

	// ChallengeID is the platform id, 0 when unknown.
	ChallengeID int `json:"challenge_id,omitempty"`

	// Outcome is the last rendered poll outcome ("running", "starting",
	// "not_deployed", "server_error", ...).
	Outcome string `json:"outcome"`

	ConnectionInfo string     `json:"connection_info,omitempty"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`

	// TimeLeft is the countdown display of a running deployment.
	TimeLeft string `json:"time_left,omitempty"`

	// Message explains failure outcomes.
	Message string `json:"message,omitempty"`

	// Loading is true while a fetch shows its loading state.
	Loading bool `json:"loading"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EventType tells subscribers what changed.
type EventType string

const (
	EventRow    EventType = "row"
	EventReset  EventType = "reset"
	EventErrors EventType = "errors"
	EventTeams  EventType = "teams"
)

// Event is one change pushed to subscribers.
type Event struct {
	Type   EventType                 `json:"type"`
	Row    *Row                      `json:"row,omitempty"`
	Rows   []Row                     `json:"rows,omitempty"`
	Errors []deployer.ErrorEntry     `json:"errors,omitempty"`
	Teams  []deployer.TeamDeployment `json:"teams,omitempty"`
}

// Store defines the interface for storing and subscribing to dashboard state.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores a row and notifies all subscribers.
	// Rows are keyed by Key; subsequent updates replace previous values.
	Update(row Row)

	// Modify applies fn to the stored row with the given key and notifies
	// subscribers. It reports false, without calling fn, if the key is
	// unknown.
	Modify(key string, fn func(*Row)) bool

	// Get returns the row with the given key.
	Get(key string) (Row, bool)

	// GetAll returns all rows ordered by category then challenge name.
	GetAll() []Row

	// Replace swaps the whole row set, e.g. after a challenge reload.
	Replace(rows []Row)

	// SetErrors and SetTeams replace the aggregate views.
	SetErrors(entries []deployer.ErrorEntry)
	SetTeams(teams []deployer.TeamDeployment)

	Errors() []deployer.ErrorEntry
	Teams() []deployer.TeamDeployment

	// Subscribe returns a channel that receives events.
	// The returned channel has a buffer; slow consumers may miss events.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}

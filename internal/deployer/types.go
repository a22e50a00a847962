package deployer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the deployment state of one entity as reported by the deployer.
type Status string

const (
	StatusNotDeployed Status = "not_deployed"
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusStopping    Status = "stopping"
	StatusError       Status = "error"

	// StatusUnknown covers any value the deployer sends that is not part of
	// the vocabulary above, and rows whose status could not be fetched.
	StatusUnknown Status = "unknown"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// ParseStatus maps a wire value to a [Status]. Unrecognized values map to
// [StatusUnknown].
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusNotDeployed, StatusStarting, StatusRunning, StatusStopping, StatusError:
		return st
	default:
		return StatusUnknown
	}
}

// defaultExtensionTime is shown when the deployer omits extension_time.
const defaultExtensionTime = "30m"

// Snapshot is the last known state of a deployment.
//
// Optional fields are pointers so that "absent" and "zero" stay distinct:
// ExtensionsLeft of -1 means unlimited extensions, 0 means none left, nil
// means the deployer did not say.
type Snapshot struct {
	Status         Status     `json:"status"`
	ConnectionInfo string     `json:"connection_info,omitempty"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	ExtensionsLeft *int       `json:"extensions_left,omitempty"`
	ExtensionTime  string     `json:"extension_time,omitempty"`
	Unique         *bool      `json:"unique,omitempty"`
}

// CanExtend reports whether an extension may still be requested.
func (s Snapshot) CanExtend() bool {
	return s.ExtensionsLeft != nil && *s.ExtensionsLeft != 0
}

// CanDelete reports whether the player may delete the instance. Only
// instances of non-unique challenges can be deleted by players.
func (s Snapshot) CanDelete() bool {
	return s.Unique != nil && !*s.Unique
}

// UnmarshalJSON decodes a status payload leniently: fields with unexpected
// types are dropped instead of failing the whole snapshot, so a partially
// malformed response still renders with placeholders.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Snapshot{Status: StatusUnknown, ExtensionTime: defaultExtensionTime}

	if v, ok := raw["status"]; ok {
		var str string
		if json.Unmarshal(v, &str) == nil {
			s.Status = ParseStatus(str)
		}
	}
	if v, ok := raw["connection_info"]; ok {
		var str string
		if json.Unmarshal(v, &str) == nil {
			s.ConnectionInfo = str
		}
	}
	if v, ok := raw["expiration_time"]; ok {
		s.ExpirationTime = parseTime(v)
	}
	if v, ok := raw["extensions_left"]; ok {
		var n json.Number
		if json.Unmarshal(v, &n) == nil {
			if i, err := strconv.Atoi(n.String()); err == nil {
				s.ExtensionsLeft = &i
			}
		}
	}
	if v, ok := raw["extension_time"]; ok {
		var str string
		if json.Unmarshal(v, &str) == nil && str != "" {
			s.ExtensionTime = str
		}
	}
	if v, ok := raw["unique"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			s.Unique = &b
		}
	}
	return nil
}

// timeLayouts are tried in order for string timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts RFC 3339 strings, naive ISO strings (taken as UTC) and
// unix seconds. Anything else yields nil.
func parseTime(v json.RawMessage) *time.Time {
	var str string
	if json.Unmarshal(v, &str) == nil {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, str); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	}

	var secs float64
	if json.Unmarshal(v, &secs) == nil && secs > 0 {
		t := time.Unix(0, int64(secs*float64(time.Second))).UTC()
		return &t
	}
	return nil
}

// Challenge identifies a challenge known to the deployer.
type Challenge struct {
	Category      string `json:"category"`
	ChallengeName string `json:"challenge_name"`
}

// DeployRequest is the body of player and admin deploy/terminate calls.
type DeployRequest struct {
	ChallengeName string `json:"challenge_name"`
	Category      string `json:"category"`
}

// DeployState is the result of an accepted deploy call.
type DeployState int

const (
	// DeployAccepted means the deployer queued the deployment (202).
	DeployAccepted DeployState = iota

	// DeployInProgress means a deployment was already running (409).
	DeployInProgress
)

// ErrorEntry is one line of the admin error list.
type ErrorEntry struct {
	TeamID        string     `json:"team_id"`
	Category      string     `json:"category"`
	ChallengeName string     `json:"challenge_name"`
	Message       string     `json:"error"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}

// TeamDeployment is one line of the admin team list.
type TeamDeployment struct {
	TeamID         string     `json:"team_id"`
	TeamName       string     `json:"team_name,omitempty"`
	Category       string     `json:"category"`
	ChallengeName  string     `json:"challenge_name"`
	Status         Status     `json:"status"`
	ConnectionInfo string     `json:"connection_info,omitempty"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
}

// bulkResult is the body returned by deploy-all and terminate-all.
type bulkResult struct {
	ChallengesCount int `json:"challenges_count"`
}

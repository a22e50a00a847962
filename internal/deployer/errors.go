package deployer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled is wrapped by errors returned for requests aborted through
// their context. It is never shown to users.
var ErrCancelled = errors.New("request cancelled")

// AuthError reports a 401: the bearer token is missing, invalid or expired.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "deployer: unauthorized"
	}
	return "deployer: unauthorized: " + e.Message
}

// NotFoundError reports a 404. JSON is true when the body was a JSON
// document, which the deployer only sends for the "slot exhausted" case.
type NotFoundError struct {
	Message string
	JSON    bool
}

func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return "deployer: not deployed"
	}
	return "deployer: not found: " + e.Message
}

// ClientError reports a 4xx other than 401 and 404.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("deployer: request rejected (%d): %s", e.StatusCode, e.Message)
}

// ServerError reports a 5xx.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("deployer: server error (%d): %s", e.StatusCode, e.Message)
}

// NetworkError reports a transport-level failure: DNS, connection refused,
// timeout, truncated body.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "deployer: network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err comes from an aborted request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsSlotExhausted reports whether err is the 404 the deployer sends when a
// non-unique challenge has no free deployment slot for this player.
//
// The deployer only signals this through the message text.
func IsSlotExhausted(err error) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	return nf.JSON && strings.Contains(nf.Message, "unique")
}

// errorForResponse converts a non-2xx response into a typed error.
func errorForResponse(statusCode int, body []byte, contentType string) error {
	msg := extractMessage(body)

	switch {
	case statusCode == 401:
		return &AuthError{Message: msg}
	case statusCode == 404:
		return &NotFoundError{
			Message: msg,
			JSON:    strings.Contains(contentType, "application/json"),
		}
	case statusCode >= 400 && statusCode < 500:
		return &ClientError{StatusCode: statusCode, Message: msg}
	case statusCode >= 500:
		return &ServerError{StatusCode: statusCode, Message: msg}
	default:
		return &ClientError{StatusCode: statusCode, Message: "unexpected response"}
	}
}

// extractMessage pulls a human-readable message out of an error body.
//
// The deployer sends {"message": "..."}; when it proxies an upstream failure
// the message is itself a JSON-encoded {"message": "..."}. The platform uses
// {"error": "..."}. Non-JSON bodies yield "".
func extractMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if msg, ok := payload["message"]; ok {
		switch m := msg.(type) {
		case string:
			if inner := nestedMessage(m); inner != "" {
				return inner
			}
			return m
		case map[string]any:
			if s, ok := m["message"].(string); ok {
				return s
			}
		}
	}

	if s, ok := payload["error"].(string); ok {
		return s
	}
	return ""
}

// nestedMessage decodes a JSON-encoded {"message": "..."} string.
func nestedMessage(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return ""
	}
	var inner struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(s), &inner); err != nil {
		return ""
	}
	return inner.Message
}

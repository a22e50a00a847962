package zync

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jpalmerr/zync/internal/deployer"
	"github.com/jpalmerr/zync/internal/token"
)

// Challenge identifies the entity a [Watcher] tracks.
//
// Challenge is immutable after creation via [NewChallenge].
type Challenge struct {
	id       int
	name     string
	category string
}

// ChallengeOption configures a [Challenge].
type ChallengeOption func(*Challenge) error

// WithChallengeID sets the platform id of the challenge. The id selects the
// deployment token issued by the platform.
func WithChallengeID(id int) ChallengeOption {
	return func(c *Challenge) error {
		if id <= 0 {
			return errors.New("challenge id must be positive")
		}
		c.id = id
		return nil
	}
}

// NewChallenge creates a [Challenge]. The category may be empty.
func NewChallenge(category, name string, opts ...ChallengeOption) (Challenge, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Challenge{}, errors.New("challenge name cannot be empty")
	}

	c := Challenge{name: name, category: strings.TrimSpace(category)}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Challenge{}, err
		}
	}
	return c, nil
}

// ID returns the platform id, 0 if unknown.
func (c Challenge) ID() int {
	return c.id
}

// Name returns the challenge name.
func (c Challenge) Name() string {
	return c.name
}

// Category returns the challenge category.
func (c Challenge) Category() string {
	return c.category
}

// Key returns "category/name", the identifier used by the dashboard.
func (c Challenge) Key() string {
	return token.ChallengeKey(c.category, c.name)
}

// String implements fmt.Stringer.
func (c Challenge) String() string {
	return c.Key()
}

// tokenKey is the key of the player token cache.
func (c Challenge) tokenKey() string {
	if c.id > 0 {
		return strconv.Itoa(c.id)
	}
	return c.Key()
}

func (c Challenge) request() deployer.DeployRequest {
	return deployer.DeployRequest{ChallengeName: c.name, Category: c.category}
}

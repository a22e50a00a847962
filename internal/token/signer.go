package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the deployer.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims is the payload the deployer expects in its bearer tokens.
type Claims struct {
	UserID        string  `json:"user_id"`
	TeamID        *string `json:"team_id"`
	Role          string  `json:"role"`
	ChallengeName string  `json:"challenge_name"`
	Category      string  `json:"category"`
	jwt.RegisteredClaims
}

// Signer mints deployer tokens locally from the shared secret.
//
// It lets the admin tooling talk to the deployer without going through the
// platform, e.g. to check a secret before saving it.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a [Signer]. ttl is the token lifetime.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signer secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("signer ttl must be positive")
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign signs claims with HS256, filling iat and exp.
func (s *Signer) Sign(c Claims) (string, error) {
	now := s.now()
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}

// Admin signs an admin token, optionally scoped to one challenge. Empty
// names give the unscoped token used for bulk operations.
func (s *Signer) Admin(category, challengeName string) (string, error) {
	team := "0"
	return s.Sign(Claims{
		UserID:        "0",
		TeamID:        &team,
		Role:          RoleAdmin,
		ChallengeName: challengeName,
		Category:      category,
	})
}

// AdminSource returns a [Source] whose keys are "category/challenge_name";
// the empty key yields the unscoped admin token.
func (s *Signer) AdminSource() Source {
	return SourceFunc(func(_ context.Context, key string) (string, error) {
		category, name := SplitKey(key)
		return s.Admin(category, name)
	})
}

// ChallengeKey builds the cache key of an admin status token.
func ChallengeKey(category, challengeName string) string {
	if category == "" && challengeName == "" {
		return ""
	}
	return category + "/" + challengeName
}

// SplitKey is the inverse of [ChallengeKey].
func SplitKey(key string) (category, challengeName string) {
	category, challengeName, _ = strings.Cut(key, "/")
	return category, challengeName
}

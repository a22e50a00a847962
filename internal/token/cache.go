package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyToken is returned when a source answers without a token.
var ErrEmptyToken = errors.New("token source returned an empty token")

// Source fetches a fresh token for the entity identified by key.
type Source interface {
	Fetch(ctx context.Context, key string) (string, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context, key string) (string, error)

// Fetch implements [Source].
func (f SourceFunc) Fetch(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Cache keeps one token per key and refreshes it when it is missing,
// malformed or expired.
//
// Cache is safe for concurrent use.
type Cache struct {
	source Source
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]string

	group singleflight.Group
}

// NewCache creates a [Cache] in front of source.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		now:    time.Now,
		tokens: make(map[string]string),
	}
}

// Token returns a valid token for key, fetching a new one if needed.
func (c *Cache) Token(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	tok, ok := c.tokens[key]
	c.mu.Unlock()

	if ok && Valid(tok, c.now()) {
		return tok, nil
	}

	// concurrent callers for the same key share one fetch
	// one caller giving up must not abort the fetch for the others
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		fresh, err := c.source.Fetch(flightCtx, key)
		if err != nil {
			return "", err
		}
		if fresh == "" {
			return "", ErrEmptyToken
		}
		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()
		return fresh, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("fetch token for %s: %w", key, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token for key, forcing the next [Cache.Token]
// call to fetch a new one. Used after the deployer answers 401.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
}

// Valid reports whether tok is a well-formed JWT whose exp claim, if any, is
// not in the past. The signature is not checked; only the deployer can.
func Valid(tok string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !claims.ExpiresAt.Time.Before(now)
}

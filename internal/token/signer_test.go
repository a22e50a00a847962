package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewSigner_Validation(t *testing.T) {
	if _, err := NewSigner("", time.Hour); err == nil {
		t.Error("NewSigner() with empty secret expected error")
	}
	if _, err := NewSigner("s", 0); err == nil {
		t.Error("NewSigner() with zero ttl expected error")
	}
}

func TestSigner_Admin(t *testing.T) {
	signer, err := NewSigner("topsecret", 2*time.Hour)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	raw, err := signer.Admin("web", "xss")
	if err != nil {
		t.Fatalf("Admin() error = %v", err)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return []byte("topsecret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("ParseWithClaims() error = %v", err)
	}

	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want admin", claims.Role)
	}
	if claims.Category != "web" || claims.ChallengeName != "xss" {
		t.Errorf("scope = %s/%s, want web/xss", claims.Category, claims.ChallengeName)
	}
	if claims.TeamID == nil || *claims.TeamID != "0" {
		t.Errorf("TeamID = %v, want 0", claims.TeamID)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 2*time.Hour {
		t.Errorf("ttl = %v, want 2h", ttl)
	}
}

func TestChallengeKey_RoundTrip(t *testing.T) {
	key := ChallengeKey("crypto", "rsa/ecb")
	category, name := SplitKey(key)
	if category != "crypto" || name != "rsa/ecb" {
		t.Errorf("SplitKey(%q) = %q, %q", key, category, name)
	}
	if ChallengeKey("", "") != "" {
		t.Error("empty scope should give the empty key")
	}
}

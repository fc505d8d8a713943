package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		SiteID: "site-1",
		Scope:  ScopeSnapshot,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.SiteID != "site-1" || claims.Scope != ScopeSnapshot {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		SiteID: "site-1",
		Scope:  ScopeSnapshot,
		Exp:    time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("right"), Claims{
		SiteID: "site-1",
		Scope:  ScopeSnapshot,
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("wrong"), issued); err == nil {
		t.Fatal("expected ParseToken() to fail under a different secret")
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	raw, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	hash, err := HashAPIKey(raw)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	if !VerifyAPIKey(hash, raw) {
		t.Fatal("generated key does not verify against its own hash")
	}
	if VerifyAPIKey(hash, raw+"x") {
		t.Fatal("tampered key verified")
	}
}

package auth

import (
	"testing"
	"time"
)

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: "memorial-auth"}); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")}); err == nil {
		t.Fatalf("expected missing issuer to fail")
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "memorial-auth"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := issuer.IssueSession(Identity{UserID: "  "}); err == nil {
		t.Fatalf("expected empty subject to fail")
	}
}

func TestIssueLoginLinkUsesShortTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "memorial-auth",
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, expiresAt, err := issuer.IssueLoginLink(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(defaultLoginLinkTTL); !expiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, expiresAt)
	}
	_, sessionExpiry, err := issuer.IssueSession(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(defaultSessionTTL); !sessionExpiry.Equal(want) {
		t.Fatalf("expected session expiry %s, got %s", want, sessionExpiry)
	}
}

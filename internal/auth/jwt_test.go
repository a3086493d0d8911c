package auth

import (
	"testing"
	"time"

	"voicegate/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "test-secret",
		JWTIssuer:      "voicegate",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, 42, 7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 42 || claims.OrganizationID != 7 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyExpired(t *testing.T) {
	m := testManager(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := m.Issue(now, 42, 7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := m.Verify(tok, now.Add(16*time.Minute)); err == nil {
		t.Fatalf("expected expired token error")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := testManager(t)
	other, err := NewManager(config.AuthConfig{JWTSecret: "other", AccessTokenTTL: time.Minute})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := other.Issue(now, 1, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	m := testManager(t)
	if _, err := m.Issue(time.Now(), 0, 7); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}

package token

import (
	"errors"
	"testing"
	"time"

	"github.com/labpod/labpod/internal/model"
)

func newTestManager(ttl, refreshWindow time.Duration) *Manager {
	return NewManager("test-secret-please-rotate", "labpod", "labpod-api", ttl, refreshWindow)
}

func newTestUser() *model.User {
	return &model.User{
		ID:    "01HVUSER0000000000000000AA",
		Email: "jane@example.com",
		Role:  model.RoleResearcher,
		Tier:  model.TierPaid,
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)
	user := newTestUser()

	signed, issued, err := m.Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if issued.SessionID() == "" {
		t.Error("issued token should carry a session ID")
	}

	claims, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if claims.Subject != user.ID {
		t.Errorf("Subject mismatch: got %q, want %q", claims.Subject, user.ID)
	}
	if claims.Email != user.Email {
		t.Errorf("Email mismatch: got %q, want %q", claims.Email, user.Email)
	}
	if claims.Role != model.RoleResearcher {
		t.Errorf("Role mismatch: got %q", claims.Role)
	}
	if claims.Tier != model.TierPaid {
		t.Errorf("Tier mismatch: got %q", claims.Tier)
	}
	if claims.SessionID() != issued.SessionID() {
		t.Errorf("session ID changed across parse: got %q, want %q", claims.SessionID(), issued.SessionID())
	}
}

func TestUniqueSessionIDs(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)
	user := newTestUser()

	_, first, err := m.Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	_, second, err := m.Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if first.SessionID() == second.SessionID() {
		t.Error("each issued token should have a unique session ID")
	}
}

func TestParseExpired(t *testing.T) {
	m := newTestManager(-time.Minute, 10*time.Minute)

	signed, _, err := m.Issue(newTestUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = m.Parse(signed)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Expected ErrExpired, got: %v", err)
	}
}

func TestParseRejectsForgedToken(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)
	other := NewManager("different-secret", "labpod", "labpod-api", time.Hour, 10*time.Minute)

	signed, _, err := other.Issue(newTestUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = m.Parse(signed)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid for wrong signature, got: %v", err)
	}
}

func TestParseRejectsWrongIssuerAndAudience(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)

	tests := []struct {
		name  string
		other *Manager
	}{
		{"wrong_issuer", NewManager("test-secret-please-rotate", "someone-else", "labpod-api", time.Hour, 10*time.Minute)},
		{"wrong_audience", NewManager("test-secret-please-rotate", "labpod", "other-api", time.Hour, 10*time.Minute)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			signed, _, err := test.other.Issue(newTestUser())
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}

			_, err = m.Parse(signed)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got: %v", err)
			}
		})
	}
}

func TestParseGarbage(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)

	for _, input := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.Parse(input); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got: %v", input, err)
		}
	}
}

func TestRefreshWindow(t *testing.T) {
	m := newTestManager(time.Hour, 10*time.Minute)

	signed, _, err := m.Issue(newTestUser())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := m.Parse(signed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	now := time.Now()

	// Fresh token: outside the window.
	if m.NeedsRefresh(claims, now) {
		t.Error("fresh token should not need refresh")
	}
	if m.CanRefresh(claims, now) {
		t.Error("fresh token should not be refreshable")
	}

	// Five minutes before expiry: inside the window.
	nearExpiry := claims.ExpiresAt.Time.Add(-5 * time.Minute)
	if !m.NeedsRefresh(claims, nearExpiry) {
		t.Error("token near expiry should need refresh")
	}
	if !m.CanRefresh(claims, nearExpiry) {
		t.Error("token near expiry should be refreshable")
	}

	// After expiry: too late.
	afterExpiry := claims.ExpiresAt.Time.Add(time.Minute)
	if m.CanRefresh(claims, afterExpiry) {
		t.Error("expired token should not be refreshable")
	}
}

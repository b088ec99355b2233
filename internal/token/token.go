// Package token issues and validates internal session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labpod/labpod/internal/model"
)

// Common errors for token operations.
var (
	ErrExpired = errors.New("session token expired")
	ErrInvalid = errors.New("session token invalid")
)

// Claims are the session claims embedded in internal JWTs. Role and
// tier are snapshots from issue time; a refresh re-reads them so admin
// changes take effect within one session TTL.
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	Tier  model.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// SessionID returns the token's unique ID (jti), used for revocation.
func (c *Claims) SessionID() string {
	return c.ID
}

// TTLRemaining returns how long until the token expires.
func (c *Claims) TTLRemaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// Manager issues and parses session tokens.
type Manager struct {
	secret        []byte
	issuer        string
	audience      string
	ttl           time.Duration
	refreshWindow time.Duration
}

// NewManager creates a token manager. The refresh window is the slice
// at the end of a session's life during which refresh is allowed.
func NewManager(secret, issuer, audience string, ttl, refreshWindow time.Duration) *Manager {
	return &Manager{
		secret:        []byte(secret),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		refreshWindow: refreshWindow,
	}
}

// Issue signs a new session token for a user.
func (m *Manager) Issue(user *model.User) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Email: user.Email,
		Role:  user.Role,
		Tier:  user.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, claims, nil
}

// Parse validates a session token and returns its claims. Expired
// tokens return ErrExpired; everything else wrong returns ErrInvalid.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	return claims, nil
}

// NeedsRefresh reports whether the token is inside its refresh window.
func (m *Manager) NeedsRefresh(claims *Claims, now time.Time) bool {
	return claims.TTLRemaining(now) <= m.refreshWindow
}

// CanRefresh reports whether refresh is allowed: the token must still
// be valid and inside the refresh window. Expired tokens cannot be
// refreshed; the user re-authenticates with their provider.
func (m *Manager) CanRefresh(claims *Claims, now time.Time) bool {
	remaining := claims.TTLRemaining(now)
	return remaining > 0 && remaining <= m.refreshWindow
}

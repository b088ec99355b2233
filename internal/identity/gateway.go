package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/token"
	"github.com/oklog/ulid/v2"
)

// Common errors for session exchange operations.
var (
	ErrUnknownProvider   = errors.New("unknown identity provider")
	ErrEmailUnverified   = errors.New("provider email is not verified")
	ErrSessionRevoked    = errors.New("session has been revoked")
	ErrRefreshNotAllowed = errors.New("session is not eligible for refresh")
)

// UserStore persists users keyed by provider identity.
type UserStore interface {
	UpsertUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// ActivityRecorder appends entries to the activity log.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, entry *model.ActivityLogEntry) error
}

// RevocationList tracks revoked session IDs.
type RevocationList interface {
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Gateway exchanges provider access tokens for internal sessions. It
// is the only component that talks to identity providers; everything
// downstream sees internal JWTs only.
type Gateway struct {
	providers map[string]Provider
	users     UserStore
	activity  ActivityRecorder
	revoked   RevocationList
	tokens    *token.Manager
	logger    *slog.Logger
}

// NewGateway creates an identity gateway over the given providers.
func NewGateway(providers []Provider, users UserStore, activity ActivityRecorder, revoked RevocationList, tokens *token.Manager, logger *slog.Logger) *Gateway {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Gateway{
		providers: byName,
		users:     users,
		activity:  activity,
		revoked:   revoked,
		tokens:    tokens,
		logger:    logger,
	}
}

// Providers returns the names of configured providers.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// Exchange verifies a provider access token and issues an internal
// session token. First-time identities get a user row with the default
// role and tier; returning identities keep whatever an admin assigned.
func (g *Gateway) Exchange(ctx context.Context, providerName, accessToken string) (string, *model.User, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		return "", nil, ErrUnknownProvider
	}

	identity, err := provider.FetchIdentity(ctx, accessToken)
	if err != nil {
		return "", nil, err
	}

	// No user row is created for unverified emails.
	if !identity.EmailVerified || identity.Email == "" {
		g.logger.Warn("exchange rejected",
			slog.String("provider", providerName),
			slog.String("reason", "unverified_email"),
		)
		return "", nil, ErrEmailUnverified
	}

	user, err := g.users.UpsertUser(ctx, &model.User{
		ID:                  ulid.Make().String(),
		Email:               identity.Email,
		Provider:            providerName,
		ProviderSubject:     identity.Subject,
		Role:                model.RoleUser,
		Tier:                model.TierFree,
		AutoShutdownEnabled: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	signed, claims, err := g.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}

	g.recordLogin(ctx, user)

	g.logger.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("provider", providerName),
		slog.String("session_id", claims.SessionID()),
	)

	return signed, user, nil
}

// Verify validates a session token and checks the revocation list.
func (g *Gateway) Verify(ctx context.Context, tokenString string) (*token.Claims, error) {
	claims, err := g.tokens.Parse(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := g.revoked.IsSessionRevoked(ctx, claims.SessionID())
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrSessionRevoked
	}

	return claims, nil
}

// Refresh exchanges a session nearing expiry for a fresh one. The
// user row is re-read so role or tier changes made since issue time
// land in the new token. The old session is revoked.
func (g *Gateway) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := g.Verify(ctx, tokenString)
	if err != nil {
		return "", err
	}

	now := time.Now()
	if !g.tokens.CanRefresh(claims, now) {
		return "", ErrRefreshNotAllowed
	}

	user, err := g.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to load user for refresh: %w", err)
	}

	signed, fresh, err := g.tokens.Issue(user)
	if err != nil {
		return "", err
	}

	// Retire the old session so both tokens cannot live side by side.
	if err := g.revoked.RevokeSession(ctx, claims.SessionID(), claims.TTLRemaining(now)); err != nil {
		g.logger.Warn("failed to revoke refreshed session",
			slog.String("session_id", claims.SessionID()),
			slog.String("error", err.Error()),
		)
	}

	g.logger.Info("session refreshed",
		slog.String("user_id", user.ID),
		slog.String("old_session_id", claims.SessionID()),
		slog.String("session_id", fresh.SessionID()),
	)

	return signed, nil
}

// Revoke puts a session on the revocation list for its remaining life.
func (g *Gateway) Revoke(ctx context.Context, tokenString string) error {
	claims, err := g.tokens.Parse(tokenString)
	if err != nil {
		// Already expired or never valid; nothing to revoke.
		return nil
	}

	return g.revoked.RevokeSession(ctx, claims.SessionID(), claims.TTLRemaining(time.Now()))
}

// recordLogin appends a login entry; failures are logged, not fatal.
func (g *Gateway) recordLogin(ctx context.Context, user *model.User) {
	entry := &model.ActivityLogEntry{
		ID:        ulid.Make().String(),
		UserID:    user.ID,
		Action:    model.ActionLogin,
		Detail:    user.Provider,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.activity.RecordActivity(ctx, entry); err != nil {
		g.logger.Warn("failed to record login activity",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

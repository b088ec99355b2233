// Package identity bridges external OAuth identities into internal sessions.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// Common errors for provider operations.
var (
	// ErrProviderUnreachable indicates the provider API could not be
	// reached or answered with a server error. Never retried here; the
	// client decides whether to try again.
	ErrProviderUnreachable = errors.New("identity provider unreachable")

	// ErrProviderDenied indicates the provider rejected the token.
	ErrProviderDenied = errors.New("identity provider rejected token")
)

// Identity is the normalized result of a provider userinfo lookup.
type Identity struct {
	// Subject is the provider's stable user ID, never the email.
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// Provider verifies a provider-issued access token by fetching the
// user's profile from the provider's API.
type Provider interface {
	Name() string
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
}

// ============================================================================
// GitHub
// ============================================================================

const githubAPIBaseURL = "https://api.github.com"

// GitHubProvider verifies GitHub access tokens via the GitHub API.
type GitHubProvider struct {
	baseURL string
}

// NewGitHubProvider creates a GitHub identity provider.
func NewGitHubProvider() *GitHubProvider {
	return &GitHubProvider{baseURL: githubAPIBaseURL}
}

// NewGitHubProviderWithBaseURL creates a GitHub provider pointed at a
// different API base URL. Used by tests with httptest servers.
func NewGitHubProviderWithBaseURL(baseURL string) *GitHubProvider {
	return &GitHubProvider{baseURL: baseURL}
}

func (p *GitHubProvider) Name() string {
	return "github"
}

func (p *GitHubProvider) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	client := oauthClient(ctx, accessToken)

	resp, err := client.Get(p.baseURL + "/user")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var data struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode GitHub user response: %w", err)
	}

	name := data.Name
	if name == "" {
		name = data.Login
	}

	identity := &Identity{
		Subject: strconv.FormatInt(data.ID, 10),
		Email:   data.Email,
		Name:    name,
	}

	// The profile email may be absent or unverified; the emails
	// endpoint is authoritative for verification.
	email, verified, err := p.fetchVerifiedEmail(ctx, client)
	if err != nil {
		return nil, err
	}
	if email != "" {
		identity.Email = email
	}
	identity.EmailVerified = verified

	return identity, nil
}

// fetchVerifiedEmail returns the user's primary verified email, or any
// verified email when no primary is marked.
func (p *GitHubProvider) fetchVerifiedEmail(ctx context.Context, client *http.Client) (string, bool, error) {
	resp, err := client.Get(p.baseURL + "/user/emails")
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus(resp.StatusCode); err != nil {
		return "", false, err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", false, fmt.Errorf("failed to decode GitHub emails response: %w", err)
	}

	var fallback string
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, true, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	if fallback != "" {
		return fallback, true, nil
	}

	return "", false, nil
}

// ============================================================================
// Google
// ============================================================================

const googleUserInfoBaseURL = "https://www.googleapis.com"

// GoogleProvider verifies Google access tokens via the userinfo API.
type GoogleProvider struct {
	baseURL string
}

// NewGoogleProvider creates a Google identity provider.
func NewGoogleProvider() *GoogleProvider {
	return &GoogleProvider{baseURL: googleUserInfoBaseURL}
}

// NewGoogleProviderWithBaseURL creates a Google provider pointed at a
// different API base URL. Used by tests with httptest servers.
func NewGoogleProviderWithBaseURL(baseURL string) *GoogleProvider {
	return &GoogleProvider{baseURL: baseURL}
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	client := oauthClient(ctx, accessToken)

	resp, err := client.Get(p.baseURL + "/oauth2/v2/userinfo")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var data struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode Google user response: %w", err)
	}

	return &Identity{
		Subject:       data.ID,
		Email:         data.Email,
		Name:          data.Name,
		EmailVerified: data.VerifiedEmail,
	}, nil
}

// ============================================================================
// Shared helpers
// ============================================================================

// oauthClient builds an HTTP client that sends the access token as a
// Bearer credential on every request.
func oauthClient(ctx context.Context, accessToken string) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// checkProviderStatus folds a provider HTTP status into the error
// taxonomy: 401/403 means the token is bad, anything else non-200
// means the provider is unhealthy.
func checkProviderStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProviderDenied
	default:
		return fmt.Errorf("%w: status %d", ErrProviderUnreachable, status)
	}
}

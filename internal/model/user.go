// Package model defines domain entities for the application.
package model

import "time"

// Role represents a user's access level.
type Role string

const (
	RoleUser       Role = "user"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

// ValidRoles contains all valid role values.
var ValidRoles = []Role{RoleUser, RoleResearcher, RoleAdmin}

// IsValid checks if the role is a known value.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleResearcher || r == RoleAdmin
}

// Tier represents a subscription class.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// IsValid checks if the tier is a known value.
func (t Tier) IsValid() bool {
	return t == TierFree || t == TierPaid
}

// TierLimits defines the resource ceilings for a subscription tier.
type TierLimits struct {
	// MaxUserPods is the maximum number of concurrently active
	// (creating or running) environments per owner.
	MaxUserPods int

	// Resource ceilings. Launch requests are clamped to these,
	// never rejected for asking too much.
	MaxCPU     string
	MaxMemory  string
	MaxStorage string

	// MaxUptime is the default uptime ceiling for auto-shutdown.
	MaxUptime time.Duration

	// API rate limiting.
	RequestsPerMinute int
	Burst             int
}

// TierConfigs maps tiers to their limits.
var TierConfigs = map[Tier]TierLimits{
	TierFree: {
		MaxUserPods:       1,
		MaxCPU:            "1",
		MaxMemory:         "2Gi",
		MaxStorage:        "5Gi",
		MaxUptime:         60 * time.Minute,
		RequestsPerMinute: 60,
		Burst:             10,
	},
	TierPaid: {
		MaxUserPods:       3,
		MaxCPU:            "4",
		MaxMemory:         "16Gi",
		MaxStorage:        "50Gi",
		MaxUptime:         8 * time.Hour,
		RequestsPerMinute: 600,
		Burst:             50,
	},
}

// User represents a platform user identified via an external provider.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Provider            string     `json:"provider"`
	ProviderSubject     string     `json:"-"`
	Role                Role       `json:"role"`
	Tier                Tier       `json:"tier"`
	AutoShutdownEnabled bool       `json:"auto_shutdown_enabled"`
	MaxUptimeMinutes    int        `json:"max_uptime_minutes"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

// Limits returns the tier limits for this user, defaulting to free.
func (u *User) Limits() TierLimits {
	if limits, ok := TierConfigs[u.Tier]; ok {
		return limits
	}
	return TierConfigs[TierFree]
}

// MaxUptime returns the uptime ceiling, preferring the per-user
// override over the tier default.
func (u *User) MaxUptime() time.Duration {
	if u.MaxUptimeMinutes > 0 {
		return time.Duration(u.MaxUptimeMinutes) * time.Minute
	}
	return u.Limits().MaxUptime
}

// IsAdmin returns true if the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

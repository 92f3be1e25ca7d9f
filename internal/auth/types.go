package auth

import "time"

// ActorStatus is the lifecycle status of an actor.
type ActorStatus string

const (
	StatusActive    ActorStatus = "active"
	StatusSuspended ActorStatus = "suspended"
)

// ProviderLocal identifies email+password credentials.
const ProviderLocal = "local"

// Actor is one authenticated principal of a given role.
type Actor struct {
	ID          string      `json:"id"`
	Role        Role        `json:"role"`
	TenantID    string      `json:"tenant_id,omitempty"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Status      ActorStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
}

// Active reports whether the actor may authenticate.
func (a *Actor) Active() bool {
	return a != nil && a.DeletedAt == nil && a.Status == StatusActive
}

// Profile holds the caller supplied attributes of a new actor.
type Profile struct {
	Email       string
	DisplayName string
}

// Credential is one login method bound to exactly one actor.
type Credential struct {
	ID                  string
	ActorID             string
	Role                Role
	Provider            string
	ProviderKey         string
	PasswordHash        *string
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time
	DeletedAt           *time.Time
}

// CredentialInfo is the administrative view of a credential.
type CredentialInfo struct {
	ID                  string     `json:"id"`
	Provider            string     `json:"provider"`
	ProviderKey         string     `json:"provider_key"`
	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// Info drops the password hash.
func (c *Credential) Info() CredentialInfo {
	return CredentialInfo{
		ID:                  c.ID,
		Provider:            c.Provider,
		ProviderKey:         c.ProviderKey,
		LastAuthenticatedAt: c.LastAuthenticatedAt,
		CreatedAt:           c.CreatedAt,
		DeletedAt:           c.DeletedAt,
	}
}

// ActorFilter narrows actor listings. Empty fields match everything.
type ActorFilter struct {
	Role     Role
	TenantID string
	Status   ActorStatus
	Limit    int
}

// Rotation is the single-use marker of a refresh token.
type Rotation struct {
	TokenID   string
	ActorID   string
	UsedAt    time.Time
	ExpiresAt time.Time
}

// TokenPair is a signed access/refresh token pair.
type TokenPair struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh"`
	IssuedAt         time.Time `json:"-"`
	ExpiresAt        time.Time `json:"expired_at"`
	RefreshableUntil time.Time `json:"refreshable_until"`
}

// Payload is the caller identity recovered from a verified access token.
type Payload struct {
	ActorID   string
	Role      Role
	TenantID  string
	TokenID   string
	ExpiresAt time.Time
}

// Session is returned by join and login.
type Session struct {
	Actor  *Actor
	Tokens TokenPair
}

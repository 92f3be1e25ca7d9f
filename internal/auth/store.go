package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Queries
	Rotations() RotationStore
	// InTx runs fn in a single transaction. Returning an error, or a
	// cancelled ctx, rolls back everything fn wrote.
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	Ping(ctx context.Context) error
}

// Queries groups the stores that participate in transactions.
type Queries interface {
	Actors() ActorStore
	Credentials() CredentialStore
}

// ActorStore manages actors.
type ActorStore interface {
	Create(ctx context.Context, a *Actor) error
	// Find returns soft-deleted actors too; callers decide what that means.
	Find(ctx context.Context, id string) (*Actor, error)
	List(ctx context.Context, f ActorFilter) ([]*Actor, error)
	UpdateStatus(ctx context.Context, id string, status ActorStatus, at time.Time) (*Actor, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// CredentialStore manages credentials. Create must report ErrConflict from
// the storage uniqueness constraint on live (role, provider, provider_key).
type CredentialStore interface {
	Create(ctx context.Context, c *Credential) error
	FindLive(ctx context.Context, role Role, provider, providerKey string) (*Credential, error)
	ListByActor(ctx context.Context, actorID string) ([]*Credential, error)
	TouchAuthenticated(ctx context.Context, id string, at time.Time) error
	SoftDeleteByActor(ctx context.Context, actorID string, at time.Time) error
}

// RotationStore records used refresh tokens.
type RotationStore interface {
	// MarkUsed atomically inserts the marker; it reports false when a marker
	// for the same token already existed.
	MarkUsed(ctx context.Context, r Rotation) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

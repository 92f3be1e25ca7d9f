package auth

import (
	"context"
	"strings"
	"time"

	"actorgate.org/internal/ids"
)

// Registry creates and reads role-scoped actors and owns their lifecycle.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry wires the actor registry to a store.
func NewRegistry(store Store, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}
}

// Create inserts a new active actor inside q.
func (r *Registry) Create(ctx context.Context, q Queries, desc Descriptor, tenantID string, profile Profile) (*Actor, error) {
	tenantID = strings.TrimSpace(tenantID)
	if desc.TenantScoped && tenantID == "" {
		return nil, invalidField("tenant_id", "is required for role "+string(desc.Role))
	}
	if !desc.TenantScoped && tenantID != "" {
		return nil, invalidField("tenant_id", "is not accepted for role "+string(desc.Role))
	}
	now := r.now().UTC()
	actor := &Actor{
		ID:          ids.NewAt(now),
		Role:        desc.Role,
		TenantID:    tenantID,
		Email:       strings.ToLower(strings.TrimSpace(profile.Email)),
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.Actors().Create(ctx, actor); err != nil {
		return nil, err
	}
	return actor, nil
}

// Get returns the actor, soft-deleted or not.
func (r *Registry) Get(ctx context.Context, id string) (*Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	return r.store.Actors().Find(ctx, id)
}

// MustBeActive returns the actor only while it may authenticate.
func (r *Registry) MustBeActive(ctx context.Context, id string) (*Actor, error) {
	actor, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Active() {
		return nil, ErrAuthorization
	}
	return actor, nil
}

// List returns live actors matching f.
func (r *Registry) List(ctx context.Context, f ActorFilter) ([]*Actor, error) {
	return r.store.Actors().List(ctx, f)
}

// SetStatus moves a live actor to status.
func (r *Registry) SetStatus(ctx context.Context, id string, status ActorStatus) (*Actor, error) {
	if status != StatusActive && status != StatusSuspended {
		return nil, invalidField("status", "unsupported status "+string(status))
	}
	actor, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return r.store.Actors().UpdateStatus(ctx, id, status, r.now().UTC())
}

// SoftDelete marks the actor and all of its credentials deleted atomically,
// releasing its credential keys for re-registration.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	at := r.now().UTC()
	return r.store.InTx(ctx, func(ctx context.Context, q Queries) error {
		actor, err := q.Actors().Find(ctx, id)
		if err != nil {
			return err
		}
		if actor.DeletedAt != nil {
			return ErrNotFound
		}
		if err := q.Actors().SoftDelete(ctx, id, at); err != nil {
			return err
		}
		return q.Credentials().SoftDeleteByActor(ctx, id, at)
	})
}

// Suspend blocks the actor from authenticating until reinstated.
func (r *Registry) Suspend(ctx context.Context, id string) (*Actor, error) {
	return r.SetStatus(ctx, id, StatusSuspended)
}

// Reinstate reactivates a suspended actor.
func (r *Registry) Reinstate(ctx context.Context, id string) (*Actor, error) {
	return r.SetStatus(ctx, id, StatusActive)
}

// Package memory implements auth.Store in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"actorgate.org/internal/auth"
)

type credKey struct {
	role     auth.Role
	provider string
	key      string
}

type data struct {
	actors map[string]auth.Actor
	creds  map[string]auth.Credential
	live   map[credKey]string // -> credential id, live rows only
}

func newData() *data {
	return &data{
		actors: make(map[string]auth.Actor),
		creds:  make(map[string]auth.Credential),
		live:   make(map[credKey]string),
	}
}

func (d *data) clone() *data {
	out := &data{
		actors: make(map[string]auth.Actor, len(d.actors)),
		creds:  make(map[string]auth.Credential, len(d.creds)),
		live:   make(map[credKey]string, len(d.live)),
	}
	for k, v := range d.actors {
		out.actors[k] = v
	}
	for k, v := range d.creds {
		out.creds[k] = v
	}
	for k, v := range d.live {
		out.live[k] = v
	}
	return out
}

// Store keeps actors, credentials and rotation markers in maps.
// Transactions run on a copy that replaces the live data on success.
type Store struct {
	mu sync.RWMutex
	d  *data

	rotMu     sync.Mutex
	rotations map[string]auth.Rotation
}

var _ auth.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{d: newData(), rotations: make(map[string]auth.Rotation)}
}

func (s *Store) Actors() auth.ActorStore           { return lockedActors{s} }
func (s *Store) Credentials() auth.CredentialStore { return lockedCreds{s} }
func (s *Store) Rotations() auth.RotationStore     { return rotations{s} }
func (s *Store) Ping(ctx context.Context) error    { return ctx.Err() }

// InTx holds the write lock for the whole of fn, so fn must only use q.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q auth.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.d.clone()
	if err := fn(ctx, txQueries{work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d = work
	return nil
}

type txQueries struct{ d *data }

func (q txQueries) Actors() auth.ActorStore           { return actorOps{q.d} }
func (q txQueries) Credentials() auth.CredentialStore { return credOps{q.d} }

// actorOps and credOps operate on data without locking.
type actorOps struct{ d *data }

func (o actorOps) Create(_ context.Context, a *auth.Actor) error {
	if _, ok := o.d.actors[a.ID]; ok {
		return auth.ErrConflict
	}
	o.d.actors[a.ID] = *a
	return nil
}

func (o actorOps) Find(_ context.Context, id string) (*auth.Actor, error) {
	a, ok := o.d.actors[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &a, nil
}

func (o actorOps) List(_ context.Context, f auth.ActorFilter) ([]*auth.Actor, error) {
	out := make([]*auth.Actor, 0)
	for _, a := range o.d.actors {
		if a.DeletedAt != nil {
			continue
		}
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.TenantID != "" && a.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (o actorOps) UpdateStatus(_ context.Context, id string, status auth.ActorStatus, at time.Time) (*auth.Actor, error) {
	a, ok := o.d.actors[id]
	if !ok || a.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = at
	o.d.actors[id] = a
	return &a, nil
}

func (o actorOps) SoftDelete(_ context.Context, id string, at time.Time) error {
	a, ok := o.d.actors[id]
	if !ok || a.DeletedAt != nil {
		return auth.ErrNotFound
	}
	a.DeletedAt = &at
	a.UpdatedAt = at
	o.d.actors[id] = a
	return nil
}

type credOps struct{ d *data }

func (o credOps) Create(_ context.Context, c *auth.Credential) error {
	k := credKey{c.Role, c.Provider, c.ProviderKey}
	if _, taken := o.d.live[k]; taken {
		return auth.ErrConflict
	}
	if _, ok := o.d.creds[c.ID]; ok {
		return auth.ErrConflict
	}
	o.d.creds[c.ID] = *c
	o.d.live[k] = c.ID
	return nil
}

func (o credOps) FindLive(_ context.Context, role auth.Role, provider, providerKey string) (*auth.Credential, error) {
	id, ok := o.d.live[credKey{role, provider, providerKey}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := o.d.creds[id]
	return &c, nil
}

func (o credOps) ListByActor(_ context.Context, actorID string) ([]*auth.Credential, error) {
	var out []*auth.Credential
	for _, c := range o.d.creds {
		if c.ActorID == actorID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (o credOps) TouchAuthenticated(_ context.Context, id string, at time.Time) error {
	c, ok := o.d.creds[id]
	if !ok {
		return auth.ErrNotFound
	}
	c.LastAuthenticatedAt = &at
	o.d.creds[id] = c
	return nil
}

func (o credOps) SoftDeleteByActor(_ context.Context, actorID string, at time.Time) error {
	for id, c := range o.d.creds {
		if c.ActorID != actorID || c.DeletedAt != nil {
			continue
		}
		c.DeletedAt = &at
		o.d.creds[id] = c
		delete(o.d.live, credKey{c.Role, c.Provider, c.ProviderKey})
	}
	return nil
}

type lockedActors struct{ s *Store }

func (l lockedActors) Create(ctx context.Context, a *auth.Actor) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return actorOps{l.s.d}.Create(ctx, a)
}

func (l lockedActors) Find(ctx context.Context, id string) (*auth.Actor, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return actorOps{l.s.d}.Find(ctx, id)
}

func (l lockedActors) List(ctx context.Context, f auth.ActorFilter) ([]*auth.Actor, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return actorOps{l.s.d}.List(ctx, f)
}

func (l lockedActors) UpdateStatus(ctx context.Context, id string, status auth.ActorStatus, at time.Time) (*auth.Actor, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return actorOps{l.s.d}.UpdateStatus(ctx, id, status, at)
}

func (l lockedActors) SoftDelete(ctx context.Context, id string, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return actorOps{l.s.d}.SoftDelete(ctx, id, at)
}

type lockedCreds struct{ s *Store }

func (l lockedCreds) Create(ctx context.Context, c *auth.Credential) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return credOps{l.s.d}.Create(ctx, c)
}

func (l lockedCreds) FindLive(ctx context.Context, role auth.Role, provider, providerKey string) (*auth.Credential, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return credOps{l.s.d}.FindLive(ctx, role, provider, providerKey)
}

func (l lockedCreds) ListByActor(ctx context.Context, actorID string) ([]*auth.Credential, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	return credOps{l.s.d}.ListByActor(ctx, actorID)
}

func (l lockedCreds) TouchAuthenticated(ctx context.Context, id string, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return credOps{l.s.d}.TouchAuthenticated(ctx, id, at)
}

func (l lockedCreds) SoftDeleteByActor(ctx context.Context, actorID string, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return credOps{l.s.d}.SoftDeleteByActor(ctx, actorID, at)
}

type rotations struct{ s *Store }

func (r rotations) MarkUsed(_ context.Context, rot auth.Rotation) (bool, error) {
	r.s.rotMu.Lock()
	defer r.s.rotMu.Unlock()
	if _, ok := r.s.rotations[rot.TokenID]; ok {
		return false, nil
	}
	r.s.rotations[rot.TokenID] = rot
	return true, nil
}

func (r rotations) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.rotMu.Lock()
	defer r.s.rotMu.Unlock()
	var n int64
	for id, rot := range r.s.rotations {
		if rot.ExpiresAt.Before(before) {
			delete(r.s.rotations, id)
			n++
		}
	}
	return n, nil
}

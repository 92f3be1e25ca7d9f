package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// LivenessChecker reports whether an actor may still act.
type LivenessChecker interface {
	MustBeActive(ctx context.Context, id string) (*Actor, error)
}

// Guard resolves bearer access tokens into caller identities.
type Guard struct {
	issuer *Issuer

	liveness LivenessChecker
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cache     map[string]livenessEntry
	lastSweep time.Time
}

type livenessEntry struct {
	err     error
	checked time.Time
}

// GuardOption configures Guard behavior.
type GuardOption func(*Guard)

// WithLiveness makes Resolve reject actors that were suspended or deleted
// after their token was issued. Results are cached for ttl per actor; ttl <= 0
// checks on every call.
func WithLiveness(checker LivenessChecker, ttl time.Duration) GuardOption {
	return func(g *Guard) {
		g.liveness = checker
		g.ttl = ttl
	}
}

// WithGuardClock overrides the cache clock.
func WithGuardClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard constructs a Guard over issuer.
func NewGuard(issuer *Issuer, opts ...GuardOption) *Guard {
	g := &Guard{issuer: issuer, now: time.Now, cache: make(map[string]livenessEntry)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BearerToken strips the "Bearer " prefix from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// Resolve verifies an access token and returns the caller identity.
func (g *Guard) Resolve(ctx context.Context, bearer string) (Payload, error) {
	claims, err := g.issuer.ParseAccess(bearer)
	if err != nil {
		return Payload{}, err
	}
	p := claims.Payload()
	if g.liveness != nil {
		if err := g.checkLive(ctx, p.ActorID); err != nil {
			return Payload{}, err
		}
	}
	return p, nil
}

// Authorize succeeds when p carries one of roles. No roles means any role.
func (g *Guard) Authorize(p Payload, roles ...Role) error {
	return Authorize(p, roles...)
}

// Authorize succeeds when p carries one of roles. No roles means any role.
func Authorize(p Payload, roles ...Role) error {
	if p.ActorID == "" {
		return ErrAuthentication
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return ErrAuthorization
}

// Forget drops the cached liveness result for actorID.
func (g *Guard) Forget(actorID string) {
	g.mu.Lock()
	delete(g.cache, actorID)
	g.mu.Unlock()
}

func (g *Guard) checkLive(ctx context.Context, actorID string) error {
	now := g.now()
	if g.ttl > 0 {
		g.mu.Lock()
		entry, ok := g.cache[actorID]
		g.mu.Unlock()
		if ok && now.Sub(entry.checked) < g.ttl {
			return entry.err
		}
	}
	_, err := g.liveness.MustBeActive(ctx, actorID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		err = ErrAuthentication
	case errors.Is(err, ErrAuthorization):
	default:
		// Store failures are not cached.
		return err
	}
	if g.ttl > 0 {
		g.remember(actorID, livenessEntry{err: err, checked: now})
	}
	return err
}

// remember stores e and drops entries older than ttl, at most once per ttl.
func (g *Guard) remember(actorID string, e livenessEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.checked.Sub(g.lastSweep) >= g.ttl {
		for id, old := range g.cache {
			if e.checked.Sub(old.checked) >= g.ttl {
				delete(g.cache, id)
			}
		}
		g.lastSweep = e.checked
	}
	g.cache[actorID] = e
}

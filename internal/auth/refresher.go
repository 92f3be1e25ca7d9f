package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Refresher rotates refresh tokens. Each refresh token is accepted once.
type Refresher struct {
	issuer    *Issuer
	registry  *Registry
	rotations RotationStore
	now       func() time.Time
}

// NewRefresher wires the rotation flow.
func NewRefresher(issuer *Issuer, registry *Registry, rotations RotationStore, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{issuer: issuer, registry: registry, rotations: rotations, now: now}
}

// Rotate consumes refreshToken and returns a new pair whose expiry and
// refresh window are strictly later than the consumed token's. A non-empty
// role rejects tokens issued to other roles before anything is consumed.
func (r *Refresher) Rotate(ctx context.Context, role Role, refreshToken string) (TokenPair, *Claims, error) {
	claims, err := r.parse(role, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	actor, err := r.registry.MustBeActive(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrAuthentication
		}
		return TokenPair{}, nil, err
	}
	if actor.Role != claims.Role || actor.TenantID != claims.TenantID {
		return TokenPair{}, nil, ErrAuthentication
	}
	if err := r.consume(ctx, claims); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := r.issuer.IssueAfter(claims.IssuedAt.Time, actor.ID, actor.Role, actor.TenantID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, claims, nil
}

// Revoke consumes refreshToken without issuing a replacement. Revoking a
// token that was already consumed succeeds.
func (r *Refresher) Revoke(ctx context.Context, role Role, refreshToken string) (*Claims, error) {
	claims, err := r.parse(role, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := r.consume(ctx, claims); err != nil && !errors.Is(err, ErrTokenReplayed) {
		return nil, err
	}
	return claims, nil
}

func (r *Refresher) parse(role Role, refreshToken string) (*Claims, error) {
	claims, err := r.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	if role != "" && claims.Role != role {
		return nil, fmt.Errorf("%w: token issued to role %s", ErrAuthentication, claims.Role)
	}
	return claims, nil
}

func (r *Refresher) consume(ctx context.Context, claims *Claims) error {
	ok, err := r.rotations.MarkUsed(ctx, Rotation{
		TokenID:   claims.ID,
		ActorID:   claims.Subject,
		UsedAt:    r.now().UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	})
	if err != nil {
		return fmt.Errorf("mark refresh token used: %w", err)
	}
	if !ok {
		return ErrTokenReplayed
	}
	return nil
}

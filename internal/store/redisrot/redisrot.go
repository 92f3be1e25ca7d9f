// Package redisrot keeps refresh-token rotation markers in Redis so that
// several API replicas agree on which refresh tokens were already used.
package redisrot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"actorgate.org/internal/auth"
)

const defaultPrefix = "actorgate:rotation:"

// Store implements auth.RotationStore with SET NX. Markers expire on their
// own once the refresh token they guard has expired.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.RotationStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithPrefix namespaces marker keys.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to the redis:// URL and verifies the connection.
func Dial(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts...), nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) key(tokenID string) string { return s.prefix + tokenID }

func (s *Store) MarkUsed(ctx context.Context, r auth.Rotation) (bool, error) {
	ttl := r.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.key(r.TokenID), r.ActorID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// PurgeExpired is a no-op: Redis evicts markers through their TTL.
func (s *Store) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

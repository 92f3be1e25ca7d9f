package sqlite

import (
	"context"
	"time"

	"actorgate.org/internal/auth"
)

type rotations struct{ q querier }

func (s rotations) MarkUsed(ctx context.Context, r auth.Rotation) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_rotations (token_id, actor_id, used_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (token_id) DO NOTHING
	`, r.TokenID, r.ActorID, toMillis(r.UsedAt), toMillis(r.ExpiresAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s rotations) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM refresh_rotations WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package pg

import (
	"context"
	"time"

	"actorgate.org/internal/auth"
)

type rotations struct{ q querier }

// MarkUsed relies on the primary key: of concurrent inserts only one row lands.
func (s rotations) MarkUsed(ctx context.Context, r auth.Rotation) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		insert into refresh_rotations (token_id, actor_id, used_at, expires_at)
		values ($1, $2, $3, $4)
		on conflict (token_id) do nothing
	`, r.TokenID, r.ActorID, r.UsedAt, r.ExpiresAt)
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
	res, err := s.q.ExecContext(ctx, `delete from refresh_rotations where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

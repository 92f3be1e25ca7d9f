package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"actorgate.org/internal/auth"
)

const credentialColumns = `id, actor_id, role, provider, provider_key, password_hash, last_authenticated_at, created_at, deleted_at`

type credentials struct{ q querier }

func scanCredential(row rowScanner) (*auth.Credential, error) {
	var (
		c       auth.Credential
		hash    sql.NullString
		lastAt  sql.NullTime
		deleted sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.ActorID, &c.Role, &c.Provider, &c.ProviderKey, &hash, &lastAt, &c.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if hash.Valid {
		h := hash.String
		c.PasswordHash = &h
	}
	if lastAt.Valid {
		at := lastAt.Time.UTC()
		c.LastAuthenticatedAt = &at
	}
	if deleted.Valid {
		at := deleted.Time.UTC()
		c.DeletedAt = &at
	}
	return &c, nil
}

func (s credentials) Create(ctx context.Context, c *auth.Credential) error {
	var hash sql.NullString
	if c.PasswordHash != nil {
		hash = sql.NullString{String: *c.PasswordHash, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		insert into credentials (id, actor_id, role, provider, provider_key, password_hash, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ActorID, string(c.Role), c.Provider, c.ProviderKey, hash, c.CreatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s credentials) FindLive(ctx context.Context, role auth.Role, provider, providerKey string) (*auth.Credential, error) {
	c, err := scanCredential(s.q.QueryRowContext(ctx, `
		select `+credentialColumns+` from credentials
		where role = $1 and provider = $2 and provider_key = $3 and deleted_at is null
	`, string(role), provider, providerKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return c, err
}

func (s credentials) ListByActor(ctx context.Context, actorID string) ([]*auth.Credential, error) {
	rows, err := s.q.QueryContext(ctx, `select `+credentialColumns+` from credentials where actor_id = $1 order by id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s credentials) TouchAuthenticated(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `update credentials set last_authenticated_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s credentials) SoftDeleteByActor(ctx context.Context, actorID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update credentials set deleted_at = $2
		where actor_id = $1 and deleted_at is null
	`, actorID, at)
	return err
}

package sqlite

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
		lastAt  sql.NullInt64
		created int64
		deleted sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.ActorID, &c.Role, &c.Provider, &c.ProviderKey, &hash, &lastAt, &created, &deleted); err != nil {
		return nil, err
	}
	if hash.Valid {
		h := hash.String
		c.PasswordHash = &h
	}
	c.LastAuthenticatedAt = nullMillis(lastAt)
	c.CreatedAt = fromMillis(created)
	c.DeletedAt = nullMillis(deleted)
	return &c, nil
}

func (s credentials) Create(ctx context.Context, c *auth.Credential) error {
	var hash sql.NullString
	if c.PasswordHash != nil {
		hash = sql.NullString{String: *c.PasswordHash, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credentials (id, actor_id, role, provider, provider_key, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ActorID, string(c.Role), c.Provider, c.ProviderKey, hash, toMillis(c.CreatedAt))
	if isConstraintError(err) {
		return auth.ErrConflict
	}
	return err
}

func (s credentials) FindLive(ctx context.Context, role auth.Role, provider, providerKey string) (*auth.Credential, error) {
	c, err := scanCredential(s.q.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE role = ? AND provider = ? AND provider_key = ? AND deleted_at IS NULL
	`, string(role), provider, providerKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return c, err
}

func (s credentials) ListByActor(ctx context.Context, actorID string) ([]*auth.Credential, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE actor_id = ? ORDER BY id`, actorID)
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
	res, err := s.q.ExecContext(ctx, `UPDATE credentials SET last_authenticated_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s credentials) SoftDeleteByActor(ctx context.Context, actorID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE credentials SET deleted_at = ?
		WHERE actor_id = ? AND deleted_at IS NULL
	`, toMillis(at), actorID)
	return err
}

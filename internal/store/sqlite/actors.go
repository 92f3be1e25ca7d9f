package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"actorgate.org/internal/auth"
)

const actorColumns = `id, role, tenant_id, email, display_name, status, created_at, updated_at, deleted_at`

type actors struct{ q querier }

func scanActor(row rowScanner) (*auth.Actor, error) {
	var (
		a                auth.Actor
		tenant           sql.NullString
		created, updated int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Role, &tenant, &a.Email, &a.DisplayName, &a.Status, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	a.TenantID = tenant.String
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	a.DeletedAt = nullMillis(deleted)
	return &a, nil
}

func (s actors) Create(ctx context.Context, a *auth.Actor) error {
	var tenant sql.NullString
	if a.TenantID != "" {
		tenant = sql.NullString{String: a.TenantID, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO actors (id, role, tenant_id, email, display_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Role), tenant, a.Email, a.DisplayName, string(a.Status), toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if isConstraintError(err) {
		return auth.ErrConflict
	}
	return err
}

func (s actors) Find(ctx context.Context, id string) (*auth.Actor, error) {
	a, err := scanActor(s.q.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return a, err
}

func (s actors) List(ctx context.Context, f auth.ActorFilter) ([]*auth.Actor, error) {
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	if f.Role != "" {
		where, args = append(where, "role = ?"), append(args, string(f.Role))
	}
	if f.TenantID != "" {
		where, args = append(where, "tenant_id = ?"), append(args, f.TenantID)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	query := `SELECT ` + actorColumns + ` FROM actors WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*auth.Actor, 0)
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s actors) UpdateStatus(ctx context.Context, id string, status auth.ActorStatus, at time.Time) (*auth.Actor, error) {
	a, err := scanActor(s.q.QueryRowContext(ctx, `
		UPDATE actors SET status = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING `+actorColumns, string(status), toMillis(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return a, err
}

func (s actors) SoftDelete(ctx context.Context, id string, at time.Time) error {
	ms := toMillis(at)
	res, err := s.q.ExecContext(ctx, `
		UPDATE actors SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, ms, ms, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

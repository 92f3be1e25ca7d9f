package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"actorgate.org/internal/auth"
)

const actorColumns = `id, role, tenant_id, email, display_name, status, created_at, updated_at, deleted_at`

type actors struct{ q querier }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*auth.Actor, error) {
	var (
		a       auth.Actor
		tenant  sql.NullString
		deleted sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Role, &tenant, &a.Email, &a.DisplayName, &a.Status, &a.CreatedAt, &a.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	a.TenantID = tenant.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if deleted.Valid {
		at := deleted.Time.UTC()
		a.DeletedAt = &at
	}
	return &a, nil
}

func (s actors) Create(ctx context.Context, a *auth.Actor) error {
	_, err := s.q.ExecContext(ctx, `
		insert into actors (`+actorColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, null)
	`, a.ID, string(a.Role), nullIfEmpty(a.TenantID), a.Email, a.DisplayName, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrConflict
	}
	return err
}

func (s actors) Find(ctx context.Context, id string) (*auth.Actor, error) {
	a, err := scanActor(s.q.QueryRowContext(ctx, `select `+actorColumns+` from actors where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return a, err
}

func (s actors) List(ctx context.Context, f auth.ActorFilter) ([]*auth.Actor, error) {
	var (
		where = []string{"deleted_at is null"}
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, clause+" = $"+strconv.Itoa(len(args)))
	}
	if f.Role != "" {
		add("role", string(f.Role))
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	query := `select ` + actorColumns + ` from actors where ` + strings.Join(where, " and ") + ` order by id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` limit $` + strconv.Itoa(len(args))
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
		update actors set status = $2, updated_at = $3
		where id = $1 and deleted_at is null
		returning `+actorColumns, id, string(status), at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return a, err
}

func (s actors) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update actors set deleted_at = $2, updated_at = $2
		where id = $1 and deleted_at is null
	`, id, at)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

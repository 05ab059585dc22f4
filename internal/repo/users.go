package repo

import (
	"context"
	"database/sql"
	"errors"

	"playline/internal/domain"
)

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	if u.GlobalRole == "" {
		u.GlobalRole = domain.GlobalRoleMember
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,tenant_id,display_name,global_role,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=COALESCE(excluded.display_name, users.display_name)`,
		u.ID, u.TenantID, nullable(u.DisplayName), u.GlobalRole, u.CreatedAt)
	return err
}

// EnsureUserTx creates the user if it does not exist yet and leaves any
// existing row untouched.
func (r Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, id, tenantID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id,tenant_id,global_role,created_at) VALUES (?,?,?,?)`,
		id, tenantID, domain.GlobalRoleMember, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	var (
		u    domain.User
		name sql.NullString
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,tenant_id,display_name,global_role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.TenantID, &name, &u.GlobalRole, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.DisplayName = name.String
	return u, err
}

func (r Repo) SetGlobalRole(ctx context.Context, id, role string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET global_role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context, tenantID string) ([]domain.User, error) {
	query := `SELECT id,tenant_id,COALESCE(display_name,''),global_role,created_at FROM users`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id=?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.DisplayName, &u.GlobalRole, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

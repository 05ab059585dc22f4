package repo

import (
	"context"
	"database/sql"

	"playline/internal/domain"
)

func (r Repo) GrantTenantRole(ctx context.Context, tx *sql.Tx, g domain.TenantRoleGrant) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO tenant_roles(tenant_id, user_id, role, granted_by, created_at) VALUES (?,?,?,?,?)`,
		g.TenantID, g.UserID, g.Role, nullable(g.GrantedBy), g.CreatedAt)
	return err
}

func (r Repo) RevokeTenantRole(ctx context.Context, tx *sql.Tx, tenantID, userID, role string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tenant_roles WHERE tenant_id=? AND user_id=? AND role=?`, tenantID, userID, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasTenantRole(ctx context.Context, tenantID, userID, role string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tenant_roles WHERE tenant_id=? AND user_id=? AND role=?`, tenantID, userID, role).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListTenantRoles(ctx context.Context, tenantID string) ([]domain.TenantRoleGrant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tenant_id, user_id, role, granted_by, created_at FROM tenant_roles WHERE tenant_id=? ORDER BY user_id, role`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TenantRoleGrant
	for rows.Next() {
		var (
			g  domain.TenantRoleGrant
			by sql.NullString
		)
		if err := rows.Scan(&g.TenantID, &g.UserID, &g.Role, &by, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.GrantedBy = by.String
		out = append(out, g)
	}
	return out, rows.Err()
}

package repo

import (
	"context"
	"database/sql"

	"playline/internal/domain"
)

// EnsureQuotaTx lazily creates the tenant's no-expiry token quota row.
func (r Repo) EnsureQuotaTx(ctx context.Context, tx *sql.Tx, tenantID string, limit int, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO participant_token_quotas(tenant_id,no_expiry_tokens_limit,no_expiry_tokens_used,created_at,updated_at)
VALUES (?,?,0,?,?)`, tenantID, limit, now, now)
	return err
}

// ConsumeNoExpiryQuotaTx increments usage only while it is below the limit.
// It reports false when the quota is exhausted. The check and the increment
// are one statement, so concurrent callers cannot both pass.
func (r Repo) ConsumeNoExpiryQuotaTx(ctx context.Context, tx *sql.Tx, tenantID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE participant_token_quotas
SET no_expiry_tokens_used = no_expiry_tokens_used + 1, updated_at=?
WHERE tenant_id=? AND no_expiry_tokens_used < no_expiry_tokens_limit`, now, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetQuota(ctx context.Context, tenantID string) (domain.TokenQuota, error) {
	q := domain.TokenQuota{TenantID: tenantID}
	err := r.DB.QueryRowContext(ctx, `SELECT no_expiry_tokens_limit, no_expiry_tokens_used FROM participant_token_quotas WHERE tenant_id=?`, tenantID).
		Scan(&q.Limit, &q.Used)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

func (r Repo) SetQuotaLimit(ctx context.Context, tenantID string, limit int) error {
	now := nowString()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO participant_token_quotas(tenant_id,no_expiry_tokens_limit,no_expiry_tokens_used,created_at,updated_at)
VALUES (?,?,0,?,?)
ON CONFLICT(tenant_id) DO UPDATE SET no_expiry_tokens_limit=excluded.no_expiry_tokens_limit, updated_at=excluded.updated_at`,
		tenantID, limit, now, now)
	return err
}

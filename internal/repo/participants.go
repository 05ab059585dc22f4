package repo

import (
	"context"
	"database/sql"
	"strings"

	"playline/internal/domain"
)

const participantColumns = `id,session_id,display_name,token,token_expires_at,status,role_id,joined_at,last_seen_at`

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		p                   domain.Participant
		expires, role, seen sql.NullString
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.Token, &expires, &p.Status, &role, &p.JoinedAt, &seen)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.TokenExpiresAt = ptrFromNull(expires)
	p.RoleID = ptrFromNull(role)
	p.LastSeenAt = ptrFromNull(seen)
	return p, err
}

func (r Repo) InsertParticipantTx(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(id,session_id,display_name,token,token_expires_at,status,role_id,joined_at,last_seen_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.SessionID, p.DisplayName, p.Token, nullablePtr(p.TokenExpiresAt), p.Status, nullablePtr(p.RoleID), p.JoinedAt, nullablePtr(p.LastSeenAt))
	return err
}

func (r Repo) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=?`, id))
}

func (r Repo) GetParticipantByToken(ctx context.Context, token string) (domain.Participant, error) {
	return scanParticipant(r.DB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE token=?`, token))
}

func (r Repo) GetParticipantByTokenTx(ctx context.Context, tx *sql.Tx, token string) (domain.Participant, error) {
	return scanParticipant(tx.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE token=?`, token))
}

// FindParticipantByNameTx matches display names case-insensitively within a session.
func (r Repo) FindParticipantByNameTx(ctx context.Context, tx *sql.Tx, sessionID, name string) (domain.Participant, error) {
	return scanParticipant(tx.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id=? AND lower(display_name)=? ORDER BY joined_at DESC LIMIT 1`,
		sessionID, strings.ToLower(strings.TrimSpace(name))))
}

func (r Repo) CountParticipantsTx(ctx context.Context, tx *sql.Tx, sessionID string, statuses ...string) (int, error) {
	query := `SELECT COUNT(*) FROM participants WHERE session_id=?`
	args := []any{sessionID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	var n int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r Repo) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE session_id=? ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetParticipantStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE participants SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateParticipantTokenTx is used on rejoin so that a stale token stops working.
func (r Repo) RotateParticipantTokenTx(ctx context.Context, tx *sql.Tx, id, token string, expiresAt *string, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE participants SET token=?, token_expires_at=?, last_seen_at=? WHERE id=?`, token, nullablePtr(expiresAt), now, id)
	return err
}

func (r Repo) TouchParticipant(ctx context.Context, id, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE participants SET last_seen_at=? WHERE id=?`, now, id)
	return err
}

func (r Repo) AssignParticipantRoleTx(ctx context.Context, tx *sql.Tx, id string, roleID *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE participants SET role_id=? WHERE id=?`, nullablePtr(roleID), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

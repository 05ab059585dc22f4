package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"playline/internal/domain"
)

const sessionColumns = `id,tenant_id,host_user_id,game_id,plan_id,session_code,display_name,description,status,settings_json,
expires_at,started_at,paused_at,ended_at,archived_at,current_step_index,current_phase_index,timer_state_json,board_state_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                                         domain.Session
		gameID, planID, desc                      sql.NullString
		expires, started, paused, ended, archived sql.NullString
		settings                                  string
		timer, board                              sql.NullString
	)
	err := row.Scan(&s.ID, &s.TenantID, &s.HostUserID, &gameID, &planID, &s.Code, &s.DisplayName, &desc, &s.Status, &settings,
		&expires, &started, &paused, &ended, &archived, &s.CurrentStepIndex, &s.CurrentPhaseIndex, &timer, &board, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.GameID = ptrFromNull(gameID)
	s.PlanID = ptrFromNull(planID)
	s.Description = desc.String
	s.ExpiresAt = ptrFromNull(expires)
	s.StartedAt = ptrFromNull(started)
	s.PausedAt = ptrFromNull(paused)
	s.EndedAt = ptrFromNull(ended)
	s.ArchivedAt = ptrFromNull(archived)
	if err := json.Unmarshal([]byte(settings), &s.Settings); err != nil {
		return s, fmt.Errorf("decode session settings: %w", err)
	}
	if timer.Valid && timer.String != "" {
		s.TimerState = &domain.TimerState{}
		if err := fromJSON(timer, s.TimerState); err != nil {
			return s, fmt.Errorf("decode timer state: %w", err)
		}
	}
	if board.Valid && board.String != "" {
		s.BoardState = &domain.BoardState{}
		if err := fromJSON(board, s.BoardState); err != nil {
			return s, fmt.Errorf("decode board state: %w", err)
		}
	}
	return s, nil
}

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	settings, err := toJSON(s.Settings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO participant_sessions(id,tenant_id,host_user_id,game_id,plan_id,session_code,display_name,description,status,settings_json,expires_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TenantID, s.HostUserID, nullablePtr(s.GameID), nullablePtr(s.PlanID), s.Code, s.DisplayName, nullable(s.Description),
		s.Status, settings, nullablePtr(s.ExpiresAt), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return r.GetSessionTx(ctx, nil, id)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	return scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM participant_sessions WHERE id=?`, id))
}

// GetSessionByCode expects an already normalized code.
func (r Repo) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM participant_sessions WHERE session_code=?`, code))
}

func (r Repo) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM participant_sessions WHERE session_code=? LIMIT 1`, code).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type SessionFilters struct {
	TenantID        string
	HostUserID      string
	Status          string
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, f.TenantID)
	}
	if f.HostUserID != "" {
		clauses = append(clauses, "host_user_id=?")
		args = append(args, f.HostUserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	} else if !f.IncludeArchived {
		clauses = append(clauses, "status<>?")
		args = append(args, domain.SessionArchived)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + sessionColumns + ` FROM participant_sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSessionStatusTx sets status and stamps the column that goes with it.
func (r Repo) UpdateSessionStatusTx(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{status, now}
	switch status {
	case domain.SessionPaused:
		fields = append(fields, "paused_at=?")
		args = append(args, now)
	case domain.SessionActive:
		fields = append(fields, "paused_at=NULL")
	case domain.SessionEnded, domain.SessionCancelled:
		fields = append(fields, "ended_at=?")
		args = append(args, now)
	case domain.SessionArchived:
		fields = append(fields, "archived_at=?")
		args = append(args, now)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE participant_sessions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveEndedBeforeTx archives ended or cancelled sessions whose ended_at is
// older than cutoff and returns their ids.
func (r Repo) ArchiveEndedBeforeTx(ctx context.Context, tx *sql.Tx, cutoff, now string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM participant_sessions WHERE status IN (?,?) AND ended_at IS NOT NULL AND ended_at < ? ORDER BY ended_at`,
		domain.SessionEnded, domain.SessionCancelled, cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE participant_sessions SET status=?, archived_at=?, updated_at=? WHERE id=?`,
			domain.SessionArchived, now, now, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r Repo) StartSessionTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE participant_sessions SET started_at=COALESCE(started_at, ?), updated_at=? WHERE id=?`, now, now, id)
	return err
}

// SessionRuntimeUpdate carries optional runtime changes; nil fields are left alone.
type SessionRuntimeUpdate struct {
	CurrentStepIndex  *int
	CurrentPhaseIndex *int
	TimerState        **domain.TimerState
	BoardState        *domain.BoardState
}

func (r Repo) UpdateSessionRuntimeTx(ctx context.Context, tx *sql.Tx, id string, u SessionRuntimeUpdate, now string) error {
	fields := []string{"updated_at=?"}
	args := []any{now}
	if u.CurrentStepIndex != nil {
		fields = append(fields, "current_step_index=?")
		args = append(args, *u.CurrentStepIndex)
	}
	if u.CurrentPhaseIndex != nil {
		fields = append(fields, "current_phase_index=?")
		args = append(args, *u.CurrentPhaseIndex)
	}
	if u.TimerState != nil {
		timer, err := nullableJSON(*u.TimerState, *u.TimerState == nil)
		if err != nil {
			return err
		}
		fields = append(fields, "timer_state_json=?")
		args = append(args, timer)
	}
	if u.BoardState != nil {
		board, err := toJSON(u.BoardState)
		if err != nil {
			return err
		}
		fields = append(fields, "board_state_json=?")
		args = append(args, board)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE participant_sessions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertSessionRolesTx(ctx context.Context, tx *sql.Tx, roles []domain.SessionRole) error {
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_roles(id,session_id,source_role_id,role_order,name,description,min_count,max_count) VALUES (?,?,?,?,?,?,?,?)`,
			role.ID, role.SessionID, nullablePtr(role.SourceRoleID), role.Order, role.Name, nullable(role.Description), role.MinCount, nullableInt(role.MaxCount)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteSessionRolesTx(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM session_roles WHERE session_id=?`, sessionID)
	return err
}

func (r Repo) ListSessionRoles(ctx context.Context, sessionID string) ([]domain.SessionRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,session_id,source_role_id,role_order,name,COALESCE(description,''),min_count,max_count
FROM session_roles WHERE session_id=? ORDER BY role_order`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionRole
	for rows.Next() {
		var (
			role   domain.SessionRole
			source sql.NullString
			max    sql.NullInt64
		)
		if err := rows.Scan(&role.ID, &role.SessionID, &source, &role.Order, &role.Name, &role.Description, &role.MinCount, &max); err != nil {
			return nil, err
		}
		role.SourceRoleID = ptrFromNull(source)
		role.MaxCount = intPtrFromNull(max)
		res = append(res, role)
	}
	return res, rows.Err()
}

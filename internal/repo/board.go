package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"playline/internal/domain"
)

// SetArtifactRevealedTx reveals (revealed=true) or hides an artifact for a session.
func (r Repo) SetArtifactRevealedTx(ctx context.Context, tx *sql.Tx, sessionID, artifactID string, revealed bool, now string) error {
	var at any
	if revealed {
		at = now
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO session_artifact_states(session_id,artifact_id,revealed_at) VALUES (?,?,?)
ON CONFLICT(session_id,artifact_id) DO UPDATE SET revealed_at=excluded.revealed_at`, sessionID, artifactID, at)
	return err
}

// SetArtifactHighlightTx highlights one artifact and clears the highlight on the rest.
func (r Repo) SetArtifactHighlightTx(ctx context.Context, tx *sql.Tx, sessionID, artifactID string, now string) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `UPDATE session_artifact_states SET highlighted_at=NULL WHERE session_id=?`, sessionID); err != nil {
		return err
	}
	if artifactID == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, `INSERT INTO session_artifact_states(session_id,artifact_id,highlighted_at) VALUES (?,?,?)
ON CONFLICT(session_id,artifact_id) DO UPDATE SET highlighted_at=excluded.highlighted_at`, sessionID, artifactID, now)
	return err
}

func (r Repo) ListArtifactStates(ctx context.Context, sessionID string) ([]domain.ArtifactState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT artifact_id, revealed_at, highlighted_at FROM session_artifact_states WHERE session_id=? ORDER BY artifact_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ArtifactState
	for rows.Next() {
		var (
			st                    domain.ArtifactState
			revealed, highlighted sql.NullString
		)
		if err := rows.Scan(&st.ArtifactID, &revealed, &highlighted); err != nil {
			return nil, err
		}
		st.RevealedAt = ptrFromNull(revealed)
		st.HighlightedAt = ptrFromNull(highlighted)
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	options, err := toJSON(d.Options)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO session_decisions(id,session_id,title,options_json,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.SessionID, d.Title, options, d.CreatedAt)
	return err
}

// RevealDecisionTx publishes the results of a decision to the board.
func (r Repo) RevealDecisionTx(ctx context.Context, tx *sql.Tx, sessionID, id string, results map[string]int, now string) error {
	data, err := nullableJSON(results, len(results) == 0)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE session_decisions SET results_json=COALESCE(?, results_json), revealed_at=? WHERE id=? AND session_id=?`,
		data, now, id, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDecisions returns every decision, or only revealed ones for the board.
func (r Repo) ListDecisions(ctx context.Context, sessionID string, revealedOnly bool) ([]domain.Decision, error) {
	query := `SELECT id,session_id,title,options_json,results_json,revealed_at,created_at FROM session_decisions WHERE session_id=?`
	if revealedOnly {
		query += ` AND revealed_at IS NOT NULL`
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		var (
			d                 domain.Decision
			options           string
			results, revealed sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Title, &options, &results, &revealed, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &d.Options); err != nil {
			return nil, err
		}
		if err := fromJSON(results, &d.Results); err != nil {
			return nil, err
		}
		d.RevealedAt = ptrFromNull(revealed)
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertOutcomeTx(ctx context.Context, tx *sql.Tx, o domain.Outcome) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO session_outcomes(id,session_id,title,body,revealed_at,created_at) VALUES (?,?,?,?,?,?)`,
		o.ID, o.SessionID, o.Title, nullable(o.Body), nullablePtr(o.RevealedAt), o.CreatedAt)
	return err
}

func (r Repo) ListOutcomes(ctx context.Context, sessionID string, revealedOnly bool) ([]domain.Outcome, error) {
	query := `SELECT id,session_id,title,COALESCE(body,''),revealed_at,created_at FROM session_outcomes WHERE session_id=?`
	if revealedOnly {
		query += ` AND revealed_at IS NOT NULL`
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Outcome
	for rows.Next() {
		var (
			o        domain.Outcome
			revealed sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Title, &o.Body, &revealed, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.RevealedAt = ptrFromNull(revealed)
		res = append(res, o)
	}
	return res, rows.Err()
}

// TriggerFiredCountTx returns how many times a trigger has fired in a session.
func (r Repo) TriggerFiredCountTx(ctx context.Context, tx *sql.Tx, sessionID, triggerID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT fired_count FROM session_trigger_states WHERE session_id=? AND trigger_id=?`, sessionID, triggerID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (r Repo) RecordTriggerFiredTx(ctx context.Context, tx *sql.Tx, sessionID, triggerID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO session_trigger_states(session_id,trigger_id,fired_count,last_fired_at) VALUES (?,?,1,?)
ON CONFLICT(session_id,trigger_id) DO UPDATE SET fired_count=fired_count+1, last_fired_at=excluded.last_fired_at`, sessionID, triggerID, now)
	return err
}

func (r Repo) InsertPendingActionTx(ctx context.Context, tx *sql.Tx, p domain.PendingAction) error {
	action, err := json.Marshal(p.Action)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO session_pending_actions(id,session_id,trigger_id,action_json,due_at) VALUES (?,?,?,?,?)`,
		p.ID, p.SessionID, p.TriggerID, string(action), p.DueAt)
	return err
}

// DuePendingActions lists unexecuted actions due at or before now, oldest first.
func (r Repo) DuePendingActions(ctx context.Context, now string, limit int) ([]domain.PendingAction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,session_id,trigger_id,action_json,due_at FROM session_pending_actions
WHERE executed_at IS NULL AND due_at <= ? ORDER BY due_at, id LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingAction
	for rows.Next() {
		var (
			p      domain.PendingAction
			action string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.TriggerID, &action, &p.DueAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(action), &p.Action); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkPendingActionExecutedTx reports false when another sweeper already ran it.
func (r Repo) MarkPendingActionExecutedTx(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE session_pending_actions SET executed_at=? WHERE id=? AND executed_at IS NULL`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

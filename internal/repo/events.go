package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"playline/internal/domain"
)

type EventFilters struct {
	SessionID string
	AfterID   int64
	Type      string
	// TypeContains matches events whose type contains the substring, e.g. "signal".
	TypeContains string
	Limit        int
	Newest       bool
}

func scanEvent(row rowScanner) (domain.SessionEvent, error) {
	var (
		evt                           domain.SessionEvent
		actorType, actorID, actorName sql.NullString
		payload                       string
	)
	if err := row.Scan(&evt.ID, &evt.SessionID, &evt.Timestamp, &evt.Type, &actorType, &actorID, &actorName, &payload); err != nil {
		return evt, err
	}
	evt.ActorType = actorType.String
	evt.ActorID = actorID.String
	evt.ActorName = actorName.String
	evt.Payload = map[string]any{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return evt, err
		}
	}
	return evt, nil
}

// ListEvents returns session events oldest first, or newest first when
// f.Newest is set. AfterID pages forward from a previously seen id.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.SessionEvent, error) {
	var (
		clauses []string
		args    []any
	)
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.TypeContains != "" {
		clauses = append(clauses, "instr(type, ?) > 0")
		args = append(args, f.TypeContains)
	}
	query := `SELECT id,session_id,ts,type,actor_type,actor_id,actor_name,payload_json FROM session_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if f.Newest {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// LatestEventID returns 0 when the session has no events.
func (r Repo) LatestEventID(ctx context.Context, sessionID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM session_events WHERE session_id=?`, sessionID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// EventsAfterForTenant pages events across every session of a tenant.
func (r Repo) EventsAfterForTenant(ctx context.Context, tenantID string, afterID int64, limit int) ([]domain.SessionEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT e.id,e.session_id,e.ts,e.type,e.actor_type,e.actor_id,e.actor_name,e.payload_json
FROM session_events e JOIN participant_sessions s ON s.id=e.session_id
WHERE s.tenant_id=? AND e.id>? ORDER BY e.id ASC LIMIT ?`, tenantID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// MaxEventID is the starting cursor for dispatchers that skip history.
func (r Repo) MaxEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM session_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Actor identifies who caused an event.
type Actor struct {
	Type string
	ID   string
	Name string
}

// Append writes a session event inside tx and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, sessionID, evtType string, actor Actor, payload EventPayload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO session_events(session_id,ts,type,actor_type,actor_id,actor_name,payload_json) VALUES (?,?,?,?,?,?,?)`,
		sessionID, ts, evtType, nullable(actor.Type), nullable(actor.ID), nullable(actor.Name), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"playline/internal/domain"
)

// UpsertGameContent commits a game and all of its content in one
// transaction. An existing game with the same key keeps its id and has its
// content replaced; nothing is visible to readers until commit.
func (r Repo) UpsertGameContent(ctx context.Context, content domain.GameContent) (domain.ContentCounts, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ContentCounts{}, err
	}
	defer tx.Rollback()

	g := content.Game
	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM games WHERE tenant_id=? AND game_key=?`, g.TenantID, g.GameKey).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.ContentCounts{}, err
	default:
		if existingID != g.ID {
			return domain.ContentCounts{}, fmt.Errorf("game %s already stored as %s", g.GameKey, existingID)
		}
	}
	boardConfig, err := nullableJSON(g.BoardConfig, len(g.BoardConfig) == 0)
	if err != nil {
		return domain.ContentCounts{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO games(id,tenant_id,game_key,name,short_description,description,play_mode,status,locale,board_config_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, short_description=excluded.short_description, description=excluded.description,
play_mode=excluded.play_mode, status=excluded.status, locale=excluded.locale, board_config_json=excluded.board_config_json, updated_at=excluded.updated_at`,
		g.ID, g.TenantID, g.GameKey, g.Name, nullable(g.ShortDescription), nullable(g.Description), g.PlayMode, g.Status, nullable(g.Locale),
		boardConfig, g.CreatedAt, g.UpdatedAt); err != nil {
		return domain.ContentCounts{}, fmt.Errorf("upsert game: %w", err)
	}
	for _, table := range []string{"game_triggers", "game_artifacts", "game_steps", "game_phases", "game_roles", "game_materials"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE game_id=?`, g.ID); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, p := range content.Phases {
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_phases(id,game_id,phase_order,name,phase_type,description,duration_seconds,board_message) VALUES (?,?,?,?,?,?,?,?)`,
			p.ID, g.ID, p.Order, p.Name, nullable(p.PhaseType), nullable(p.Description), nullableInt(p.DurationSeconds), nullable(p.BoardMessage)); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert phase %d: %w", p.Order, err)
		}
	}
	for _, s := range content.Steps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_steps(id,game_id,phase_id,step_order,title,body,board_text,leader_script,duration_seconds) VALUES (?,?,?,?,?,?,?,?,?)`,
			s.ID, g.ID, nullablePtr(s.PhaseID), s.Order, s.Title, nullable(s.Body), nullable(s.BoardText), nullable(s.LeaderScript), nullableInt(s.DurationSeconds)); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert step %d: %w", s.Order, err)
		}
	}
	for _, role := range content.Roles {
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_roles(id,game_id,role_order,name,description,min_count,max_count) VALUES (?,?,?,?,?,?,?)`,
			role.ID, g.ID, role.Order, role.Name, nullable(role.Description), role.MinCount, nullableInt(role.MaxCount)); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert role %d: %w", role.Order, err)
		}
	}
	if m := content.Materials; m != nil {
		items, err := toJSON(m.Items)
		if err != nil {
			return domain.ContentCounts{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_materials(game_id,items_json,safety_notes,preparation) VALUES (?,?,?,?)`,
			g.ID, items, nullable(m.SafetyNotes), nullable(m.Preparation)); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert materials: %w", err)
		}
	}
	for _, a := range content.Artifacts {
		meta, err := nullableJSON(a.Metadata, len(a.Metadata) == 0)
		if err != nil {
			return domain.ContentCounts{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_artifacts(id,game_id,artifact_order,title,artifact_type,description,metadata_json) VALUES (?,?,?,?,?,?,?)`,
			a.ID, g.ID, a.Order, a.Title, a.Type, nullable(a.Description), meta); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert artifact %d: %w", a.Order, err)
		}
		for _, v := range a.Variants {
			if _, err := tx.ExecContext(ctx, `INSERT INTO game_artifact_variants(id,artifact_id,variant_order,title,body,visibility,visible_to_role_id) VALUES (?,?,?,?,?,?,?)`,
				v.ID, a.ID, v.Order, nullable(v.Title), nullable(v.Body), v.Visibility, nullablePtr(v.VisibleToRoleID)); err != nil {
				return domain.ContentCounts{}, fmt.Errorf("insert variant %d of artifact %d: %w", v.Order, a.Order, err)
			}
		}
	}
	for _, t := range content.Triggers {
		cond, err := json.Marshal(t.Condition)
		if err != nil {
			return domain.ContentCounts{}, err
		}
		actions, err := json.Marshal(t.Actions)
		if err != nil {
			return domain.ContentCounts{}, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO game_triggers(id,game_id,name,description,enabled,condition_json,actions_json,execute_once,delay_seconds,sort_order)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, g.ID, t.Name, nullable(t.Description), boolInt(t.Enabled), string(cond), string(actions), boolInt(t.ExecuteOnce), t.DelaySeconds, t.SortOrder); err != nil {
			return domain.ContentCounts{}, fmt.Errorf("insert trigger %q: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ContentCounts{}, err
	}
	return content.Counts(), nil
}

const gameColumns = `id,tenant_id,game_key,name,short_description,description,play_mode,status,locale,board_config_json,created_at,updated_at`

func scanGame(row rowScanner) (domain.Game, error) {
	var (
		g                                domain.Game
		short, desc, locale, boardConfig sql.NullString
	)
	err := row.Scan(&g.ID, &g.TenantID, &g.GameKey, &g.Name, &short, &desc, &g.PlayMode, &g.Status, &locale, &boardConfig, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.ShortDescription = short.String
	g.Description = desc.String
	g.Locale = locale.String
	return g, fromJSON(boardConfig, &g.BoardConfig)
}

func (r Repo) GetGame(ctx context.Context, id string) (domain.Game, error) {
	return scanGame(r.DB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id=?`, id))
}

func (r Repo) GetGameByKey(ctx context.Context, tenantID, gameKey string) (domain.Game, error) {
	return scanGame(r.DB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE tenant_id=? AND game_key=?`, tenantID, gameKey))
}

func (r Repo) ListGames(ctx context.Context, tenantID string) ([]domain.Game, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+gameColumns+` FROM games WHERE tenant_id=? ORDER BY game_key`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) ListPhases(ctx context.Context, gameID string) ([]domain.Phase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,game_id,phase_order,name,COALESCE(phase_type,''),COALESCE(description,''),duration_seconds,COALESCE(board_message,'')
FROM game_phases WHERE game_id=? ORDER BY phase_order`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		var (
			p   domain.Phase
			dur sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.GameID, &p.Order, &p.Name, &p.PhaseType, &p.Description, &dur, &p.BoardMessage); err != nil {
			return nil, err
		}
		p.DurationSeconds = intPtrFromNull(dur)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListSteps(ctx context.Context, gameID string) ([]domain.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,game_id,phase_id,step_order,title,COALESCE(body,''),COALESCE(board_text,''),COALESCE(leader_script,''),duration_seconds
FROM game_steps WHERE game_id=? ORDER BY step_order`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Step
	for rows.Next() {
		var (
			s     domain.Step
			phase sql.NullString
			dur   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.GameID, &phase, &s.Order, &s.Title, &s.Body, &s.BoardText, &s.LeaderScript, &dur); err != nil {
			return nil, err
		}
		s.PhaseID = ptrFromNull(phase)
		s.DurationSeconds = intPtrFromNull(dur)
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListRoles(ctx context.Context, gameID string) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,game_id,role_order,name,COALESCE(description,''),min_count,max_count FROM game_roles WHERE game_id=? ORDER BY role_order`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Role
	for rows.Next() {
		var (
			role domain.Role
			max  sql.NullInt64
		)
		if err := rows.Scan(&role.ID, &role.GameID, &role.Order, &role.Name, &role.Description, &role.MinCount, &max); err != nil {
			return nil, err
		}
		role.MaxCount = intPtrFromNull(max)
		res = append(res, role)
	}
	return res, rows.Err()
}

func (r Repo) GetMaterials(ctx context.Context, gameID string) (*domain.Materials, error) {
	var (
		m            domain.Materials
		items        string
		safety, prep sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT items_json, safety_notes, preparation FROM game_materials WHERE game_id=?`, gameID).Scan(&items, &safety, &prep)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &m.Items); err != nil {
		return nil, err
	}
	m.SafetyNotes = safety.String
	m.Preparation = prep.String
	return &m, nil
}

// ListArtifacts returns artifacts in order with their variants attached.
func (r Repo) ListArtifacts(ctx context.Context, gameID string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,game_id,artifact_order,title,artifact_type,COALESCE(description,''),metadata_json
FROM game_artifacts WHERE game_id=? ORDER BY artifact_order`, gameID)
	if err != nil {
		return nil, err
	}
	var res []domain.Artifact
	index := map[string]int{}
	for rows.Next() {
		var (
			a    domain.Artifact
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.GameID, &a.Order, &a.Title, &a.Type, &a.Description, &meta); err != nil {
			rows.Close()
			return nil, err
		}
		if err := fromJSON(meta, &a.Metadata); err != nil {
			rows.Close()
			return nil, err
		}
		a.Variants = []domain.ArtifactVariant{}
		index[a.ID] = len(res)
		res = append(res, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	vrows, err := r.DB.QueryContext(ctx, `SELECT v.id,v.artifact_id,v.variant_order,COALESCE(v.title,''),COALESCE(v.body,''),v.visibility,v.visible_to_role_id
FROM game_artifact_variants v JOIN game_artifacts a ON a.id=v.artifact_id
WHERE a.game_id=? ORDER BY a.artifact_order, v.variant_order`, gameID)
	if err != nil {
		return nil, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var (
			v    domain.ArtifactVariant
			role sql.NullString
		)
		if err := vrows.Scan(&v.ID, &v.ArtifactID, &v.Order, &v.Title, &v.Body, &v.Visibility, &role); err != nil {
			return nil, err
		}
		v.VisibleToRoleID = ptrFromNull(role)
		if i, ok := index[v.ArtifactID]; ok {
			res[i].Variants = append(res[i].Variants, v)
		}
	}
	return res, vrows.Err()
}

func (r Repo) ListTriggers(ctx context.Context, gameID string) ([]domain.Trigger, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,game_id,name,COALESCE(description,''),enabled,condition_json,actions_json,execute_once,delay_seconds,sort_order
FROM game_triggers WHERE game_id=? ORDER BY sort_order, id`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Trigger
	for rows.Next() {
		var (
			t                     domain.Trigger
			enabled, once         int
			condJSON, actionsJSON string
		)
		if err := rows.Scan(&t.ID, &t.GameID, &t.Name, &t.Description, &enabled, &condJSON, &actionsJSON, &once, &t.DelaySeconds, &t.SortOrder); err != nil {
			return nil, err
		}
		t.Enabled = enabled == 1
		t.ExecuteOnce = once == 1
		if err := json.Unmarshal([]byte(condJSON), &t.Condition); err != nil {
			return nil, fmt.Errorf("decode trigger %s condition: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &t.Actions); err != nil {
			return nil, fmt.Errorf("decode trigger %s actions: %w", t.ID, err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LoadGameContent reads back everything a content write stored.
func (r Repo) LoadGameContent(ctx context.Context, gameID string) (domain.GameContent, error) {
	var (
		c   domain.GameContent
		err error
	)
	if c.Game, err = r.GetGame(ctx, gameID); err != nil {
		return c, err
	}
	if c.Phases, err = r.ListPhases(ctx, gameID); err != nil {
		return c, err
	}
	if c.Steps, err = r.ListSteps(ctx, gameID); err != nil {
		return c, err
	}
	if c.Roles, err = r.ListRoles(ctx, gameID); err != nil {
		return c, err
	}
	if c.Materials, err = r.GetMaterials(ctx, gameID); err != nil {
		return c, err
	}
	if c.Artifacts, err = r.ListArtifacts(ctx, gameID); err != nil {
		return c, err
	}
	if c.Triggers, err = r.ListTriggers(ctx, gameID); err != nil {
		return c, err
	}
	return c, nil
}

// GameIDByKey returns "" when the tenant has no game with that key.
func (r Repo) GameIDByKey(ctx context.Context, tenantID, gameKey string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT id FROM games WHERE tenant_id=? AND game_key=?`, tenantID, gameKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func (r Repo) ArtifactInGame(ctx context.Context, gameID, artifactID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM game_artifacts WHERE game_id=? AND id=?`, gameID, artifactID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

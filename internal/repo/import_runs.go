package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"playline/internal/domain"
)

func (r Repo) InsertImportRun(ctx context.Context, run domain.ImportRun) error {
	if run.Issues == nil {
		run.Issues = []domain.ImportIssue{}
	}
	issues, err := json.Marshal(run.Issues)
	if err != nil {
		return err
	}
	counts, err := nullableJSON(run.Counts, run.Counts == nil)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO import_runs(id,tenant_id,game_key,game_id,status,issues_json,counts_json,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.TenantID, run.GameKey, nullablePtr(run.GameID), run.Status, string(issues), counts, run.CreatedBy, run.CreatedAt)
	return err
}

func (r Repo) ListImportRuns(ctx context.Context, tenantID, gameKey string, limit int) ([]domain.ImportRun, error) {
	query := `SELECT id,tenant_id,game_key,game_id,status,issues_json,counts_json,created_by,created_at FROM import_runs WHERE tenant_id=?`
	args := []any{tenantID}
	if gameKey != "" {
		query += ` AND game_key=?`
		args = append(args, gameKey)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ImportRun
	for rows.Next() {
		var (
			run            domain.ImportRun
			gameID, counts sql.NullString
			issues         string
		)
		if err := rows.Scan(&run.ID, &run.TenantID, &run.GameKey, &gameID, &run.Status, &issues, &counts, &run.CreatedBy, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.GameID = ptrFromNull(gameID)
		if err := json.Unmarshal([]byte(issues), &run.Issues); err != nil {
			return nil, err
		}
		if counts.Valid {
			run.Counts = &domain.ContentCounts{}
			if err := fromJSON(counts, run.Counts); err != nil {
				return nil, err
			}
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

package server

import (
	"context"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/gameimport"
)

type importItem struct {
	GameKey string               `json:"game_key"`
	Status  string               `json:"status" enum:"ok,failed"`
	Result  *gameimport.Result   `json:"result,omitempty"`
	Issues  []domain.ImportIssue `json:"issues,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// importFormat prefers the explicit query value, then the content type.
// An empty result lets the parser sniff the body.
func importFormat(query, contentType string) string {
	if query != "" {
		return strings.ToLower(query)
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case strings.Contains(mt, "yaml"):
		return gameimport.FormatYAML
	case mt == "text/csv" || mt == "application/csv":
		return gameimport.FormatCSV
	case strings.Contains(mt, "json"):
		return gameimport.FormatJSON
	}
	return ""
}

func registerGames(api huma.API, e engine.Engine, logger *log.Logger) {
	importer := gameimport.Importer{Writer: e.Repo, Runs: e.Repo, Logger: logger, Now: e.Now}

	huma.Register(api, huma.Operation{
		OperationID: "games.import",
		Method:      http.MethodPost,
		Path:        "/games/import",
		Summary:     "Import one or more games",
		Description: "Accepts a JSON or YAML game, a list of games, an object with a games list, or CSV with one game per row. Each game is validated completely before anything is written. Requires system_admin or tenant_admin.",
		Tags:        []string{"Games"},
	}, func(ctx context.Context, input *struct {
		Format      string `query:"format" doc:"json, yaml or csv; sniffed when empty"`
		DryRun      bool   `query:"dry_run"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if _, err := e.RequireTenantAdmin(ctx, p.UserID, p.TenantID); err != nil {
			return nil, handleError(err)
		}
		games, err := gameimport.Parse(input.RawBody, importFormat(input.Format, input.ContentType))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_import", err.Error(), nil)
		}
		results, errs := importer.ImportAll(ctx, games, gameimport.Options{
			TenantID: p.TenantID,
			ActorID:  p.UserID,
			DryRun:   input.DryRun,
		})
		if len(games) == 1 && errs[0] != nil {
			return nil, handleError(errs[0])
		}
		out := &struct {
			Body ImportResponse `json:"body"`
		}{}
		out.Body.Items = make([]importItem, 0, len(games))
		for i, g := range games {
			item := importItem{GameKey: g.GameKey, Status: "ok"}
			if errs[i] != nil {
				item.Status = "failed"
				item.Error = errs[i].Error()
				if pf, ok := gameimport.IsPreflight(errs[i]); ok {
					item.Issues = pf.Issues
				}
			} else {
				res := results[i]
				item.Result = &res
			}
			out.Body.Items = append(out.Body.Items, item)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "games.list",
		Method:      http.MethodGet,
		Path:        "/games",
		Summary:     "List games of the caller's tenant",
		Tags:        []string{"Games"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GameList `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		games, err := e.Repo.ListGames(ctx, p.TenantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GameList `json:"body"`
		}{Body: GameList{Items: nonNil(games)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "games.get",
		Method:      http.MethodGet,
		Path:        "/games/{id}",
		Summary:     "Full game content",
		Tags:        []string{"Games"},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.GameContent `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		content, err := e.Repo.LoadGameContent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if content.Game.TenantID != p.TenantID && p.GlobalRole != domain.GlobalRoleSystemAdmin {
			return nil, handleError(forbidden("game belongs to another tenant"))
		}
		return &struct {
			Body domain.GameContent `json:"body"`
		}{Body: content}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "imports.list",
		Method:      http.MethodGet,
		Path:        "/import-runs",
		Summary:     "Recent import runs",
		Tags:        []string{"Games"},
	}, func(ctx context.Context, input *struct {
		GameKey string `query:"game_key"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body ImportRunList `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		runs, err := e.Repo.ListImportRuns(ctx, p.TenantID, input.GameKey, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportRunList `json:"body"`
		}{Body: ImportRunList{Items: nonNil(runs)}}, nil
	})
}

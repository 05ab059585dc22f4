package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"playline/internal/engine"
	"playline/internal/gameimport"
)

func gameCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "game", Short: "Import and inspect games"}
	cmd.AddCommand(gameImportCmd())
	cmd.AddCommand(gameListCmd())
	cmd.AddCommand(gameRunsCmd())
	return cmd
}

type fileImport struct {
	File    string             `json:"file"`
	GameKey string             `json:"game_key"`
	Status  string             `json:"status"`
	Result  *gameimport.Result `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func gameImportCmd() *cobra.Command {
	var format string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import games from JSON, YAML or CSV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := importFiles(ctx, e, viper.GetString("actor-id"), args, format, dryRun)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"File", "Game", "Status", "Steps", "Phases", "Artifacts", "Triggers", "Detail"})
				failed := 0
				for _, it := range items {
					if it.Result == nil {
						failed++
						tw.AppendRow(table.Row{it.File, it.GameKey, it.Status, "", "", "", "", it.Error})
						continue
					}
					c := it.Result.Counts
					detail := ""
					if n := len(it.Result.Warnings); n > 0 {
						detail = fmt.Sprintf("%d warning(s)", n)
					}
					tw.AppendRow(table.Row{it.File, it.GameKey, it.Status, c.Steps, c.Phases, c.Artifacts, c.Triggers, detail})
				}
				tw.Render()
				if failed > 0 {
					return fmt.Errorf("%d game(s) failed to import", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "json, yaml or csv (default: from file extension)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without writing")
	return cmd
}

// importFiles parses and imports every file as actorID, who must be a
// system admin or hold tenant_admin in the workspace tenant.
func importFiles(ctx context.Context, e engine.Engine, actorID string, paths []string, format string, dryRun bool) ([]fileImport, error) {
	if _, err := e.RequireTenantAdmin(ctx, actorID, e.Config.Tenant.ID); err != nil {
		return nil, err
	}
	importer := gameimport.Importer{
		Writer: e.Repo,
		Runs:   e.Repo,
		Logger: log.New(os.Stderr, "import: ", 0),
		Now:    e.Now,
	}
	opts := gameimport.Options{
		TenantID: e.Config.Tenant.ID,
		ActorID:  actorID,
		DryRun:   dryRun,
	}
	var out []fileImport
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		f := format
		if f == "" {
			f = gameimport.FormatFromPath(path)
		}
		games, err := gameimport.Parse(data, f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		results, errs := importer.ImportAll(ctx, games, opts)
		for i, g := range games {
			item := fileImport{File: path, GameKey: g.GameKey, Status: "ok"}
			if errs[i] != nil {
				item.Status = "failed"
				item.Error = errs[i].Error()
			} else {
				res := results[i]
				item.Result = &res
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func gameListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List games of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGames(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Key", "Name", "Mode", "Status", "Locale", "Updated"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.GameKey, g.Name, g.PlayMode, g.Status, g.Locale, g.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func gameRunsCmd() *cobra.Command {
	var gameKey string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent import runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListImportRuns(ctx, e.Config.Tenant.ID, gameKey, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Game", "Status", "Issues", "By", "At"})
				for _, run := range items {
					tw.AppendRow(table.Row{run.ID, run.GameKey, run.Status, len(run.Issues), run.CreatedBy, run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&gameKey, "game", "", "game key filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	return cmd
}

package gameimport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"playline/internal/domain"
)

// ContentWriter commits a whole game in one all-or-nothing call.
type ContentWriter interface {
	GameIDByKey(ctx context.Context, tenantID, gameKey string) (string, error)
	UpsertGameContent(ctx context.Context, content domain.GameContent) (domain.ContentCounts, error)
}

// RunRecorder stores the outcome of each import attempt.
type RunRecorder interface {
	InsertImportRun(ctx context.Context, run domain.ImportRun) error
}

type Importer struct {
	Writer ContentWriter
	Runs   RunRecorder
	Logger *log.Logger
	Now    func() time.Time
	NewID  func() string
}

type Options struct {
	TenantID string
	ActorID  string
	// DryRun runs both preflight phases and skips the write.
	DryRun bool
}

type Result struct {
	GameID   string               `json:"game_id"`
	GameKey  string               `json:"game_key"`
	Counts   domain.ContentCounts `json:"counts"`
	Warnings []domain.ImportIssue `json:"warnings"`
	DryRun   bool                 `json:"dry_run,omitempty"`
}

func (imp Importer) logger() *log.Logger {
	if imp.Logger != nil {
		return imp.Logger
	}
	return log.Default()
}

func (imp Importer) now() time.Time {
	if imp.Now != nil {
		return imp.Now()
	}
	return time.Now()
}

func (imp Importer) newID() string {
	if imp.NewID != nil {
		return imp.NewID()
	}
	return uuid.NewString()
}

// Import validates one game completely in memory and then writes it with a
// single ContentWriter call. Any preflight failure returns a
// *PreflightValidationError and no content is written.
func (imp Importer) Import(ctx context.Context, game ParsedGame, opts Options) (Result, error) {
	if imp.Writer == nil {
		return Result{}, errors.New("content writer not configured")
	}
	if opts.TenantID == "" {
		return Result{}, errors.New("tenant is required")
	}
	game.GameKey = strings.TrimSpace(game.GameKey)
	res := Result{GameKey: game.GameKey, DryRun: opts.DryRun}

	gameID := ""
	if game.GameKey != "" {
		existing, err := imp.Writer.GameIDByKey(ctx, opts.TenantID, game.GameKey)
		if err != nil {
			return res, fmt.Errorf("lookup game %s: %w", game.GameKey, err)
		}
		gameID = existing
	}
	if gameID == "" {
		gameID = imp.newID()
	}
	res.GameID = gameID

	// Phase 1: ids and order collisions.
	p, issues := pregenerateIDs(game, gameID, imp.newID)
	if len(issues) > 0 {
		imp.logger().Printf("import: preflight.fail game=%s reason=%s code=%s issues=%d", game.GameKey, failReason(issues[0]), issues[0].Code, len(issues))
		return res, imp.fail(ctx, game.GameKey, opts, issues)
	}

	// Phase 2: trigger normalization and reference rewrite.
	if issues := rewriteTriggers(game, p, imp.newID); len(issues) > 0 {
		imp.logger().Printf("import: preflight.fail game=%s reason=trigger_refs issues=%d", game.GameKey, len(issues))
		return res, imp.fail(ctx, game.GameKey, opts, issues)
	}
	imp.logger().Printf("import: preflight.trigger_rewrite.ok game=%s triggers=%d", game.GameKey, len(p.content.Triggers))
	res.Warnings = prefixIssues(game.GameKey, p.warnings)

	now := imp.now().UTC().Format(time.RFC3339)
	content := p.content
	content.Game = domain.Game{
		ID:               gameID,
		TenantID:         opts.TenantID,
		GameKey:          game.GameKey,
		Name:             game.Name,
		ShortDescription: game.ShortDescription,
		Description:      game.Description,
		PlayMode:         defaultString(game.PlayMode, "basic"),
		Status:           defaultString(game.Status, "draft"),
		Locale:           p.content.Game.Locale,
		BoardConfig:      game.BoardConfig,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if m := game.Materials; m != nil {
		content.Materials = &domain.Materials{Items: m.Items, SafetyNotes: m.SafetyNotes, Preparation: m.Preparation}
		if content.Materials.Items == nil {
			content.Materials.Items = []string{}
		}
	}
	if opts.DryRun {
		res.Counts = content.Counts()
		return res, nil
	}

	// Phase 3: the single atomic write.
	imp.logger().Printf("import: db.write.begin game=%s", game.GameKey)
	counts, err := imp.Writer.UpsertGameContent(ctx, content)
	if err != nil {
		imp.logger().Printf("import: db.write.fail game=%s err=%v", game.GameKey, err)
		return res, fmt.Errorf("write game %s: %w", game.GameKey, err)
	}
	imp.logger().Printf("import: db.write.done game=%s counts=steps:%d,phases:%d,roles:%d,artifacts:%d,variants:%d,triggers:%d",
		game.GameKey, counts.Steps, counts.Phases, counts.Roles, counts.Artifacts, counts.Variants, counts.Triggers)
	res.Counts = counts
	imp.record(ctx, domain.ImportRun{
		TenantID: opts.TenantID, GameKey: game.GameKey, GameID: &gameID, Status: "ok",
		Issues: res.Warnings, Counts: &counts, CreatedBy: opts.ActorID,
	})
	return res, nil
}

// ImportAll imports each game independently; one failing game does not stop
// the others.
func (imp Importer) ImportAll(ctx context.Context, games []ParsedGame, opts Options) ([]Result, []error) {
	results := make([]Result, len(games))
	errs := make([]error, len(games))
	for i, g := range games {
		results[i], errs[i] = imp.Import(ctx, g, opts)
	}
	return results, errs
}

func (imp Importer) fail(ctx context.Context, gameKey string, opts Options, issues []domain.ImportIssue) error {
	issues = prefixIssues(gameKey, issues)
	if !opts.DryRun {
		imp.record(ctx, domain.ImportRun{TenantID: opts.TenantID, GameKey: gameKey, Status: "failed", Issues: issues, CreatedBy: opts.ActorID})
	}
	return &PreflightValidationError{GameKey: gameKey, Issues: issues}
}

func (imp Importer) record(ctx context.Context, run domain.ImportRun) {
	if imp.Runs == nil {
		return
	}
	run.ID = uuid.NewString()
	run.CreatedAt = imp.now().UTC().Format(time.RFC3339)
	if run.Issues == nil {
		run.Issues = []domain.ImportIssue{}
	}
	if err := imp.Runs.InsertImportRun(ctx, run); err != nil {
		imp.logger().Printf("import: record run failed game=%s: %v", run.GameKey, err)
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// failReason names a Phase 1 failure in logs. Order collisions keep their
// historical reason; other issues are reported by their code.
func failReason(iss domain.ImportIssue) string {
	if strings.HasPrefix(iss.Code, "DUPLICATE_") && strings.HasSuffix(iss.Code, "_ORDER") {
		return "order_collision"
	}
	return strings.ToLower(iss.Code)
}

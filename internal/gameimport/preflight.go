package gameimport

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"playline/internal/domain"
)

// PreflightValidationError carries every blocking problem found before the
// content write. Nothing has been written when it is returned.
type PreflightValidationError struct {
	GameKey string
	Issues  []domain.ImportIssue
}

func (e *PreflightValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("preflight validation failed for %s", e.GameKey)
	}
	return fmt.Sprintf("preflight validation failed for %s: %d issue(s), first: %s", e.GameKey, len(e.Issues), e.Issues[0].Message)
}

// IsPreflight reports whether err is a preflight failure and returns it.
func IsPreflight(err error) (*PreflightValidationError, bool) {
	var pe *PreflightValidationError
	ok := errors.As(err, &pe)
	return pe, ok
}

func foldName(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// plan is the in-memory result of the preflight phases.
type plan struct {
	ids        *IDMap
	roleByOrd  map[int]string
	roleByName map[string]string
	content    domain.GameContent
	warnings   []domain.ImportIssue
}

type orderCheck struct {
	kind       string
	collection string
	orders     []int
}

func duplicateOrders(c orderCheck) []domain.ImportIssue {
	var issues []domain.ImportIssue
	seen := map[int]bool{}
	code := "DUPLICATE_" + strings.ToUpper(c.kind) + "_ORDER"
	for i, order := range c.orders {
		if seen[order] {
			issues = append(issues, domain.ImportIssue{
				Row:      i + 1,
				Column:   fmt.Sprintf("%s[%d].%s_order", c.collection, i, c.kind),
				Message:  fmt.Sprintf("Duplicate %s_order=%d detected. Each %s must have unique order.", c.kind, order, c.kind),
				Severity: "error",
				Code:     code,
			})
			continue
		}
		seen[order] = true
	}
	return issues
}

func stepOrders(game ParsedGame) []int {
	out := make([]int, len(game.Steps))
	for i, s := range game.Steps {
		out[i] = orderOr(s.StepOrder, i)
	}
	return out
}

func phaseOrders(game ParsedGame) []int {
	out := make([]int, len(game.Phases))
	for i, p := range game.Phases {
		out[i] = orderOr(p.PhaseOrder, i)
	}
	return out
}

func artifactOrders(game ParsedGame) []int {
	out := make([]int, len(game.Artifacts))
	for i, a := range game.Artifacts {
		out[i] = orderOr(a.ArtifactOrder, i)
	}
	return out
}

func roleOrders(game ParsedGame) []int {
	out := make([]int, len(game.Roles))
	for i, r := range game.Roles {
		out[i] = orderOr(r.RoleOrder, i)
	}
	return out
}

// pregenerateIDs is the first preflight phase: it rejects duplicate orders,
// assigns a UUID to every step, phase, artifact and role, and resolves the
// step→phase and variant→role references. It never touches storage.
func pregenerateIDs(game ParsedGame, gameID string, newID func() string) (*plan, []domain.ImportIssue) {
	var errs []domain.ImportIssue
	if strings.TrimSpace(game.GameKey) == "" {
		errs = append(errs, domain.ImportIssue{Column: "game_key", Message: "game_key is required", Severity: "error", Code: "MISSING_GAME_KEY"})
	}
	if strings.TrimSpace(game.Name) == "" {
		errs = append(errs, domain.ImportIssue{Column: "name", Message: "name is required", Severity: "error", Code: "MISSING_NAME"})
	}
	for _, check := range []orderCheck{
		{"step", "steps", stepOrders(game)},
		{"phase", "phases", phaseOrders(game)},
		{"artifact", "artifacts", artifactOrders(game)},
		{"role", "roles", roleOrders(game)},
	} {
		errs = append(errs, duplicateOrders(check)...)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	p := &plan{ids: newIDMap(), roleByOrd: map[int]string{}, roleByName: map[string]string{}}
	p.content.Game.ID = gameID
	ids := p.ids

	for i, ph := range game.Phases {
		id := newID()
		order := orderOr(ph.PhaseOrder, i)
		ids.PhaseByOrder[order] = id
		ids.Batch[id] = true
		if ph.Name != "" {
			ids.PhaseByName[foldName(ph.Name)] = id
		}
		p.content.Phases = append(p.content.Phases, domain.Phase{
			ID: id, GameID: gameID, Order: order, Name: ph.Name, PhaseType: ph.PhaseType,
			Description: ph.Description, DurationSeconds: ph.DurationSeconds, BoardMessage: ph.BoardMessage,
		})
	}
	for i, s := range game.Steps {
		id := newID()
		order := orderOr(s.StepOrder, i)
		ids.StepByOrder[order] = id
		ids.Batch[id] = true
		if s.Title != "" {
			ids.StepByName[foldName(s.Title)] = id
		}
	}
	for i, a := range game.Artifacts {
		id := newID()
		order := orderOr(a.ArtifactOrder, i)
		ids.ArtifactByOrder[order] = id
		ids.Batch[id] = true
		if a.Title != "" {
			ids.ArtifactByName[foldName(a.Title)] = id
		}
	}
	for i, r := range game.Roles {
		id := newID()
		order := orderOr(r.RoleOrder, i)
		p.roleByOrd[order] = id
		ids.Batch[id] = true
		if r.Name != "" {
			p.roleByName[foldName(r.Name)] = id
		}
		p.content.Roles = append(p.content.Roles, domain.Role{
			ID: id, GameID: gameID, Order: order, Name: r.Name, Description: r.Description,
			MinCount: r.MinCount, MaxCount: r.MaxCount,
		})
	}

	for i, s := range game.Steps {
		order := orderOr(s.StepOrder, i)
		phaseID, iss := resolveStepPhase(s, i, order, ids.PhaseByOrder)
		if iss != nil {
			errs = append(errs, *iss)
			continue
		}
		p.content.Steps = append(p.content.Steps, domain.Step{
			ID: ids.StepByOrder[order], GameID: gameID, PhaseID: phaseID, Order: order, Title: s.Title,
			Body: s.Body, BoardText: s.BoardText, LeaderScript: s.LeaderScript, DurationSeconds: s.DurationSeconds,
		})
	}

	for i, a := range game.Artifacts {
		order := orderOr(a.ArtifactOrder, i)
		art := domain.Artifact{
			ID: ids.ArtifactByOrder[order], GameID: gameID, Order: order, Title: a.Title,
			Type: a.ArtifactType, Description: a.Description, Metadata: a.Metadata,
		}
		if art.Type == "" {
			art.Type = "card"
		}
		for j, v := range a.Variants {
			variant, iss := p.resolveVariant(v, i, j, art.ID, newID)
			if iss != nil {
				errs = append(errs, *iss)
				continue
			}
			art.Variants = append(art.Variants, variant)
		}
		p.content.Artifacts = append(p.content.Artifacts, art)
	}

	if game.Locale != "" {
		tag, err := language.Parse(game.Locale)
		if err != nil {
			p.warnings = append(p.warnings, domain.ImportIssue{
				Column: "locale", Message: fmt.Sprintf("Unrecognized locale %q ignored", game.Locale), Severity: "warning", Code: "INVALID_LOCALE",
			})
		} else {
			p.content.Game.Locale = tag.String()
		}
	}
	return p, errs
}

func resolveStepPhase(s ParsedStep, index, order int, phaseByOrder map[int]string) (*string, *domain.ImportIssue) {
	row := index + 1
	col := fmt.Sprintf("steps[%d]", index)
	switch {
	case s.PhaseID != nil && s.PhaseOrder != nil:
		return nil, &domain.ImportIssue{Row: row, Column: col, Severity: "error", Code: "STEP_PHASE_REF_BOTH_PRESENT",
			Message: fmt.Sprintf("Step %d has both phase_id and phase_order. Only one may be specified.", order)}
	case s.PhaseID != nil:
		if !isUUID(*s.PhaseID) {
			return nil, &domain.ImportIssue{Row: row, Column: col + ".phase_id", Severity: "error", Code: "STEP_PHASE_ID_INVALID",
				Message: fmt.Sprintf("Step %d has invalid phase_id %q. Must be a valid UUID.", order, *s.PhaseID)}
		}
		id := *s.PhaseID
		return &id, nil
	case s.PhaseOrder != nil:
		po := *s.PhaseOrder
		if po < 1 {
			return nil, &domain.ImportIssue{Row: row, Column: col + ".phase_order", Severity: "error", Code: "STEP_PHASE_ORDER_INVALID",
				Message: fmt.Sprintf("Step %d has invalid phase_order %d. Must be a positive integer.", order, po)}
		}
		id, ok := phaseByOrder[po]
		if !ok {
			return nil, &domain.ImportIssue{Row: row, Column: col + ".phase_order", Severity: "error", Code: "STEP_PHASE_ORDER_NOT_FOUND",
				Message: fmt.Sprintf("Step %d references phase_order=%d which does not exist. Available phase orders: %s.", order, po, availableOrders(phaseByOrder))}
		}
		return &id, nil
	}
	return nil, nil
}

func availableOrders(m map[int]string) string {
	if len(m) == 0 {
		return "none"
	}
	orders := make([]int, 0, len(m))
	for o := range m {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	parts := make([]string, len(orders))
	for i, o := range orders {
		parts[i] = strconv.Itoa(o)
	}
	return strings.Join(parts, ", ")
}

func (p *plan) resolveVariant(v ParsedVariant, artIndex, index int, artifactID string, newID func() string) (domain.ArtifactVariant, *domain.ImportIssue) {
	col := fmt.Sprintf("artifacts[%d].variants[%d]", artIndex, index)
	out := domain.ArtifactVariant{
		ID: newID(), ArtifactID: artifactID, Order: orderOr(v.VariantOrder, index),
		Title: v.Title, Body: v.Body, Visibility: v.Visibility,
	}
	var roleID string
	switch {
	case v.VisibleToRoleOrder != nil:
		id, ok := p.roleByOrd[*v.VisibleToRoleOrder]
		if !ok {
			return out, &domain.ImportIssue{Row: artIndex + 1, Column: col + ".visible_to_role_order", Severity: "error", Code: "VARIANT_ROLE_NOT_FOUND",
				Message: fmt.Sprintf("Variant references role_order=%d which does not exist", *v.VisibleToRoleOrder)}
		}
		roleID = id
	case v.VisibleToRoleName != "":
		id, ok := p.roleByName[foldName(v.VisibleToRoleName)]
		if !ok {
			return out, &domain.ImportIssue{Row: artIndex + 1, Column: col + ".visible_to_role_name", Severity: "error", Code: "VARIANT_ROLE_NOT_FOUND",
				Message: fmt.Sprintf("Variant references role %q which does not exist", v.VisibleToRoleName)}
		}
		roleID = id
	}
	if roleID != "" {
		out.VisibleToRoleID = &roleID
		if out.Visibility == "" {
			out.Visibility = domain.VisibilityRolePrivate
		}
	}
	if out.Visibility == "" {
		out.Visibility = domain.VisibilityPublic
	}
	switch out.Visibility {
	case domain.VisibilityPublic, domain.VisibilityLeaderOnly:
	case domain.VisibilityRolePrivate:
		if roleID == "" {
			return out, &domain.ImportIssue{Row: artIndex + 1, Column: col + ".visibility", Severity: "error", Code: "VARIANT_ROLE_MISSING",
				Message: "role_private variant needs visible_to_role_order or visible_to_role_name"}
		}
	default:
		return out, &domain.ImportIssue{Row: artIndex + 1, Column: col + ".visibility", Severity: "error", Code: "INVALID_VISIBILITY",
			Message: fmt.Sprintf("Unknown visibility %q", out.Visibility)}
	}
	return out, nil
}

// rewriteTriggers is the second preflight phase: triggers are normalized to
// the canonical shape and their references rewritten against the phase one
// symbol table, entirely in memory.
func rewriteTriggers(game ParsedGame, p *plan, newID func() string) []domain.ImportIssue {
	var errs []domain.ImportIssue
	for i, spec := range game.Triggers {
		normalized, err := NormalizeLegacyTrigger(spec)
		if err != nil {
			errs = append(errs, domain.ImportIssue{Row: i + 1, Column: fmt.Sprintf("triggers[%d].condition", i),
				Message: "Trigger is missing both condition and condition_type", Severity: "error", Code: "TRIGGER_CONDITION_MISSING"})
			continue
		}
		trigger, terrs, twarns := rewriteTrigger(normalized, i, p.ids)
		for _, e := range terrs {
			e.Code = "TRIGGER_INVALID"
			errs = append(errs, e)
		}
		p.warnings = append(p.warnings, twarns...)
		if len(terrs) > 0 {
			continue
		}
		trigger.ID = newID()
		trigger.GameID = p.content.Game.ID
		p.content.Triggers = append(p.content.Triggers, trigger)
	}
	return errs
}

func prefixIssues(gameKey string, issues []domain.ImportIssue) []domain.ImportIssue {
	out := make([]domain.ImportIssue, len(issues))
	for i, iss := range issues {
		iss.Message = fmt.Sprintf("[%s] %s", gameKey, iss.Message)
		out[i] = iss
	}
	return out
}

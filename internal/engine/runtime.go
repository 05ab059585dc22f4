package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/repo"
)

var ErrNoActiveTimer = errors.New("No active timer to pause")

// IndexRangeError rejects a step or phase index outside the game.
type IndexRangeError struct {
	Kind  string
	Index int
	Count int
}

func (e IndexRangeError) Error() string {
	return fmt.Sprintf("%s index %d out of range (game has %d %ss)", e.Kind, e.Index, e.Count, e.Kind)
}

// mutate runs fn in one transaction against the current session row, then
// fires any trigger conditions fn produced once the change is committed.
func (e Engine) mutate(ctx context.Context, id string, fn func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error)) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSessionTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, ErrSessionNotFound
	}
	if err != nil {
		return s, err
	}
	if isClosed(s.Status) {
		return s, SessionClosedError{Status: s.Status}
	}
	conds, err := fn(tx, &s)
	if err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.fireFollowUps(ctx, s.ID, conds, 0)
	return e.Repo.GetSession(ctx, s.ID)
}

// StartSession stamps started_at once and announces the opening step and phase.
func (e Engine) StartSession(ctx context.Context, id string, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		if s.StartedAt != nil {
			return nil, nil
		}
		if s.Status != domain.SessionActive {
			return nil, fmt.Errorf("cannot start a %s session", s.Status)
		}
		now := e.nowString()
		if err := e.Repo.StartSessionTx(ctx, tx, s.ID, now); err != nil {
			return nil, err
		}
		s.StartedAt = &now
		if _, err := e.writer().Append(ctx, tx, s.ID, "session_started", actor, nil); err != nil {
			return nil, err
		}
		if s.GameID == nil {
			return nil, nil
		}
		var conds []domain.Condition
		steps, err := e.Repo.ListSteps(ctx, *s.GameID)
		if err != nil {
			return nil, err
		}
		if s.CurrentStepIndex < len(steps) {
			conds = append(conds, refCondition("step_started", "stepId", steps[s.CurrentStepIndex].ID))
		}
		phases, err := e.Repo.ListPhases(ctx, *s.GameID)
		if err != nil {
			return nil, err
		}
		if s.CurrentPhaseIndex < len(phases) {
			conds = append(conds, refCondition("phase_started", "phaseId", phases[s.CurrentPhaseIndex].ID))
		}
		return conds, nil
	})
}

func refCondition(condType, field, id string) domain.Condition {
	return domain.Condition{Type: condType, Params: map[string]any{field: id}}
}

func (e Engine) UpdateCurrentStep(ctx context.Context, id string, index int, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return e.applyStep(ctx, tx, s, index, actor)
	})
}

func (e Engine) UpdateCurrentPhase(ctx context.Context, id string, index int, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return e.applyPhase(ctx, tx, s, index, actor)
	})
}

func (e Engine) applyStep(ctx context.Context, tx *sql.Tx, s *domain.Session, index int, actor events.Actor) ([]domain.Condition, error) {
	if s.GameID == nil {
		return nil, errors.New("session has no game")
	}
	steps, err := e.Repo.ListSteps(ctx, *s.GameID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(steps) {
		return nil, IndexRangeError{Kind: "step", Index: index, Count: len(steps)}
	}
	from := s.CurrentStepIndex
	if from == index {
		return nil, nil
	}
	if err := e.Repo.UpdateSessionRuntimeTx(ctx, tx, s.ID, repo.SessionRuntimeUpdate{CurrentStepIndex: &index}, e.nowString()); err != nil {
		return nil, err
	}
	s.CurrentStepIndex = index
	if _, err := e.writer().Append(ctx, tx, s.ID, "step_changed", actor, events.EventPayload{
		"from":    from,
		"to":      index,
		"step_id": steps[index].ID,
		"title":   steps[index].Title,
	}); err != nil {
		return nil, err
	}
	var conds []domain.Condition
	if from >= 0 && from < len(steps) {
		conds = append(conds, refCondition("step_completed", "stepId", steps[from].ID))
	}
	return append(conds, refCondition("step_started", "stepId", steps[index].ID)), nil
}

func (e Engine) applyPhase(ctx context.Context, tx *sql.Tx, s *domain.Session, index int, actor events.Actor) ([]domain.Condition, error) {
	if s.GameID == nil {
		return nil, errors.New("session has no game")
	}
	phases, err := e.Repo.ListPhases(ctx, *s.GameID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(phases) {
		return nil, IndexRangeError{Kind: "phase", Index: index, Count: len(phases)}
	}
	from := s.CurrentPhaseIndex
	if from == index {
		return nil, nil
	}
	if err := e.Repo.UpdateSessionRuntimeTx(ctx, tx, s.ID, repo.SessionRuntimeUpdate{CurrentPhaseIndex: &index}, e.nowString()); err != nil {
		return nil, err
	}
	s.CurrentPhaseIndex = index
	if _, err := e.writer().Append(ctx, tx, s.ID, "phase_changed", actor, events.EventPayload{
		"from":     from,
		"to":       index,
		"phase_id": phases[index].ID,
		"name":     phases[index].Name,
	}); err != nil {
		return nil, err
	}
	var conds []domain.Condition
	if from >= 0 && from < len(phases) {
		conds = append(conds, refCondition("phase_completed", "phaseId", phases[from].ID))
	}
	return append(conds, refCondition("phase_started", "phaseId", phases[index].ID)), nil
}

func (e Engine) setTimer(ctx context.Context, tx *sql.Tx, s *domain.Session, timer *domain.TimerState, evtType string, actor events.Actor) error {
	if err := e.Repo.UpdateSessionRuntimeTx(ctx, tx, s.ID, repo.SessionRuntimeUpdate{TimerState: &timer}, e.nowString()); err != nil {
		return err
	}
	s.TimerState = timer
	payload := events.EventPayload{}
	if timer != nil {
		payload["duration_seconds"] = timer.DurationSeconds
		payload["remaining_seconds"] = timer.Remaining(e.now())
	}
	_, err := e.writer().Append(ctx, tx, s.ID, evtType, actor, payload)
	return err
}

func (e Engine) startTimer(ctx context.Context, tx *sql.Tx, s *domain.Session, seconds int, actor events.Actor) error {
	if seconds <= 0 {
		return errors.New("timer duration must be positive")
	}
	return e.setTimer(ctx, tx, s, &domain.TimerState{StartedAt: e.nowString(), DurationSeconds: seconds}, "timer_started", actor)
}

// pauseTimer is a no-op on an already paused timer.
func (e Engine) pauseTimer(ctx context.Context, tx *sql.Tx, s *domain.Session, actor events.Actor) error {
	if s.TimerState == nil {
		return ErrNoActiveTimer
	}
	if s.TimerState.PausedAt != nil {
		return nil
	}
	now := e.nowString()
	timer := *s.TimerState
	timer.PausedAt = &now
	return e.setTimer(ctx, tx, s, &timer, "timer_paused", actor)
}

// resumeTimer shifts started_at forward by the paused span.
func (e Engine) resumeTimer(ctx context.Context, tx *sql.Tx, s *domain.Session, actor events.Actor) error {
	if s.TimerState == nil {
		return errors.New("No timer to resume")
	}
	if s.TimerState.PausedAt == nil {
		return nil
	}
	timer := *s.TimerState
	started, err := time.Parse(time.RFC3339, timer.StartedAt)
	if err != nil {
		return fmt.Errorf("parse timer start: %w", err)
	}
	paused, err := time.Parse(time.RFC3339, *timer.PausedAt)
	if err != nil {
		return fmt.Errorf("parse timer pause: %w", err)
	}
	timer.StartedAt = started.Add(e.now().UTC().Sub(paused)).UTC().Format(time.RFC3339)
	timer.PausedAt = nil
	return e.setTimer(ctx, tx, s, &timer, "timer_resumed", actor)
}

func (e Engine) StartTimer(ctx context.Context, id string, seconds int, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return nil, e.startTimer(ctx, tx, s, seconds, actor)
	})
}

func (e Engine) PauseTimer(ctx context.Context, id string, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return nil, e.pauseTimer(ctx, tx, s, actor)
	})
}

func (e Engine) ResumeTimer(ctx context.Context, id string, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return nil, e.resumeTimer(ctx, tx, s, actor)
	})
}

func (e Engine) ResetTimer(ctx context.Context, id string, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		if s.TimerState == nil {
			return nil, nil
		}
		return nil, e.setTimer(ctx, tx, s, nil, "timer_reset", actor)
	})
}

func (e Engine) UpdateBoardState(ctx context.Context, id string, state domain.BoardState, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return nil, e.setBoardState(ctx, tx, s, state, actor)
	})
}

func (e Engine) setBoardState(ctx context.Context, tx *sql.Tx, s *domain.Session, state domain.BoardState, actor events.Actor) error {
	if err := e.Repo.UpdateSessionRuntimeTx(ctx, tx, s.ID, repo.SessionRuntimeUpdate{BoardState: &state}, e.nowString()); err != nil {
		return err
	}
	s.BoardState = &state
	_, err := e.writer().Append(ctx, tx, s.ID, "board_updated", actor, events.EventPayload{"message": state.Message})
	return err
}

func (e Engine) checkArtifact(ctx context.Context, s *domain.Session, artifactID string) error {
	if s.GameID == nil {
		return errors.New("session has no game")
	}
	ok, err := e.Repo.ArtifactInGame(ctx, *s.GameID, artifactID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("artifact %s is not part of the session game", artifactID)
	}
	return nil
}

func (e Engine) revealArtifact(ctx context.Context, tx *sql.Tx, s *domain.Session, artifactID string, reveal bool, actor events.Actor) error {
	if err := e.checkArtifact(ctx, s, artifactID); err != nil {
		return err
	}
	if err := e.Repo.SetArtifactRevealedTx(ctx, tx, s.ID, artifactID, reveal, e.nowString()); err != nil {
		return err
	}
	evtType := "artifact_revealed"
	if !reveal {
		evtType = "artifact_hidden"
	}
	_, err := e.writer().Append(ctx, tx, s.ID, evtType, actor, events.EventPayload{"artifact_id": artifactID})
	return err
}

// highlightArtifact clears the current highlight when artifactID is "".
func (e Engine) highlightArtifact(ctx context.Context, tx *sql.Tx, s *domain.Session, artifactID string, actor events.Actor) error {
	if artifactID != "" {
		if err := e.checkArtifact(ctx, s, artifactID); err != nil {
			return err
		}
	}
	if err := e.Repo.SetArtifactHighlightTx(ctx, tx, s.ID, artifactID, e.nowString()); err != nil {
		return err
	}
	_, err := e.writer().Append(ctx, tx, s.ID, "artifact_highlighted", actor, events.EventPayload{"artifact_id": artifactID})
	return err
}

func (e Engine) RevealArtifact(ctx context.Context, id, artifactID string, reveal bool, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		if err := e.revealArtifact(ctx, tx, s, artifactID, reveal, actor); err != nil {
			return nil, err
		}
		if reveal {
			return []domain.Condition{refCondition("artifact_unlocked", "artifactId", artifactID)}, nil
		}
		return nil, nil
	})
}

func (e Engine) HighlightArtifact(ctx context.Context, id, artifactID string, actor events.Actor) (domain.Session, error) {
	return e.mutate(ctx, id, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		return nil, e.highlightArtifact(ctx, tx, s, artifactID, actor)
	})
}

// CreateDecision opens a vote with at least two options.
func (e Engine) CreateDecision(ctx context.Context, sessionID, title string, options []string, actor events.Actor) (domain.Decision, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Decision{}, errors.New("title is required")
	}
	if len(options) < 2 {
		return domain.Decision{}, errors.New("a decision needs at least two options")
	}
	var d domain.Decision
	_, err := e.mutate(ctx, sessionID, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		d = domain.Decision{ID: uuid.NewString(), SessionID: s.ID, Title: title, Options: options, CreatedAt: e.nowString()}
		if err := e.Repo.InsertDecisionTx(ctx, tx, d); err != nil {
			return nil, err
		}
		_, err := e.writer().Append(ctx, tx, s.ID, "decision_created", actor, events.EventPayload{"decision_id": d.ID, "title": title})
		return nil, err
	})
	return d, err
}

// RevealDecision publishes a decision and its results to the board.
func (e Engine) RevealDecision(ctx context.Context, sessionID, decisionID string, results map[string]int, actor events.Actor) error {
	_, err := e.mutate(ctx, sessionID, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		if err := e.Repo.RevealDecisionTx(ctx, tx, s.ID, decisionID, results, e.nowString()); err != nil {
			return nil, err
		}
		if _, err := e.writer().Append(ctx, tx, s.ID, "decision_revealed", actor, events.EventPayload{"decision_id": decisionID, "results": results}); err != nil {
			return nil, err
		}
		return []domain.Condition{{Type: "decision_resolved", Params: map[string]any{"decisionId": decisionID}}}, nil
	})
	return err
}

func (e Engine) AddOutcome(ctx context.Context, sessionID, title, body string, reveal bool, actor events.Actor) (domain.Outcome, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Outcome{}, errors.New("title is required")
	}
	var o domain.Outcome
	_, err := e.mutate(ctx, sessionID, func(tx *sql.Tx, s *domain.Session) ([]domain.Condition, error) {
		now := e.nowString()
		o = domain.Outcome{ID: uuid.NewString(), SessionID: s.ID, Title: title, Body: body, CreatedAt: now}
		if reveal {
			o.RevealedAt = &now
		}
		if err := e.Repo.InsertOutcomeTx(ctx, tx, o); err != nil {
			return nil, err
		}
		_, err := e.writer().Append(ctx, tx, s.ID, "outcome_added", actor, events.EventPayload{"outcome_id": o.ID, "revealed": reveal})
		return nil, err
	})
	return o, err
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"playline/internal/domain"
	"playline/internal/events"
	"playline/internal/repo"
)

// maxTriggerDepth bounds trigger chains such as advance_step firing
// step_started triggers that advance again.
const maxTriggerDepth = 5

type FireResult struct {
	Fired     []string `json:"fired"`
	Scheduled int      `json:"scheduled"`
}

// matches reports whether a fired condition satisfies a trigger condition.
// Reference fields and a channel present on the trigger must be equal.
func matches(trigger, fired domain.Condition) bool {
	if trigger.Type != fired.Type {
		return false
	}
	keys := append(domain.ConditionRefKeys(trigger.Type), "channel")
	for _, key := range keys {
		want, ok := trigger.Params[key]
		if !ok {
			continue
		}
		if fmt.Sprint(want) != fmt.Sprint(fired.Params[key]) {
			return false
		}
	}
	return true
}

func triggerActor(t domain.Trigger) events.Actor {
	return events.Actor{Type: domain.ActorTrigger, ID: t.ID, Name: t.Name}
}

// FireCondition runs every enabled trigger of the session game whose
// condition matches cond. Triggers only run on active sessions.
func (e Engine) FireCondition(ctx context.Context, sessionID string, cond domain.Condition) (FireResult, error) {
	return e.fire(ctx, sessionID, cond, 0)
}

func (e Engine) fire(ctx context.Context, sessionID string, cond domain.Condition, depth int) (FireResult, error) {
	var res FireResult
	if depth >= maxTriggerDepth {
		e.logger().Printf("engine: trigger.depth_exceeded session=%s condition=%s", sessionID, cond.Type)
		return res, nil
	}
	sess, err := e.mustSession(ctx, sessionID)
	if err != nil {
		return res, err
	}
	if sess.Status != domain.SessionActive || sess.GameID == nil {
		return res, nil
	}
	triggers, err := e.Repo.ListTriggers(ctx, *sess.GameID)
	if err != nil {
		return res, err
	}
	var followUps []domain.Condition
	for _, t := range triggers {
		if !t.Enabled || !matches(t.Condition, cond) {
			continue
		}
		fired, scheduled, conds, err := e.runTrigger(ctx, sessionID, t, cond)
		if err != nil {
			return res, fmt.Errorf("trigger %s: %w", t.Name, err)
		}
		if fired {
			res.Fired = append(res.Fired, t.ID)
		}
		res.Scheduled += scheduled
		followUps = append(followUps, conds...)
	}
	e.fireFollowUps(ctx, sessionID, followUps, depth+1)
	return res, nil
}

func (e Engine) fireFollowUps(ctx context.Context, sessionID string, conds []domain.Condition, depth int) {
	for _, c := range conds {
		if _, err := e.fire(ctx, sessionID, c, depth); err != nil {
			e.logger().Printf("engine: trigger.follow_up_failed session=%s condition=%s: %v", sessionID, c.Type, err)
		}
	}
}

func (e Engine) runTrigger(ctx context.Context, sessionID string, t domain.Trigger, cond domain.Condition) (bool, int, []domain.Condition, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, nil, err
	}
	defer tx.Rollback()
	sess, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return false, 0, nil, err
	}
	if t.ExecuteOnce {
		n, err := e.Repo.TriggerFiredCountTx(ctx, tx, sessionID, t.ID)
		if err != nil {
			return false, 0, nil, err
		}
		if n > 0 {
			return false, 0, nil, nil
		}
	}
	now := e.now().UTC()
	if err := e.Repo.RecordTriggerFiredTx(ctx, tx, sessionID, t.ID, now.Format(time.RFC3339)); err != nil {
		return false, 0, nil, err
	}
	actor := triggerActor(t)
	var (
		conds     []domain.Condition
		scheduled int
	)
	if t.DelaySeconds > 0 {
		due := now.Add(time.Duration(t.DelaySeconds) * time.Second).Format(time.RFC3339)
		for _, a := range t.Actions {
			if err := e.Repo.InsertPendingActionTx(ctx, tx, domain.PendingAction{
				ID: uuid.NewString(), SessionID: sessionID, TriggerID: t.ID, Action: a, DueAt: due,
			}); err != nil {
				return false, 0, nil, err
			}
			scheduled++
		}
	} else {
		for _, a := range t.Actions {
			more, err := e.executeAction(ctx, tx, &sess, a, actor)
			if err != nil {
				return false, 0, nil, fmt.Errorf("action %s: %w", a.Type, err)
			}
			conds = append(conds, more...)
		}
	}
	if _, err := e.writer().Append(ctx, tx, sessionID, "trigger_fired", actor, events.EventPayload{
		"trigger_id":     t.ID,
		"condition_type": cond.Type,
		"actions":        len(t.Actions),
		"delayed":        t.DelaySeconds > 0,
	}); err != nil {
		return false, 0, nil, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, nil, err
	}
	e.logger().Printf("engine: trigger.fired session=%s trigger=%s condition=%s scheduled=%d", sessionID, t.ID, cond.Type, scheduled)
	return true, scheduled, conds, nil
}

// executeAction applies one trigger action to s inside tx and returns the
// conditions it caused.
func (e Engine) executeAction(ctx context.Context, tx *sql.Tx, s *domain.Session, a domain.Action, actor events.Actor) ([]domain.Condition, error) {
	switch a.Type {
	case "reveal_artifact":
		id := a.String("artifactId")
		if err := e.revealArtifact(ctx, tx, s, id, true, actor); err != nil {
			return nil, err
		}
		return []domain.Condition{refCondition("artifact_unlocked", "artifactId", id)}, nil
	case "hide_artifact":
		return nil, e.revealArtifact(ctx, tx, s, a.String("artifactId"), false, actor)
	case "highlight_artifact":
		return nil, e.highlightArtifact(ctx, tx, s, a.String("artifactId"), actor)
	case "advance_step":
		return atEndIsNoop(e.applyStep(ctx, tx, s, s.CurrentStepIndex+1, actor))
	case "goto_step":
		idx, err := e.stepIndex(ctx, s, a.String("stepId"))
		if err != nil {
			return nil, err
		}
		return e.applyStep(ctx, tx, s, idx, actor)
	case "advance_phase":
		return atEndIsNoop(e.applyPhase(ctx, tx, s, s.CurrentPhaseIndex+1, actor))
	case "send_signal":
		_, err := e.sendSignal(ctx, tx, s, a.String("channel"), a.String("message"), actor)
		return nil, err
	case "start_timer":
		seconds, ok := a.Int("durationSeconds")
		if !ok {
			return nil, errors.New("start_timer needs durationSeconds")
		}
		return nil, e.startTimer(ctx, tx, s, seconds, actor)
	case "pause_timer":
		if s.TimerState == nil {
			return nil, nil
		}
		return nil, e.pauseTimer(ctx, tx, s, actor)
	case "set_board_message":
		state := domain.BoardState{}
		if s.BoardState != nil {
			state = *s.BoardState
		}
		state.Message = a.String("message")
		return nil, e.setBoardState(ctx, tx, s, state, actor)
	default:
		// Puzzle resets and similar actions are carried out by the clients
		// that render those artifacts.
		_, err := e.writer().Append(ctx, tx, s.ID, "trigger_action", actor, events.EventPayload{
			"action_type": a.Type,
			"params":      a.Params,
		})
		return nil, err
	}
}

// atEndIsNoop lets advance actions stop quietly at the last step or phase.
func atEndIsNoop(conds []domain.Condition, err error) ([]domain.Condition, error) {
	var rangeErr IndexRangeError
	if errors.As(err, &rangeErr) {
		return nil, nil
	}
	return conds, err
}

func (e Engine) stepIndex(ctx context.Context, s *domain.Session, stepID string) (int, error) {
	if s.GameID == nil {
		return 0, errors.New("session has no game")
	}
	steps, err := e.Repo.ListSteps(ctx, *s.GameID)
	if err != nil {
		return 0, err
	}
	for i, st := range steps {
		if st.ID == stepID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("step %s not found", stepID)
}

// RunDueActions executes delayed trigger actions whose time has come. An
// action whose session is no longer active is dropped.
func (e Engine) RunDueActions(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	due, err := e.Repo.DuePendingActions(ctx, e.nowString(), limit)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, p := range due {
		conds, executed, err := e.runPendingAction(ctx, p)
		if err != nil {
			e.logger().Printf("engine: pending_action.failed id=%s session=%s: %v", p.ID, p.SessionID, err)
			if _, err := e.Repo.MarkPendingActionExecutedTx(ctx, nil, p.ID, e.nowString()); err != nil {
				e.logger().Printf("engine: pending_action.drop_failed id=%s: %v", p.ID, err)
			}
			continue
		}
		if executed {
			ran++
			e.fireFollowUps(ctx, p.SessionID, conds, 1)
		}
	}
	return ran, nil
}

func (e Engine) runPendingAction(ctx context.Context, p domain.PendingAction) ([]domain.Condition, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	claimed, err := e.Repo.MarkPendingActionExecutedTx(ctx, tx, p.ID, e.nowString())
	if err != nil || !claimed {
		return nil, false, err
	}
	sess, err := e.Repo.GetSessionTx(ctx, tx, p.SessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, tx.Commit()
	}
	if err != nil {
		return nil, false, err
	}
	if sess.Status != domain.SessionActive {
		return nil, false, tx.Commit()
	}
	actor := events.Actor{Type: domain.ActorTrigger, ID: p.TriggerID}
	conds, err := e.executeAction(ctx, tx, &sess, p.Action, actor)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return conds, true, nil
}

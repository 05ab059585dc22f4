package domain

import "time"

// Remaining returns the seconds left on the timer at now, never negative.
func (t TimerState) Remaining(now time.Time) int {
	started, err := time.Parse(time.RFC3339, t.StartedAt)
	if err != nil {
		return t.DurationSeconds
	}
	end := now
	if t.PausedAt != nil {
		if paused, err := time.Parse(time.RFC3339, *t.PausedAt); err == nil {
			end = paused
		}
	}
	left := t.DurationSeconds - int(end.Sub(started)/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// BoardSession is the public subset of a session shown on the board.
type BoardSession struct {
	ID                string      `json:"id"`
	Code              string      `json:"session_code"`
	DisplayName       string      `json:"display_name"`
	Status            string      `json:"status"`
	StartedAt         *string     `json:"started_at,omitempty" format:"date-time"`
	PausedAt          *string     `json:"paused_at,omitempty" format:"date-time"`
	EndedAt           *string     `json:"ended_at,omitempty" format:"date-time"`
	CurrentStepIndex  int         `json:"current_step_index"`
	CurrentPhaseIndex int         `json:"current_phase_index"`
	TimerState        *TimerState `json:"timer_state,omitempty"`
	TimerRemaining    *int        `json:"timer_remaining_seconds,omitempty"`
	BoardState        *BoardState `json:"board_state,omitempty"`
	ParticipantCount  int         `json:"participant_count"`
}

type BoardGame struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	BoardConfig map[string]any `json:"board_config,omitempty"`
}

type BoardStep struct {
	Order     int    `json:"step_order"`
	Title     string `json:"title"`
	BoardText string `json:"board_text,omitempty"`
}

type BoardPhase struct {
	Order        int    `json:"phase_order"`
	Name         string `json:"name"`
	BoardMessage string `json:"board_message,omitempty"`
}

// BoardArtifact is a revealed artifact with only its public variants.
type BoardArtifact struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Type        string            `json:"artifact_type"`
	Description string            `json:"description,omitempty"`
	Variants    []ArtifactVariant `json:"variants"`
	Highlighted bool              `json:"highlighted"`
	RevealedAt  string            `json:"revealed_at" format:"date-time"`
}

// BoardSnapshot is the read-only projection served to spectator boards.
type BoardSnapshot struct {
	Session       BoardSession    `json:"session"`
	Game          *BoardGame      `json:"game,omitempty"`
	CurrentStep   *BoardStep      `json:"current_step,omitempty"`
	CurrentPhase  *BoardPhase     `json:"current_phase,omitempty"`
	Artifacts     []BoardArtifact `json:"artifacts"`
	Decisions     []Decision      `json:"decisions"`
	Outcomes      []Outcome       `json:"outcomes"`
	LatestEventID int64           `json:"latest_event_id"`
	GeneratedAt   string          `json:"generated_at" format:"date-time"`
}

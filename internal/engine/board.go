package engine

import (
	"context"
	"time"

	"playline/internal/domain"
)

// BoardSnapshot builds the public board projection for a join code. A
// miss is (nil, nil).
func (e Engine) BoardSnapshot(ctx context.Context, code string) (*domain.BoardSnapshot, error) {
	sess, err := e.GetSessionByCode(ctx, code)
	if err != nil || sess == nil {
		return nil, err
	}
	return e.boardFor(ctx, *sess)
}

func (e Engine) boardFor(ctx context.Context, s domain.Session) (*domain.BoardSnapshot, error) {
	now := e.now()
	snap := &domain.BoardSnapshot{
		Session: domain.BoardSession{
			ID:                s.ID,
			Code:              s.Code,
			DisplayName:       s.DisplayName,
			Status:            s.Status,
			StartedAt:         s.StartedAt,
			PausedAt:          s.PausedAt,
			EndedAt:           s.EndedAt,
			CurrentStepIndex:  s.CurrentStepIndex,
			CurrentPhaseIndex: s.CurrentPhaseIndex,
			TimerState:        s.TimerState,
			BoardState:        s.BoardState,
		},
		Artifacts:   []domain.BoardArtifact{},
		Decisions:   []domain.Decision{},
		Outcomes:    []domain.Outcome{},
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	if s.TimerState != nil {
		left := s.TimerState.Remaining(now)
		snap.Session.TimerRemaining = &left
	}
	participants, err := e.Repo.ListParticipants(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if p.Status == domain.ParticipantActive {
			snap.Session.ParticipantCount++
		}
	}
	if snap.LatestEventID, err = e.Repo.LatestEventID(ctx, s.ID); err != nil {
		return nil, err
	}
	decisions, err := e.Repo.ListDecisions(ctx, s.ID, true)
	if err != nil {
		return nil, err
	}
	if decisions != nil {
		snap.Decisions = decisions
	}
	outcomes, err := e.Repo.ListOutcomes(ctx, s.ID, true)
	if err != nil {
		return nil, err
	}
	if outcomes != nil {
		snap.Outcomes = outcomes
	}
	if s.GameID == nil {
		return snap, nil
	}

	game, err := e.Repo.GetGame(ctx, *s.GameID)
	if err != nil {
		return nil, err
	}
	snap.Game = &domain.BoardGame{ID: game.ID, Name: game.Name, BoardConfig: game.BoardConfig}
	steps, err := e.Repo.ListSteps(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	if s.CurrentStepIndex >= 0 && s.CurrentStepIndex < len(steps) {
		st := steps[s.CurrentStepIndex]
		snap.CurrentStep = &domain.BoardStep{Order: st.Order, Title: st.Title, BoardText: st.BoardText}
	}
	phases, err := e.Repo.ListPhases(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	if s.CurrentPhaseIndex >= 0 && s.CurrentPhaseIndex < len(phases) {
		ph := phases[s.CurrentPhaseIndex]
		snap.CurrentPhase = &domain.BoardPhase{Order: ph.Order, Name: ph.Name, BoardMessage: ph.BoardMessage}
	}

	states, err := e.Repo.ListArtifactStates(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return snap, nil
	}
	byID := make(map[string]domain.ArtifactState, len(states))
	for _, st := range states {
		byID[st.ArtifactID] = st
	}
	artifacts, err := e.Repo.ListArtifacts(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		st, ok := byID[a.ID]
		if !ok || st.RevealedAt == nil {
			continue
		}
		ba := domain.BoardArtifact{
			ID: a.ID, Title: a.Title, Type: a.Type, Description: a.Description,
			Variants:    []domain.ArtifactVariant{},
			Highlighted: st.HighlightedAt != nil,
			RevealedAt:  *st.RevealedAt,
		}
		for _, v := range a.Variants {
			if v.Visibility == domain.VisibilityPublic {
				ba.Variants = append(ba.Variants, v)
			}
		}
		snap.Artifacts = append(snap.Artifacts, ba)
	}
	return snap, nil
}

// SessionGame is the game content a host or participant may read. Hosts
// see everything; participants see only revealed artifacts and the variants
// visible to them.
type SessionGame struct {
	Session   domain.Session         `json:"session"`
	Game      domain.Game            `json:"game"`
	Phases    []domain.Phase         `json:"phases"`
	Steps     []domain.Step          `json:"steps"`
	Roles     []domain.SessionRole   `json:"roles"`
	Materials *domain.Materials      `json:"materials,omitempty"`
	Artifacts []domain.Artifact      `json:"artifacts"`
	States    []domain.ArtifactState `json:"artifact_states"`
	Access    string                 `json:"access"`
}

func (e Engine) GetSessionGame(ctx context.Context, s domain.Session, participant *domain.Participant) (*SessionGame, error) {
	if s.GameID == nil {
		return nil, nil
	}
	content, err := e.Repo.LoadGameContent(ctx, *s.GameID)
	if err != nil {
		return nil, err
	}
	roles, err := e.Repo.ListSessionRoles(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	states, err := e.Repo.ListArtifactStates(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	out := &SessionGame{
		Session: s, Game: content.Game, Phases: content.Phases, Steps: content.Steps,
		Roles: roles, Materials: content.Materials, Artifacts: content.Artifacts, States: states,
		Access: "host",
	}
	if participant == nil {
		return out, nil
	}
	out.Access = "participant"
	out.Session.Settings = domain.SessionSettings{}
	out.Session.HostUserID = ""
	for i := range out.Steps {
		out.Steps[i].LeaderScript = ""
	}
	revealed := map[string]bool{}
	for _, st := range states {
		if st.RevealedAt != nil {
			revealed[st.ArtifactID] = true
		}
	}
	// The participant's role id is a session role; variants reference the
	// game role it was snapshotted from.
	var sourceRole string
	if participant.RoleID != nil {
		for _, r := range roles {
			if r.ID == *participant.RoleID && r.SourceRoleID != nil {
				sourceRole = *r.SourceRoleID
			}
		}
	}
	visible := []domain.Artifact{}
	for _, a := range out.Artifacts {
		if !revealed[a.ID] {
			continue
		}
		variants := []domain.ArtifactVariant{}
		for _, v := range a.Variants {
			switch v.Visibility {
			case domain.VisibilityPublic:
				variants = append(variants, v)
			case domain.VisibilityRolePrivate:
				if v.VisibleToRoleID != nil && *v.VisibleToRoleID == sourceRole {
					variants = append(variants, v)
				}
			}
		}
		a.Variants = variants
		visible = append(visible, a)
	}
	out.Artifacts = visible
	return out, nil
}

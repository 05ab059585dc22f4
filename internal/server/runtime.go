package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"playline/internal/domain"
	"playline/internal/engine"
)

type indexInput struct {
	ID   string `path:"id"`
	Body IndexRequest
}

type artifactInput struct {
	ID         string `path:"id"`
	ArtifactID string `path:"artifact_id"`
}

type okOutput struct {
	Body OKResponse `json:"body"`
}

func ok() *okOutput {
	return &okOutput{Body: OKResponse{OK: true}}
}

func registerRuntime(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sessions.start",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/start",
		Summary:     "Start the session game at its first step",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.StartSession(ctx, input.ID, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.step",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/step",
		Summary:     "Move to a step by index",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *indexInput) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateCurrentStep(ctx, input.ID, input.Body.Index, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.phase",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/phase",
		Summary:     "Move to a phase by index",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *indexInput) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateCurrentPhase(ctx, input.ID, input.Body.Index, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.timer",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/timer",
		Summary:     "Start, pause, resume or reset the session timer",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TimerRequest
	}) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		actor := engine.HostActor(p.UserID)
		var s domain.Session
		switch input.Body.Action {
		case "start":
			s, err = e.StartTimer(ctx, input.ID, input.Body.Seconds, actor)
		case "pause":
			s, err = e.PauseTimer(ctx, input.ID, actor)
		case "resume":
			s, err = e.ResumeTimer(ctx, input.ID, actor)
		case "reset":
			s, err = e.ResetTimer(ctx, input.ID, actor)
		default:
			err = fmt.Errorf("invalid timer action %q", input.Body.Action)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.board",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/board",
		Summary:     "Replace the board message and overrides",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body domain.BoardState
	}) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateBoardState(ctx, input.ID, input.Body, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "artifacts.reveal",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/artifacts/{artifact_id}/reveal",
		Summary:     "Reveal or hide an artifact",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		ArtifactID string `path:"artifact_id"`
		Body       RevealArtifactRequest
	}) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.RevealArtifact(ctx, input.ID, input.ArtifactID, input.Body.Revealed, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "artifacts.highlight",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/artifacts/{artifact_id}/highlight",
		Summary:     "Highlight a revealed artifact on the board",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *artifactInput) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.HighlightArtifact(ctx, input.ID, input.ArtifactID, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decisions.create",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/decisions",
		Summary:     "Open a decision",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateDecisionRequest
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		d, err := e.CreateDecision(ctx, input.ID, input.Body.Title, input.Body.Options, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decisions.reveal",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/decisions/{decision_id}/reveal",
		Summary:     "Reveal decision results on the board",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID         string                `path:"id"`
		DecisionID string                `path:"decision_id"`
		Body       RevealDecisionRequest `required:"false"`
	}) (*okOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RevealDecision(ctx, input.ID, input.DecisionID, input.Body.Results, engine.HostActor(p.UserID)); err != nil {
			return nil, handleError(err)
		}
		return ok(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "outcomes.create",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/outcomes",
		Summary:     "Record an outcome",
		Tags:        []string{"Runtime"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateOutcomeRequest
	}) (*struct {
		Body domain.Outcome `json:"body"`
	}, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		o, err := e.AddOutcome(ctx, input.ID, input.Body.Title, input.Body.Body, input.Body.Reveal, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Outcome `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roles.snapshot",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/roles/snapshot",
		Summary:     "Copy the game roles into the session",
		Tags:        []string{"Roles"},
	}, func(ctx context.Context, input *sessionPath) (*rolesOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		roles, err := e.SnapshotGameRoles(ctx, input.ID, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		out := &rolesOutput{}
		out.Body.Items = nonNil(roles)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roles.list",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/roles",
		Summary:     "List session roles",
		Tags:        []string{"Roles"},
	}, func(ctx context.Context, input *sessionPath) (*rolesOutput, error) {
		if _, _, err := hostSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		roles, err := e.GetSessionRoles(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &rolesOutput{}
		out.Body.Items = nonNil(roles)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roles.assign",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/participants/{participant_id}/role",
		Summary:     "Assign or clear a participant's role",
		Tags:        []string{"Roles"},
	}, func(ctx context.Context, input *struct {
		ID            string `path:"id"`
		ParticipantID string `path:"participant_id"`
		Body          AssignRoleRequest
	}) (*okOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.AssignRole(ctx, input.ID, input.ParticipantID, input.Body.RoleID, engine.HostActor(p.UserID)); err != nil {
			return nil, handleError(err)
		}
		return ok(), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "triggers.fire",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/conditions",
		Summary:     "Fire a condition against the session triggers",
		Tags:        []string{"Triggers"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body FireConditionRequest
	}) (*struct {
		Body engine.FireResult `json:"body"`
	}, error) {
		if _, _, err := hostSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		res, err := e.FireCondition(ctx, input.ID, domain.Condition{Type: input.Body.Type, Params: input.Body.Params})
		if err != nil {
			return nil, handleError(err)
		}
		res.Fired = nonNil(res.Fired)
		return &struct {
			Body engine.FireResult `json:"body"`
		}{Body: res}, nil
	})
}

type rolesOutput struct {
	Body SessionRoleList `json:"body"`
}

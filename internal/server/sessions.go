package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/engine/auth"
	"playline/internal/repo"
)

type sessionPath struct {
	ID string `path:"id"`
}

type sessionOutput struct {
	Body domain.Session `json:"body"`
}

func forbidden(reason string) error {
	return auth.ForbiddenError{Reason: reason}
}

// hostSession loads session id and checks the caller may manage it.
func hostSession(ctx context.Context, e engine.Engine, id string) (domain.Session, Principal, error) {
	p, herr := hostFromContext(ctx)
	if herr != nil {
		return domain.Session{}, p, herr
	}
	sess, err := e.GetSessionByID(ctx, id)
	if err != nil {
		return domain.Session{}, p, err
	}
	if sess == nil {
		return domain.Session{}, p, engine.ErrSessionNotFound
	}
	if _, err := e.RequireHost(ctx, p.UserID, *sess); err != nil {
		return domain.Session{}, p, err
	}
	return *sess, p, nil
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sessions.create",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Create a play session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest
	}) (*sessionOutput, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		hostID := p.UserID
		if input.Body.HostUserID != "" && input.Body.HostUserID != p.UserID {
			if p.GlobalRole != domain.GlobalRoleSystemAdmin {
				return nil, handleError(forbidden("only system admins may create sessions for another host"))
			}
			hostID = input.Body.HostUserID
		}
		s, err := e.CreateSession(ctx, engine.CreateSessionOptions{
			TenantID:    p.TenantID,
			HostUserID:  hostID,
			DisplayName: input.Body.DisplayName,
			Description: input.Body.Description,
			GameID:      input.Body.GameID,
			PlanID:      input.Body.PlanID,
			Settings:    input.Body.Settings,
			NoExpiry:    input.Body.NoExpiry,
			ExpiresAt:   input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.list",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List the caller's sessions",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *struct {
		IncludeArchived bool `query:"include_archived"`
	}) (*struct {
		Body SessionList `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		items, err := e.GetHostSessions(ctx, p.UserID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionList `json:"body"`
		}{Body: SessionList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.get",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, _, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.status",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/status",
		Summary:     "Change session status",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SessionStatusRequest
	}) (*sessionOutput, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Force && p.GlobalRole != domain.GlobalRoleSystemAdmin {
			return nil, handleError(forbidden("force requires system_admin"))
		}
		s, err := e.UpdateSessionStatus(ctx, engine.StatusUpdate{
			ID:     input.ID,
			Status: input.Body.Status,
			Actor:  engine.HostActor(p.UserID),
			Force:  input.Body.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.events",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/events",
		Summary:     "List session events oldest first",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		After int64  `query:"after"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body SessionEventList `json:"body"`
	}, error) {
		if _, _, err := hostSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEvents(ctx, input.ID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionEventList `json:"body"`
		}{Body: SessionEventList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sessions.archive",
		Method:      http.MethodPost,
		Path:        "/sessions/archive",
		Summary:     "Archive sessions that ended long ago",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *struct {
		Body ArchiveSessionsRequest `required:"false"`
	}) (*struct {
		Body ArchiveSessionsResponse `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if p.GlobalRole != domain.GlobalRoleSystemAdmin {
			return nil, handleError(forbidden("archiving requires system_admin"))
		}
		n, err := e.ArchiveOldSessions(ctx, input.Body.DaysOld)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArchiveSessionsResponse `json:"body"`
		}{Body: ArchiveSessionsResponse{Archived: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quota.get",
		Method:      http.MethodGet,
		Path:        "/quota",
		Summary:     "No-expiry token quota of the caller's tenant",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.TokenQuota `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		q, err := e.Repo.GetQuota(ctx, p.TenantID)
		if errors.Is(err, repo.ErrNotFound) {
			q, err = domain.TokenQuota{TenantID: p.TenantID}, nil
			if e.Config != nil {
				q.Limit = e.Config.Quota.NoExpiryTokensLimit
			}
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TokenQuota `json:"body"`
		}{Body: q}, nil
	})
}

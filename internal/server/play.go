package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/engine/auth"
	"playline/internal/events"
	"playline/internal/sessioncode"
	"playline/internal/signals"
)

// sessionAccess resolves host credentials or the participant token header
// for session id.
func sessionAccess(ctx context.Context, e engine.Engine, id string) (domain.Session, auth.Access, error) {
	sess, err := e.GetSessionByID(ctx, id)
	if err != nil {
		return domain.Session{}, auth.Access{}, err
	}
	if sess == nil {
		return domain.Session{}, auth.Access{}, engine.ErrSessionNotFound
	}
	token := requestHeader(ctx, participantTokenHeader)
	access, err := e.AuthorizeSessionAccess(ctx, *sess, userIDFromContext(ctx), token)
	if err != nil {
		return *sess, access, err
	}
	if access.Kind == auth.AccessParticipant {
		// Records last_seen_at.
		if _, err := e.AuthorizeParticipant(ctx, sess.ID, token); err != nil {
			return *sess, access, err
		}
	}
	return *sess, access, nil
}

func accessActor(a auth.Access) events.Actor {
	if a.Kind == auth.AccessParticipant && a.Participant != nil {
		return events.Actor{Type: domain.ActorParticipant, ID: a.Participant.ID, Name: a.Participant.DisplayName}
	}
	if a.User != nil {
		return events.Actor{Type: domain.ActorHost, ID: a.User.ID, Name: a.User.DisplayName}
	}
	return events.Actor{Type: domain.ActorSystem}
}

type participantsOutput struct {
	Body ParticipantList `json:"body"`
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "participants.list",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/participants",
		Summary:     "List session participants",
		Tags:        []string{"Participants"},
	}, func(ctx context.Context, input *sessionPath) (*participantsOutput, error) {
		if _, _, err := hostSession(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListParticipants(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &participantsOutput{}
		out.Body.Items = nonNil(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "participants.status",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/participants/{participant_id}/status",
		Summary:     "Approve, block or kick a participant",
		Tags:        []string{"Participants"},
	}, func(ctx context.Context, input *struct {
		ID            string `path:"id"`
		ParticipantID string `path:"participant_id"`
		Body          ParticipantStatusRequest
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		_, p, err := hostSession(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		part, err := e.SetParticipantStatus(ctx, input.ID, input.ParticipantID, input.Body.Status, engine.HostActor(p.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		part.Token = ""
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: part}, nil
	})
}

type signalsOutput struct {
	Body SignalList `json:"body"`
}

func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "signals.catalog",
		Method:      http.MethodGet,
		Path:        "/signals/catalog",
		Summary:     "Known signal channels",
		Tags:        []string{"Signals"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ChannelList `json:"body"`
	}, error) {
		return &struct {
			Body ChannelList `json:"body"`
		}{Body: ChannelList{Items: signals.Catalog()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signals.send",
		Method:      http.MethodPost,
		Path:        "/play/sessions/{id}/signals",
		Summary:     "Send a signal as host or participant",
		Tags:        []string{"Signals"},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SendSignalRequest
	}) (*struct {
		Body signals.Meta `json:"body"`
	}, error) {
		_, access, err := sessionAccess(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		evt, err := e.SendSignal(ctx, engine.SignalOptions{
			SessionID: input.ID,
			Channel:   input.Body.Channel,
			Message:   input.Body.Message,
			Actor:     accessActor(access),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body signals.Meta `json:"body"`
		}{Body: signals.ExtractMeta(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signals.list",
		Method:      http.MethodGet,
		Path:        "/play/sessions/{id}/signals",
		Summary:     "List signals newest first",
		Tags:        []string{"Signals"},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		After int64  `query:"after"`
		Limit int    `query:"limit"`
	}) (*signalsOutput, error) {
		if _, _, err := sessionAccess(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		evts, err := e.ListSignals(ctx, input.ID, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := &signalsOutput{}
		out.Body.Items = make([]signals.Meta, 0, len(evts))
		for _, evt := range evts {
			out.Body.Items = append(out.Body.Items, signals.ExtractMeta(evt))
		}
		return out, nil
	})
}

func registerPlay(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "play.join",
		Method:      http.MethodPost,
		Path:        "/play/join",
		Summary:     "Join a session by code",
		Tags:        []string{"Play"},
	}, func(ctx context.Context, input *struct {
		Body JoinRequest
	}) (*struct {
		Body engine.JoinResult `json:"body"`
	}, error) {
		res, err := e.JoinSession(ctx, engine.JoinOptions{
			Code:        input.Body.Code,
			DisplayName: input.Body.DisplayName,
			Token:       input.Body.Token,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res.Session.Settings = domain.SessionSettings{}
		res.Session.HostUserID = ""
		return &struct {
			Body engine.JoinResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "play.game",
		Method:      http.MethodGet,
		Path:        "/play/sessions/{id}/game",
		Summary:     "Game content visible to the caller",
		Description: "Hosts see all content. Participants see revealed artifacts with public and role-matched variants.",
		Tags:        []string{"Play"},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body engine.SessionGame `json:"body"`
	}, error) {
		sess, access, err := sessionAccess(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		game, err := e.GetSessionGame(ctx, sess, access.Participant)
		if err != nil {
			return nil, handleError(err)
		}
		if game == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "session has no game", nil)
		}
		return &struct {
			Body engine.SessionGame `json:"body"`
		}{Body: *game}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "play.board",
		Method:      http.MethodGet,
		Path:        "/play/board/{code}",
		Summary:     "Public board snapshot",
		Tags:        []string{"Play"},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body domain.BoardSnapshot `json:"body"`
	}, error) {
		snap, err := e.BoardSnapshot(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		if snap == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "board not found", nil)
		}
		return &struct {
			Body domain.BoardSnapshot `json:"body"`
		}{Body: *snap}, nil
	})
}

type codeInfo struct {
	Code        string `json:"code"`
	Display     string `json:"display"`
	ValidFormat bool   `json:"valid_format"`
}

func registerCodes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "codes.check",
		Method:      http.MethodGet,
		Path:        "/codes/{code}",
		Summary:     "Normalize a typed join code",
		Tags:        []string{"Play"},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body codeInfo `json:"body"`
	}, error) {
		code := sessioncode.Normalize(input.Code)
		return &struct {
			Body codeInfo `json:"body"`
		}{Body: codeInfo{
			Code:        code,
			Display:     sessioncode.FormatDisplay(code),
			ValidFormat: sessioncode.IsValidFormat(code),
		}}, nil
	})
}

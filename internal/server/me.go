package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/repo"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me.get",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current host user",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, herr := hostFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		u, err := e.Repo.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

type tokenOutput struct {
	Body TokenResponse `json:"body"`
}

// registerDevAuth signs host tokens for existing users without a password.
// It is only mounted when AuthConfig.DevLogin is set.
func registerDevAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	if !cfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "auth.devLogin",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Development login",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*tokenOutput, error) {
		u, err := e.Repo.GetUser(ctx, input.Body.UserID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		// Token validity follows the wall clock, not the engine clock.
		now := time.Now()
		ttl := cfg.tokenTTL()
		token, err := SignToken(cfg.JWTSecret, u, ttl, now)
		if err != nil {
			return nil, handleError(err)
		}
		cfg.logger().Printf("auth: dev.login user=%s", u.ID)
		out := &tokenOutput{}
		out.Body.Token = token
		out.Body.ExpiresAt = now.Add(ttl).UTC().Format(time.RFC3339)
		return out, nil
	})
}

package playlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/signals"
)

// Client is a minimal Playline HTTP API client. Host calls use BearerToken
// or APIKey; participant calls use ParticipantToken.
type Client struct {
	BaseURL          string
	BasePath         string
	APIKey           string
	BearerToken      string
	ParticipantToken string
	HTTPClient       *http.Client
	Timeout          time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type CreateSessionRequest struct {
	DisplayName string                       `json:"display_name"`
	Description string                       `json:"description,omitempty"`
	GameID      string                       `json:"game_id,omitempty"`
	HostUserID  string                       `json:"host_user_id,omitempty"`
	Settings    *domain.SessionSettingsInput `json:"settings,omitempty"`
	NoExpiry    bool                         `json:"no_expiry,omitempty"`
}

// ImportItem is the per-game outcome of an import call.
type ImportItem struct {
	GameKey string               `json:"game_key"`
	Status  string               `json:"status"`
	Result  *ImportResult        `json:"result,omitempty"`
	Issues  []domain.ImportIssue `json:"issues,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type ImportResult struct {
	GameID   string               `json:"game_id"`
	GameKey  string               `json:"game_key"`
	Counts   domain.ContentCounts `json:"counts"`
	Warnings []domain.ImportIssue `json:"warnings"`
	DryRun   bool                 `json:"dry_run,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, "sessions", req, &resp)
	return resp, err
}

func (c *Client) ListSessions(ctx context.Context, includeArchived bool) ([]domain.Session, error) {
	var resp struct {
		Items []domain.Session `json:"items"`
	}
	endpoint := "sessions"
	if includeArchived {
		endpoint += "?include_archived=true"
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

// SetStatus moves a session through the status state machine.
func (c *Client) SetStatus(ctx context.Context, id, status string, force bool) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "status"), map[string]any{"status": status, "force": force}, &resp)
	return resp, err
}

func (c *Client) StartSession(ctx context.Context, id string) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "start"), nil, &resp)
	return resp, err
}

func (c *Client) SetStep(ctx context.Context, id string, index int) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "step"), map[string]any{"index": index}, &resp)
	return resp, err
}

func (c *Client) SetPhase(ctx context.Context, id string, index int) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "phase"), map[string]any{"index": index}, &resp)
	return resp, err
}

// Timer runs a timer action: start (with seconds), pause, resume or reset.
func (c *Client) Timer(ctx context.Context, id, action string, seconds int) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, "timer"), map[string]any{"action": action, "seconds": seconds}, &resp)
	return resp, err
}

func (c *Client) SetBoardMessage(ctx context.Context, id, message string) (domain.Session, error) {
	var resp domain.Session
	err := c.do(ctx, http.MethodPut, sessionPath(id, "board"), domain.BoardState{Message: message}, &resp)
	return resp, err
}

func (c *Client) FireCondition(ctx context.Context, id, condType string, params map[string]any) (engine.FireResult, error) {
	var resp engine.FireResult
	err := c.do(ctx, http.MethodPost, sessionPath(id, "conditions"), map[string]any{"type": condType, "params": params}, &resp)
	return resp, err
}

func (c *Client) Events(ctx context.Context, id string, after int64, limit int) ([]domain.SessionEvent, error) {
	var resp struct {
		Items []domain.SessionEvent `json:"items"`
	}
	endpoint := fmt.Sprintf("%s?after=%d", sessionPath(id, "events"), after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	var resp struct {
		Items []domain.Participant `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, sessionPath(id, "participants"), nil, &resp)
	return resp.Items, err
}

func (c *Client) SetParticipantStatus(ctx context.Context, id, participantID, status string) (domain.Participant, error) {
	var resp domain.Participant
	endpoint := sessionPath(id, "participants/"+url.PathEscape(participantID)+"/status")
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Join joins a session by code. The returned participant carries the token
// to use as ParticipantToken.
func (c *Client) Join(ctx context.Context, code, displayName string) (engine.JoinResult, error) {
	var resp engine.JoinResult
	err := c.do(ctx, http.MethodPost, "play/join", map[string]any{"code": code, "display_name": displayName}, &resp)
	return resp, err
}

// Rejoin returns to the seat held by token, which is rotated.
func (c *Client) Rejoin(ctx context.Context, code, token string) (engine.JoinResult, error) {
	var resp engine.JoinResult
	err := c.do(ctx, http.MethodPost, "play/join", map[string]any{"code": code, "token": token}, &resp)
	return resp, err
}

func (c *Client) SendSignal(ctx context.Context, id, channel, message string) (signals.Meta, error) {
	var resp signals.Meta
	endpoint := "play/sessions/" + url.PathEscape(id) + "/signals"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"channel": channel, "message": message}, &resp)
	return resp, err
}

func (c *Client) Signals(ctx context.Context, id string, limit int) ([]signals.Meta, error) {
	var resp struct {
		Items []signals.Meta `json:"items"`
	}
	endpoint := "play/sessions/" + url.PathEscape(id) + "/signals"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// BoardSnapshot fetches the public board. An unknown code is (nil, nil) so
// the client satisfies board.Fetcher.
func (c *Client) BoardSnapshot(ctx context.Context, code string) (*domain.BoardSnapshot, error) {
	var resp domain.BoardSnapshot
	err := c.do(ctx, http.MethodGet, "play/board/"+url.PathEscape(code), nil, &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// BoardStreamURL is the websocket URL of the board push stream.
func (c *Client) BoardStreamURL(code string) string {
	u := c.url("play/board/" + url.PathEscape(code) + "/stream")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// ImportGames posts a JSON, YAML or CSV game file. An empty format lets the
// server sniff the body.
func (c *Client) ImportGames(ctx context.Context, data []byte, format string, dryRun bool) ([]ImportItem, error) {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	if dryRun {
		q.Set("dry_run", "true")
	}
	endpoint := "games/import"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	contentType := "application/json"
	switch format {
	case "yaml":
		contentType = "application/yaml"
	case "csv":
		contentType = "text/csv"
	}
	var resp struct {
		Items []ImportItem `json:"items"`
	}
	err := c.send(ctx, http.MethodPost, endpoint, bytes.NewReader(data), contentType, &resp)
	return resp.Items, err
}

func (c *Client) Games(ctx context.Context) ([]domain.Game, error) {
	var resp struct {
		Items []domain.Game `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "games", nil, &resp)
	return resp.Items, err
}

func (c *Client) ImportRuns(ctx context.Context, gameKey string, limit int) ([]domain.ImportRun, error) {
	q := url.Values{}
	if gameKey != "" {
		q.Set("game_key", gameKey)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "import-runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []domain.ImportRun `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var resp domain.User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, &buf, "application/json", out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.ParticipantToken != "" {
		req.Header.Set("x-participant-token", c.ParticipantToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func sessionPath(id, p string) string {
	if p == "" {
		return "sessions/" + url.PathEscape(id)
	}
	return "sessions/" + url.PathEscape(id) + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"playline/internal/board"
	"playline/internal/config"
	"playline/internal/db"
	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/migrate"
	"playline/internal/repo"
)

const testSecret = "test-secret"

const labEscapeYAML = `game_key: lab-escape
name: Lab escape
phases:
  - phase_order: 1
    name: Briefing
    board_message: Welcome
  - phase_order: 2
    name: Escape
steps:
  - step_order: 1
    title: Read the brief
    phase_order: 1
    leader_script: Say hi
  - step_order: 2
    title: Find the key
    phase_order: 2
    board_text: Search the lab
roles:
  - role_order: 1
    name: Scientist
artifacts:
  - artifact_order: 1
    title: Lab notes
    variants:
      - body: Public page
      - body: Scientist page
        visible_to_role_order: 1
triggers:
  - name: Found notes
    condition:
      type: signal_received
      channel: found
    actions:
      - type: reveal_artifact
        artifactOrder: 1
    execute_once: true
`

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("t1")
	cfg.Board.StreamInterval = "20ms"
	if mutate != nil {
		mutate(cfg)
	}
	e := engine.New(conn, cfg)
	e.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, tenant := range []string{"t1", "t2"} {
		if err := e.Repo.EnsureTenantTx(ctx, nil, tenant, "", now); err != nil {
			t.Fatalf("tenant: %v", err)
		}
	}
	for _, u := range []domain.User{
		{ID: "host-1", TenantID: "t1", DisplayName: "Host", CreatedAt: now},
		{ID: "host-2", TenantID: "t1", CreatedAt: now},
		{ID: "admin", TenantID: "t1", GlobalRole: domain.GlobalRoleSystemAdmin, CreatedAt: now},
	} {
		if err := e.Repo.InsertUserTx(ctx, nil, u); err != nil {
			t.Fatalf("user %s: %v", u.ID, err)
		}
	}
	if err := e.Repo.GrantTenantRole(ctx, nil, domain.TenantRoleGrant{
		TenantID: "t1", UserID: "host-1", Role: domain.TenantRoleAdmin, GrantedBy: "admin", CreatedAt: now,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
		Logger:   e.Logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func hostHeaders(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, domain.User{ID: userID, TenantID: "t1"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func doRaw(t *testing.T, client *http.Client, url, contentType, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("status %d want %d: %s", res.StatusCode, status, string(data))
	}
	env := decode[errorEnvelope](t, data)
	if code != "" && env.Error.Code != code {
		t.Fatalf("error code %q want %q: %s", env.Error.Code, code, string(data))
	}
	return env
}

// importLabEscape imports the YAML fixture and returns its game id.
func importLabEscape(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doRaw(t, srv.Client(), srv.URL+"/v0/games/import", "application/yaml", labEscapeYAML, hostHeaders(t, "host-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	out := decode[struct {
		Items []importItem `json:"items"`
	}](t, data)
	if len(out.Items) != 1 || out.Items[0].Status != "ok" || out.Items[0].Result == nil {
		t.Fatalf("unexpected import result: %s", string(data))
	}
	return out.Items[0].Result.GameID
}

func createSession(t *testing.T, srv *testServer, gameID string) domain.Session {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"display_name": "Friday game",
		"game_id":      gameID,
	}, hostHeaders(t, "host-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	return decode[domain.Session](t, data)
}

func joinSession(t *testing.T, srv *testServer, code, name string) engine.JoinResult {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/play/join", map[string]any{
		"code":         code,
		"display_name": name,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("join status %d: %s", res.StatusCode, string(data))
	}
	return decode[engine.JoinResult](t, data)
}

func TestHealthAndCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "missing"})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	key := "pk_live_host"
	if err := srv.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID: "key-1", UserID: "host-1", KeyHash: repo.HashAPIKey(key),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	if me := decode[domain.User](t, data); me.ID != "host-1" || me.TenantID != "t1" {
		t.Fatalf("unexpected me: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "admin"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	login := decode[struct {
		Token string `json:"token"`
	}](t, data)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if me := decode[domain.User](t, data); res.StatusCode != http.StatusOK || !me.IsSystemAdmin() {
		t.Fatalf("dev token me %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPINamesRequestBodies(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi %d: %s", res.StatusCode, string(data))
	}
	doc := decode[struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}](t, data)
	for _, name := range []string{
		"CreateSessionRequest", "CreateDecisionRequest", "CreateOutcomeRequest",
		"SessionStatusRequest", "ParticipantStatusRequest",
		"RevealArtifactRequest", "RevealDecisionRequest", "JoinRequest",
		"SessionList", "GameList", "ImportRunList",
	} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Fatalf("schema %s missing", name)
		}
	}
}

func TestSessionPlayFlow(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	host := hostHeaders(t, "host-1")

	gameID := importLabEscape(t, srv)
	sess := createSession(t, srv, gameID)
	if sess.Status != domain.SessionActive || len(sess.Code) != 6 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// Codes are typed loosely by players.
	code := strings.ToLower(sess.Code[:3]) + "-" + strings.ToLower(sess.Code[3:])
	joined := joinSession(t, srv, code, "Ada")
	if joined.Participant.Token == "" || joined.Session.HostUserID != "" {
		t.Fatalf("unexpected join result: %+v", joined)
	}
	participant := map[string]string{participantTokenHeader: joined.Participant.Token}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/play/sessions/"+sess.ID+"/game", nil, participant)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("participant game %d: %s", res.StatusCode, string(data))
	}
	view := decode[engine.SessionGame](t, data)
	if view.Access != "participant" || len(view.Artifacts) != 0 {
		t.Fatalf("participant should see no unrevealed artifacts: %+v", view)
	}
	for _, step := range view.Steps {
		if step.LeaderScript != "" {
			t.Fatalf("leader script leaked to participant: %+v", step)
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/play/sessions/"+sess.ID+"/signals", map[string]any{
		"channel": "found",
		"message": "under the desk",
	}, participant)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("send signal %d: %s", res.StatusCode, string(data))
	}
	if meta := decode[struct {
		Direction string `json:"direction"`
		Channel   string `json:"channel"`
	}](t, data); meta.Direction != "incoming" || meta.Channel != "found" {
		t.Fatalf("unexpected signal meta: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/play/board/"+sess.Code, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board %d: %s", res.StatusCode, string(data))
	}
	snap := decode[domain.BoardSnapshot](t, data)
	if len(snap.Artifacts) != 1 || len(snap.Artifacts[0].Variants) != 1 {
		t.Fatalf("trigger should reveal the public variant: %+v", snap.Artifacts)
	}
	if snap.Session.ParticipantCount != 1 || snap.LatestEventID == 0 {
		t.Fatalf("unexpected board session: %+v", snap.Session)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+sess.ID+"/participants", nil, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("participants %d: %s", res.StatusCode, string(data))
	}
	list := decode[struct {
		Items []domain.Participant `json:"items"`
	}](t, data)
	if len(list.Items) != 1 || list.Items[0].Token != "" {
		t.Fatalf("participants should be listed without tokens: %+v", list.Items)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/"+sess.ID+"/participants/"+joined.Participant.ID+"/status",
		map[string]any{"status": "kicked"}, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("kick %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/play/sessions/"+sess.ID+"/game", nil, participant)
	expectError(t, res, data, http.StatusForbidden, "participant_kicked")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/play/sessions/"+sess.ID+"/game", nil,
		map[string]string{participantTokenHeader: "pt_unknown"})
	expectError(t, res, data, http.StatusUnauthorized, "participant_invalid")
}

func TestJoinRejoinNeedsToken(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	sess := createSession(t, srv, "")
	first := joinSession(t, srv, sess.Code, "Ana")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/play/join", map[string]any{
		"code": sess.Code, "display_name": "ANA",
	}, nil)
	expectError(t, res, data, http.StatusConflict, "name_taken")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/play/join", map[string]any{
		"code": sess.Code, "token": first.Participant.Token,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rejoin %d: %s", res.StatusCode, string(data))
	}
	again := decode[engine.JoinResult](t, data)
	if !again.Rejoined || again.Participant.ID != first.Participant.ID || again.Participant.Token == first.Participant.Token {
		t.Fatalf("rejoin = %+v", again)
	}
}

func TestHostOnlyRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	gameID := importLabEscape(t, srv)
	sess := createSession(t, srv, gameID)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+sess.ID, nil, hostHeaders(t, "host-2"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/"+sess.ID, nil, hostHeaders(t, "admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin get %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions/missing", nil, hostHeaders(t, "host-1"))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"display_name": "Borrowed",
		"host_user_id": "host-2",
	}, hostHeaders(t, "host-1"))
	expectError(t, res, data, http.StatusForbidden, "forbidden")
}

func TestRuntimeAndStatusConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	host := hostHeaders(t, "host-1")
	gameID := importLabEscape(t, srv)
	sess := createSession(t, srv, gameID)
	base := srv.URL + "/v0/sessions/" + sess.ID

	res, data := doJSON(t, client, http.MethodPost, base+"/start", nil, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/step", map[string]any{"index": 1}, host)
	if s := decode[domain.Session](t, data); res.StatusCode != http.StatusOK || s.CurrentStepIndex != 1 {
		t.Fatalf("step %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/step", map[string]any{"index": 9}, host)
	expectError(t, res, data, http.StatusUnprocessableEntity, "")

	res, data = doJSON(t, client, http.MethodPost, base+"/timer", map[string]any{"action": "pause"}, host)
	expectError(t, res, data, http.StatusConflict, "conflict")
	res, data = doJSON(t, client, http.MethodPost, base+"/timer", map[string]any{"action": "start", "seconds": 60}, host)
	if s := decode[domain.Session](t, data); res.StatusCode != http.StatusOK || s.TimerState == nil {
		t.Fatalf("timer start %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/status", map[string]any{"status": "ended"}, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/status", map[string]any{"status": "active"}, host)
	env := expectError(t, res, data, http.StatusConflict, "invalid_transition")
	if env.Error.Details["from"] != "ended" {
		t.Fatalf("unexpected details: %+v", env.Error.Details)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/status", map[string]any{"status": "active", "force": true}, host)
	expectError(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/play/join", map[string]any{
		"code": sess.Code, "display_name": "Late",
	}, nil)
	expectError(t, res, data, http.StatusConflict, "session_closed")

	res, data = doJSON(t, client, http.MethodGet, base+"/events", nil, host)
	events := decode[struct {
		Items []domain.SessionEvent `json:"items"`
	}](t, data)
	if res.StatusCode != http.StatusOK || len(events.Items) == 0 || events.Items[0].Type != "session_created" {
		t.Fatalf("events %d: %s", res.StatusCode, string(data))
	}
}

func TestNoExpiryQuotaOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) { cfg.Quota.NoExpiryTokensLimit = 1 })
	defer cleanup()
	client := srv.Client()
	host := hostHeaders(t, "host-1")
	body := map[string]any{"display_name": "Forever", "no_expiry": true}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", body, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first no-expiry session %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions", body, host)
	expectError(t, res, data, http.StatusConflict, "quota_exceeded")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/quota", nil, host)
	if q := decode[domain.TokenQuota](t, data); res.StatusCode != http.StatusOK || q.Used != 1 || q.Limit != 1 {
		t.Fatalf("quota %d: %s", res.StatusCode, string(data))
	}
}

func TestImportPreflightFailure(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	host := hostHeaders(t, "host-1")

	broken := map[string]any{
		"game_key": "broken",
		"name":     "Broken",
		"steps":    []map[string]any{{"step_order": 1, "title": "Only"}},
		"triggers": []map[string]any{{
			"name":      "Bad ref",
			"condition": map[string]any{"type": "step_started", "stepOrder": 7},
			"actions":   []map[string]any{{"type": "advance_step"}},
		}},
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/games/import?format=json", broken, host)
	env := expectError(t, res, data, http.StatusUnprocessableEntity, "import_preflight_failed")
	if issues, _ := env.Error.Details["issues"].([]any); len(issues) == 0 {
		t.Fatalf("expected issues in details: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/games", nil, host)
	games := decode[struct {
		Items []domain.Game `json:"items"`
	}](t, data)
	if res.StatusCode != http.StatusOK || len(games.Items) != 0 {
		t.Fatalf("failed import must not write content: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/import-runs?game_key=broken", nil, host)
	runs := decode[struct {
		Items []domain.ImportRun `json:"items"`
	}](t, data)
	if res.StatusCode != http.StatusOK || len(runs.Items) != 1 || runs.Items[0].Status != "failed" {
		t.Fatalf("import runs %d: %s", res.StatusCode, string(data))
	}

	res, data = doRaw(t, client, srv.URL+"/v0/games/import", "application/json", "{not json", host)
	expectError(t, res, data, http.StatusBadRequest, "invalid_import")
}

func TestImportRequiresLibraryAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doRaw(t, client, srv.URL+"/v0/games/import", "application/yaml", labEscapeYAML, hostHeaders(t, "host-2"))
	expectError(t, res, data, http.StatusForbidden, "")
	games, err := srv.Engine.Repo.ListGames(context.Background(), "t1")
	if err != nil || len(games) != 0 {
		t.Fatalf("forbidden import wrote %d game(s) %v", len(games), err)
	}

	res, data = doRaw(t, client, srv.URL+"/v0/games/import?dry_run=true", "application/yaml", labEscapeYAML, hostHeaders(t, "admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("system admin import %d: %s", res.StatusCode, string(data))
	}

	// A grant in another tenant does not count.
	now := time.Now().UTC().Format(time.RFC3339)
	if err := srv.Engine.Repo.GrantTenantRole(context.Background(), nil, domain.TenantRoleGrant{
		TenantID: "t2", UserID: "host-2", Role: domain.TenantRoleAdmin, CreatedAt: now,
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doRaw(t, client, srv.URL+"/v0/games/import", "application/yaml", labEscapeYAML, hostHeaders(t, "host-2"))
	expectError(t, res, data, http.StatusForbidden, "")
}

func TestImportCSV(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	host := hostHeaders(t, "host-1")

	doc := "game_key,name,step_1_title,step_1_body,step_2_title\n" +
		"csv-quiz,CSV quiz,Hello,Say hi,Questions\n"
	res, data := doRaw(t, client, srv.URL+"/v0/games/import", "text/csv; charset=utf-8", doc, host)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("csv import %d: %s", res.StatusCode, string(data))
	}
	out := decode[struct {
		Items []importItem `json:"items"`
	}](t, data)
	if len(out.Items) != 1 || out.Items[0].Result == nil || out.Items[0].Result.Counts.Steps != 2 {
		t.Fatalf("csv result: %s", string(data))
	}

	dup := "game_key,name,step_1_title,step_1_order,step_2_title,step_2_order\n" +
		"csv-dup,Dup,One,1,Two,1\n"
	res, data = doRaw(t, client, srv.URL+"/v0/games/import?format=csv", "application/octet-stream", dup, host)
	env := expectError(t, res, data, http.StatusUnprocessableEntity, "import_preflight_failed")
	if !strings.Contains(string(data), "steps[1].step_order") {
		t.Fatalf("expected element path in issues: %+v", env.Error.Details)
	}
}

func TestBoardStreamPushesSnapshots(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	gameID := importLabEscape(t, srv)
	sess := createSession(t, srv, gameID)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/play/board/" + sess.Code + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first board.StreamMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if first.Type != board.MessageSnapshot || first.Snapshot == nil || first.Snapshot.Session.Code != sess.Code {
		t.Fatalf("first frame should be a snapshot: %+v", first)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/sessions/"+sess.ID+"/board",
		map[string]any{"message": "Five minutes left"}, hostHeaders(t, "host-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board state %d: %s", res.StatusCode, string(data))
	}
	for {
		var msg board.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg.Type != board.MessageSnapshot {
			continue
		}
		if msg.LatestEventID <= first.LatestEventID {
			t.Fatalf("snapshot did not advance: %d <= %d", msg.LatestEventID, first.LatestEventID)
		}
		if msg.Snapshot.Session.BoardState == nil || msg.Snapshot.Session.BoardState.Message != "Five minutes left" {
			t.Fatalf("unexpected board state: %+v", msg.Snapshot.Session.BoardState)
		}
		break
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/play/board/NOPE99/stream", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown board stream status %d", res.StatusCode)
	}
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
		headers  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, r.Header.Get("X-Playline-Event"))
		headers = append(headers, r.Header.Get("X-Playline-Secret"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"session_created"}, Secret: "s3"}}
	})
	defer cleanup()
	ctx := context.Background()
	d := NewWebhookDispatcher(srv.Engine)
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	createSession(t, srv, "")
	// The first round only positions the cursor at the newest event.
	d.DispatchAll(ctx)
	createSession(t, srv, "")
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "session_created" || headers[0] != "s3" {
		t.Fatalf("unexpected deliveries: %v %v", received, headers)
	}
}

package engine_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"playline/internal/config"
	"playline/internal/db"
	"playline/internal/domain"
	"playline/internal/engine"
	"playline/internal/engine/auth"
	"playline/internal/events"
	"playline/internal/gameimport"
	"playline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	GameID string
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func intp(v int) *int { return &v }

func boolp(v bool) *bool { return &v }

func testGame() gameimport.ParsedGame {
	return gameimport.ParsedGame{
		GameKey: "lab-escape",
		Name:    "Lab escape",
		Phases: []gameimport.ParsedPhase{
			{PhaseOrder: intp(1), Name: "Briefing", BoardMessage: "Welcome"},
			{PhaseOrder: intp(2), Name: "Escape"},
		},
		Steps: []gameimport.ParsedStep{
			{StepOrder: intp(1), Title: "Read the brief", PhaseOrder: intp(1), LeaderScript: "Say hi"},
			{StepOrder: intp(2), Title: "Find the key", PhaseOrder: intp(2), BoardText: "Search the lab"},
			{StepOrder: intp(3), Title: "Open the door", PhaseOrder: intp(2)},
		},
		Roles: []gameimport.ParsedRole{{RoleOrder: intp(1), Name: "Scientist"}},
		Artifacts: []gameimport.ParsedArtifact{
			{ArtifactOrder: intp(1), Title: "Lab notes", Variants: []gameimport.ParsedVariant{
				{Body: "Public page"},
				{Body: "Scientist page", VisibleToRoleOrder: intp(1)},
			}},
			{ArtifactOrder: intp(2), Title: "Door keypad", ArtifactType: "keypad"},
		},
		Triggers: []gameimport.TriggerSpec{
			{
				Name:        "Found notes",
				Condition:   map[string]any{"type": "signal_received", "channel": "found"},
				Actions:     []map[string]any{{"type": "reveal_artifact", "artifactOrder": 1}},
				ExecuteOnce: boolp(true),
			},
			{
				Name:      "Notes advance",
				Condition: map[string]any{"type": "artifact_unlocked", "artifactOrder": 1},
				Actions:   []map[string]any{{"type": "advance_step"}},
			},
			{
				Name:      "Step two banner",
				Condition: map[string]any{"type": "step_started", "stepOrder": 2},
				Actions:   []map[string]any{{"type": "set_board_message", "message": "Step two"}},
			},
			{
				Name:         "Late hint",
				Condition:    map[string]any{"type": "manual"},
				Actions:      []map[string]any{{"type": "set_board_message", "message": "Later"}},
				DelaySeconds: intp(30),
			},
		},
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.Default("t1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return clock }
	eng.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()
	now := clock.Format(time.RFC3339)
	for _, tenant := range []string{"t1", "t2"} {
		if err := eng.Repo.EnsureTenantTx(ctx, nil, tenant, "", now); err != nil {
			t.Fatalf("tenant: %v", err)
		}
	}
	users := []domain.User{
		{ID: "host-1", TenantID: "t1", DisplayName: "Host", CreatedAt: now},
		{ID: "host-2", TenantID: "t1", CreatedAt: now},
		{ID: "admin", TenantID: "t1", GlobalRole: domain.GlobalRoleSystemAdmin, CreatedAt: now},
		{ID: "stranger", TenantID: "t2", CreatedAt: now},
	}
	for _, u := range users {
		if err := eng.Repo.InsertUserTx(ctx, nil, u); err != nil {
			t.Fatalf("user %s: %v", u.ID, err)
		}
	}
	imp := gameimport.Importer{Writer: eng.Repo, Runs: eng.Repo, Logger: eng.Logger}
	res, err := imp.Import(ctx, testGame(), gameimport.Options{TenantID: "t1", ActorID: "admin"})
	if err != nil {
		t.Fatalf("import game: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, GameID: res.GameID, clock: &clock}
}

func (env testEnv) createSession(t *testing.T, mutate func(*engine.CreateSessionOptions)) domain.Session {
	t.Helper()
	opts := engine.CreateSessionOptions{TenantID: "t1", HostUserID: "host-1", DisplayName: "Friday game", GameID: env.GameID}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := env.Engine.CreateSession(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestCreateSessionDefaults(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	if s.Status != domain.SessionActive {
		t.Fatalf("status = %s", s.Status)
	}
	if len(s.Code) != 6 {
		t.Fatalf("code = %q", s.Code)
	}
	if s.Settings.TokenExpiryHours == nil || *s.Settings.TokenExpiryHours != 24 {
		t.Fatalf("expected 24h token expiry, got %+v", s.Settings.TokenExpiryHours)
	}
	if s.Settings.MaxParticipants != 100 {
		t.Fatalf("max participants = %d", s.Settings.MaxParticipants)
	}

	got, err := env.Engine.GetSessionByCode(env.Ctx, strings.ToLower(s.Code[:3])+"-"+strings.ToLower(s.Code[3:]))
	if err != nil || got == nil || got.ID != s.ID {
		t.Fatalf("lookup by formatted code: %+v %v", got, err)
	}
	miss, err := env.Engine.GetSessionByCode(env.Ctx, "ZZZZZZ")
	if err != nil || miss != nil {
		t.Fatalf("expected nil miss, got %+v %v", miss, err)
	}
	bad, err := env.Engine.GetSessionByCode(env.Ctx, "no")
	if err != nil || bad != nil {
		t.Fatalf("malformed code should miss: %+v %v", bad, err)
	}

	evts, err := env.Engine.ListEvents(env.Ctx, s.ID, 0, 10)
	if err != nil || len(evts) != 1 || evts[0].Type != "session_created" {
		t.Fatalf("expected session_created event, got %+v %v", evts, err)
	}
}

func TestCreateSessionMergesPartialSettings(t *testing.T) {
	env := newTestEnv(t)
	ten := 10
	s := env.createSession(t, func(o *engine.CreateSessionOptions) {
		o.Settings = &domain.SessionSettingsInput{MaxParticipants: &ten}
	})
	got := s.Settings
	if got.MaxParticipants != 10 {
		t.Fatalf("max participants = %d", got.MaxParticipants)
	}
	if !got.AllowRejoin || !got.AllowAnonymous || !got.EnableProgressTracking {
		t.Fatalf("unset fields must keep the defaults: %+v", got)
	}
	if got.TokenExpiryHours == nil || *got.TokenExpiryHours != 24 {
		t.Fatalf("token expiry = %v", got.TokenExpiryHours)
	}

	zero := 0
	_, err := env.Engine.CreateSession(env.Ctx, engine.CreateSessionOptions{
		TenantID:   "t1",
		HostUserID: "host-1",
		Settings:   &domain.SessionSettingsInput{TokenExpiryHours: &zero},
	})
	if err == nil || !strings.Contains(err.Error(), "token_expiry_hours") {
		t.Fatalf("expected token expiry error, got %v", err)
	}
}

func TestCreateSessionRejectsForeignGameAndHost(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSession(env.Ctx, engine.CreateSessionOptions{TenantID: "t2", HostUserID: "stranger", DisplayName: "x", GameID: env.GameID})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for foreign game, got %v", err)
	}
	_, err = env.Engine.CreateSession(env.Ctx, engine.CreateSessionOptions{TenantID: "t1", HostUserID: "stranger", DisplayName: "x"})
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for foreign host, got %v", err)
	}
	if _, err := env.Engine.CreateSession(env.Ctx, engine.CreateSessionOptions{TenantID: "t1", HostUserID: "host-1", DisplayName: "  "}); err == nil {
		t.Fatalf("expected display name error")
	}
}

func TestNoExpiryQuota(t *testing.T) {
	env := newTestEnv(t)
	noExpiry := func(o *engine.CreateSessionOptions) { o.NoExpiry = true }
	for i := 0; i < 2; i++ {
		s := env.createSession(t, noExpiry)
		if s.Settings.TokenExpiryHours != nil {
			t.Fatalf("expected no-expiry settings")
		}
	}
	_, err := env.Engine.CreateSession(env.Ctx, engine.CreateSessionOptions{TenantID: "t1", HostUserID: "host-2", DisplayName: "third", NoExpiry: true})
	if !errors.Is(err, engine.ErrNoExpiryQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if err.Error() != "No-expiry token quota exceeded for this tenant" {
		t.Fatalf("message = %q", err.Error())
	}
	q, err := env.Engine.Repo.GetQuota(env.Ctx, "t1")
	if err != nil || q.Used != 2 || q.Limit != 2 {
		t.Fatalf("quota = %+v %v", q, err)
	}

	// admins bypass and do not consume
	env.createSession(t, func(o *engine.CreateSessionOptions) { o.HostUserID = "admin"; o.NoExpiry = true })
	q, _ = env.Engine.Repo.GetQuota(env.Ctx, "t1")
	if q.Used != 2 {
		t.Fatalf("admin consumed quota: %+v", q)
	}
	// sessions with expiring tokens are unaffected
	env.createSession(t, nil)
}

func TestSessionStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	steps := []string{domain.SessionPaused, domain.SessionActive, domain.SessionLocked, domain.SessionActive, domain.SessionEnded, domain.SessionArchived}
	for _, to := range steps {
		got, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: to, Actor: host})
		if err != nil || got.Status != to {
			t.Fatalf("to %s: %+v %v", to, got.Status, err)
		}
	}
	_, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: domain.SessionActive, Actor: host})
	var terr engine.TransitionError
	if !errors.As(err, &terr) || terr.From != domain.SessionArchived {
		t.Fatalf("expected transition error, got %v", err)
	}
	got, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: domain.SessionActive, Actor: host, Force: true})
	if err != nil || got.Status != domain.SessionActive {
		t.Fatalf("forced reopen: %v", err)
	}
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: "bogus", Force: true}); err == nil {
		t.Fatalf("unknown status must fail even when forced")
	}
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: "missing", Status: domain.SessionPaused}); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEndedSessionRejectsRuntimeChanges(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: domain.SessionEnded}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.StartTimer(env.Ctx, s.ID, 60, engine.HostActor("host-1"))
	var closed engine.SessionClosedError
	if !errors.As(err, &closed) || closed.Status != domain.SessionEnded {
		t.Fatalf("expected closed error, got %v", err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Late"}); !errors.As(err, &closed) {
		t.Fatalf("join on ended session: %v", err)
	}
}

func TestArchiveOldSessions(t *testing.T) {
	env := newTestEnv(t)
	old := env.createSession(t, nil)
	fresh := env.createSession(t, nil)
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: old.ID, Status: domain.SessionCancelled}); err != nil {
		t.Fatal(err)
	}
	env.advance(10 * 24 * time.Hour)
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: fresh.ID, Status: domain.SessionEnded}); err != nil {
		t.Fatal(err)
	}
	env.advance(24 * time.Hour)
	n, err := env.Engine.ArchiveOldSessions(env.Ctx, 7)
	if err != nil || n != 1 {
		t.Fatalf("archived %d, err %v", n, err)
	}
	got, _ := env.Engine.GetSessionByID(env.Ctx, old.ID)
	if got.Status != domain.SessionArchived || got.ArchivedAt == nil {
		t.Fatalf("old session not archived: %+v", got)
	}
	got, _ = env.Engine.GetSessionByID(env.Ctx, fresh.ID)
	if got.Status != domain.SessionEnded {
		t.Fatalf("fresh session archived too early")
	}
	list, err := env.Engine.GetHostSessions(env.Ctx, "host-1", false)
	if err != nil || len(list) != 1 {
		t.Fatalf("host sessions without archived: %d %v", len(list), err)
	}
}

func TestJoinAndRejoin(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	first, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Ana"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !strings.HasPrefix(first.Participant.Token, "pt_") || first.Participant.Status != domain.ParticipantActive {
		t.Fatalf("unexpected participant: %+v", first.Participant)
	}

	// Someone else typing the same name does not get the seat.
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "ANA"}); !errors.Is(err, engine.ErrNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "ana", Token: "pt_forged"}); !errors.Is(err, engine.ErrNameTaken) {
		t.Fatalf("unknown token should not rejoin, got %v", err)
	}
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, first.Participant.Token); err != nil {
		t.Fatalf("original token must survive a name collision: %v", err)
	}

	again, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, Token: first.Participant.Token})
	if err != nil || !again.Rejoined || again.Participant.ID != first.Participant.ID {
		t.Fatalf("rejoin: %+v %v", again, err)
	}
	if again.Participant.DisplayName != "Ana" {
		t.Fatalf("rejoin should keep the seat name, got %q", again.Participant.DisplayName)
	}
	if again.Participant.Token == first.Participant.Token {
		t.Fatalf("rejoin must rotate the token")
	}
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, first.Participant.Token); err == nil {
		t.Fatalf("old token should be rejected")
	}
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, again.Participant.Token); err != nil {
		t.Fatalf("new token: %v", err)
	}

	anon, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code})
	if err != nil || !strings.HasPrefix(anon.Participant.DisplayName, "Guest ") {
		t.Fatalf("anonymous join: %+v %v", anon.Participant, err)
	}
	ps, err := env.Engine.ListParticipants(env.Ctx, s.ID)
	if err != nil || len(ps) != 2 {
		t.Fatalf("participants = %d %v", len(ps), err)
	}
	for _, p := range ps {
		if p.Token != "" {
			t.Fatalf("token leaked in listing")
		}
	}

	// A token from another session is ignored and the name is free there.
	other := env.createSession(t, nil)
	res, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: other.Code, DisplayName: "Ana", Token: again.Participant.Token})
	if err != nil || res.Rejoined || res.Participant.ID == first.Participant.ID {
		t.Fatalf("cross-session token: %+v %v", res, err)
	}
}

func TestRejoinDisabled(t *testing.T) {
	env := newTestEnv(t)
	no := false
	s := env.createSession(t, func(o *engine.CreateSessionOptions) {
		o.Settings = &domain.SessionSettingsInput{AllowRejoin: &no}
	})
	first, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Ira"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, Token: first.Participant.Token}); !errors.Is(err, engine.ErrRejoinDisabled) {
		t.Fatalf("expected rejoin disabled, got %v", err)
	}
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, first.Participant.Token); err != nil {
		t.Fatalf("refused rejoin must not touch the token: %v", err)
	}
}

func TestJoinLimitsAndModeration(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, func(o *engine.CreateSessionOptions) {
		one, yes, no := 1, true, false
		o.Settings = &domain.SessionSettingsInput{MaxParticipants: &one, RequireApproval: &yes, AllowAnonymous: &no}
	})
	p, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Bo"})
	if err != nil || p.Participant.Status != domain.ParticipantPending {
		t.Fatalf("pending join: %+v %v", p.Participant, err)
	}
	_, err = env.Engine.AuthorizeParticipant(env.Ctx, s.ID, p.Participant.Token)
	var access auth.ParticipantAccessError
	if !errors.As(err, &access) || access.Reason != "pending" {
		t.Fatalf("expected pending rejection, got %v", err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Cy"}); !errors.Is(err, engine.ErrSessionFull) {
		t.Fatalf("expected full, got %v", err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Bo"}); !errors.Is(err, engine.ErrNameTaken) {
		t.Fatalf("a taken name without its token should be refused, got %v", err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code}); err == nil {
		t.Fatalf("anonymous join should be refused")
	}

	host := engine.HostActor("host-1")
	if _, err := env.Engine.SetParticipantStatus(env.Ctx, s.ID, p.Participant.ID, domain.ParticipantActive, host); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, p.Participant.Token); err != nil {
		t.Fatalf("approved participant rejected: %v", err)
	}
	if _, err := env.Engine.SetParticipantStatus(env.Ctx, s.ID, p.Participant.ID, domain.ParticipantBlocked, host); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, err = env.Engine.AuthorizeParticipant(env.Ctx, s.ID, p.Participant.Token)
	if !errors.As(err, &access) || access.Reason != "blocked" {
		t.Fatalf("expected blocked, got %v", err)
	}

	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: domain.SessionLocked}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Di"}); !errors.Is(err, engine.ErrSessionLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
}

func TestParticipantTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	res, err := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Eve"})
	if err != nil {
		t.Fatal(err)
	}
	env.advance(25 * time.Hour)
	_, err = env.Engine.AuthorizeParticipant(env.Ctx, s.ID, res.Participant.Token)
	var access auth.ParticipantAccessError
	if !errors.As(err, &access) || access.Reason != "expired" {
		t.Fatalf("expected expired, got %v", err)
	}

	other := env.createSession(t, nil)
	if _, err := env.Engine.AuthorizeParticipant(env.Ctx, other.ID, res.Participant.Token); !errors.As(err, &access) || access.Reason != "invalid" {
		t.Fatalf("token must not cross sessions: %v", err)
	}
}

func TestSessionAccess(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	acc, err := env.Engine.AuthorizeSessionAccess(env.Ctx, s, "host-1", "")
	if err != nil || acc.Kind != auth.AccessHost {
		t.Fatalf("host access: %+v %v", acc, err)
	}
	if _, err := env.Engine.AuthorizeSessionAccess(env.Ctx, s, "admin", ""); err != nil {
		t.Fatalf("admin access: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.AuthorizeSessionAccess(env.Ctx, s, "host-2", ""); !errors.As(err, &forbidden) {
		t.Fatalf("other host must be forbidden: %v", err)
	}
	res, _ := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Fay"})
	acc, err = env.Engine.AuthorizeSessionAccess(env.Ctx, s, "host-2", res.Participant.Token)
	if err != nil || acc.Kind != auth.AccessParticipant || acc.Participant.ID != res.Participant.ID {
		t.Fatalf("participant fallback: %+v %v", acc, err)
	}
}

func TestTimerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	if _, err := env.Engine.PauseTimer(env.Ctx, s.ID, host); !errors.Is(err, engine.ErrNoActiveTimer) {
		t.Fatalf("pause without timer: %v", err)
	}
	got, err := env.Engine.StartTimer(env.Ctx, s.ID, 120, host)
	if err != nil || got.TimerState == nil {
		t.Fatalf("start: %v", err)
	}
	env.advance(20 * time.Second)
	got, err = env.Engine.PauseTimer(env.Ctx, s.ID, host)
	if err != nil || got.TimerState.PausedAt == nil {
		t.Fatalf("pause: %v", err)
	}
	env.advance(time.Minute)
	if left := got.TimerState.Remaining(*env.clock); left != 100 {
		t.Fatalf("paused remaining = %d", left)
	}
	got, err = env.Engine.ResumeTimer(env.Ctx, s.ID, host)
	if err != nil || got.TimerState.PausedAt != nil {
		t.Fatalf("resume: %v", err)
	}
	env.advance(10 * time.Second)
	if left := got.TimerState.Remaining(*env.clock); left != 90 {
		t.Fatalf("remaining after resume = %d", left)
	}
	got, err = env.Engine.ResetTimer(env.Ctx, s.ID, host)
	if err != nil || got.TimerState != nil {
		t.Fatalf("reset: %+v %v", got.TimerState, err)
	}
}

func TestStepNavigation(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	got, err := env.Engine.UpdateCurrentStep(env.Ctx, s.ID, 2, host)
	if err != nil || got.CurrentStepIndex != 2 {
		t.Fatalf("step: %v", err)
	}
	_, err = env.Engine.UpdateCurrentStep(env.Ctx, s.ID, 3, host)
	var rangeErr engine.IndexRangeError
	if !errors.As(err, &rangeErr) || rangeErr.Count != 3 {
		t.Fatalf("expected range error, got %v", err)
	}
	got, err = env.Engine.UpdateCurrentPhase(env.Ctx, s.ID, 1, host)
	if err != nil || got.CurrentPhaseIndex != 1 {
		t.Fatalf("phase: %v", err)
	}
}

func TestSignals(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, func(o *engine.CreateSessionOptions) { o.GameID = "" })
	evt, err := env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: " HINT ", Message: "look left", Actor: engine.HostActor("host-1")})
	if err != nil {
		t.Fatalf("host signal: %v", err)
	}
	if evt.Payload["channel"] != "hint" || evt.Payload["sender_user_id"] != "host-1" {
		t.Fatalf("payload = %+v", evt.Payload)
	}
	res, _ := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Gus"})
	actor := events.Actor{Type: domain.ActorParticipant, ID: res.Participant.ID, Name: res.Participant.DisplayName}
	evt, err = env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "sos", Actor: actor})
	if err != nil {
		t.Fatalf("participant signal: %v", err)
	}
	if evt.Payload["sender_participant_id"] != res.Participant.ID || evt.Payload["severity"] != "urgent" {
		t.Fatalf("payload = %+v", evt.Payload)
	}
	evt, err = env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "party", Actor: engine.HostActor("host-1")})
	if err != nil || evt.Payload["channel"] != "party" {
		t.Fatalf("custom channel should pass by default: %+v %v", evt.Payload, err)
	}
	env.Engine.Config.Signals.AllowCustomChannels = false
	if _, err := env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "party"}); err == nil || !strings.Contains(err.Error(), "unknown signal channel") {
		t.Fatalf("unknown channel should be rejected, got %v", err)
	}
	if _, err := env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "hint", Actor: engine.HostActor("host-1")}); err != nil {
		t.Fatalf("catalog channel with custom channels off: %v", err)
	}
	list, err := env.Engine.ListSignals(env.Ctx, s.ID, 0, 10)
	if err != nil || len(list) != 4 {
		t.Fatalf("signals = %d %v", len(list), err)
	}
}

func TestTriggerChain(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	if _, err := env.Engine.StartSession(env.Ctx, s.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "found", Actor: host}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	got, _ := env.Engine.GetSessionByID(env.Ctx, s.ID)
	if got.CurrentStepIndex != 1 {
		t.Fatalf("chain should advance to step 2, at %d", got.CurrentStepIndex)
	}
	if got.BoardState == nil || got.BoardState.Message != "Step two" {
		t.Fatalf("board message = %+v", got.BoardState)
	}

	// execute_once keeps the reveal from firing again
	if _, err := env.Engine.SendSignal(env.Ctx, engine.SignalOptions{SessionID: s.ID, Channel: "found", Actor: host}); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, s.ID, 0, 200)
	if err != nil {
		t.Fatal(err)
	}
	fired := 0
	for _, e := range evts {
		if e.Type == "trigger_fired" {
			fired++
		}
	}
	if fired != 3 {
		t.Fatalf("trigger_fired events = %d", fired)
	}

	snap, err := env.Engine.BoardSnapshot(env.Ctx, s.Code)
	if err != nil || snap == nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Artifacts) != 1 || len(snap.Artifacts[0].Variants) != 1 || snap.Artifacts[0].Variants[0].Body != "Public page" {
		t.Fatalf("board must only carry public variants of revealed artifacts: %+v", snap.Artifacts)
	}
	if snap.CurrentStep == nil || snap.CurrentStep.Order != 2 || snap.CurrentStep.BoardText != "Search the lab" {
		t.Fatalf("current step = %+v", snap.CurrentStep)
	}
	if snap.Game == nil || snap.Game.Name != "Lab escape" || snap.LatestEventID == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDelayedTriggerActions(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	res, err := env.Engine.FireCondition(env.Ctx, s.ID, domain.Condition{Type: "manual"})
	if err != nil || res.Scheduled != 1 || len(res.Fired) != 1 {
		t.Fatalf("fire: %+v %v", res, err)
	}
	n, err := env.Engine.RunDueActions(env.Ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("nothing should be due yet: %d %v", n, err)
	}
	env.advance(31 * time.Second)
	n, err = env.Engine.RunDueActions(env.Ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("due actions = %d %v", n, err)
	}
	got, _ := env.Engine.GetSessionByID(env.Ctx, s.ID)
	if got.BoardState == nil || got.BoardState.Message != "Later" {
		t.Fatalf("delayed action not applied: %+v", got.BoardState)
	}
	if n, _ := env.Engine.RunDueActions(env.Ctx, 10); n != 0 {
		t.Fatalf("action ran twice")
	}
}

func TestTriggersSkipPausedSessions(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	if _, err := env.Engine.UpdateSessionStatus(env.Ctx, engine.StatusUpdate{ID: s.ID, Status: domain.SessionPaused}); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.FireCondition(env.Ctx, s.ID, domain.Condition{Type: "manual"})
	if err != nil || len(res.Fired) != 0 {
		t.Fatalf("paused session fired triggers: %+v %v", res, err)
	}
}

func TestSessionGameVisibility(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	roles, err := env.Engine.SnapshotGameRoles(env.Ctx, s.ID, host)
	if err != nil || len(roles) != 1 {
		t.Fatalf("snapshot roles: %v", err)
	}
	res, _ := env.Engine.JoinSession(env.Ctx, engine.JoinOptions{Code: s.Code, DisplayName: "Hal"})
	if err := env.Engine.AssignRole(env.Ctx, s.ID, res.Participant.ID, roles[0].ID, host); err != nil {
		t.Fatalf("assign: %v", err)
	}
	content, err := env.Engine.Repo.LoadGameContent(env.Ctx, env.GameID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RevealArtifact(env.Ctx, s.ID, content.Artifacts[0].ID, true, host); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	full, err := env.Engine.GetSessionGame(env.Ctx, *mustGet(t, env, s.ID), nil)
	if err != nil || len(full.Artifacts) != 2 || full.Steps[0].LeaderScript == "" {
		t.Fatalf("host view: %+v %v", full, err)
	}
	p, err := env.Engine.AuthorizeParticipant(env.Ctx, s.ID, res.Participant.Token)
	if err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.GetSessionGame(env.Ctx, *mustGet(t, env, s.ID), &p)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Artifacts) != 1 || len(view.Artifacts[0].Variants) != 2 {
		t.Fatalf("role holder should see both variants of the revealed artifact: %+v", view.Artifacts)
	}
	if view.Steps[0].LeaderScript != "" {
		t.Fatalf("leader script leaked")
	}
}

func TestDecisionsAndOutcomes(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, nil)
	host := engine.HostActor("host-1")
	if _, err := env.Engine.CreateDecision(env.Ctx, s.ID, "Door", []string{"left"}, host); err == nil {
		t.Fatalf("single option decision should fail")
	}
	d, err := env.Engine.CreateDecision(env.Ctx, s.ID, "Door", []string{"left", "right"}, host)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddOutcome(env.Ctx, s.ID, "Hidden", "", false, host); err != nil {
		t.Fatal(err)
	}
	snap, _ := env.Engine.BoardSnapshot(env.Ctx, s.Code)
	if len(snap.Decisions) != 0 || len(snap.Outcomes) != 0 {
		t.Fatalf("unrevealed items on board: %+v", snap)
	}
	if err := env.Engine.RevealDecision(env.Ctx, s.ID, d.ID, map[string]int{"left": 3, "right": 1}, host); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddOutcome(env.Ctx, s.ID, "Escaped", "In 40 minutes", true, host); err != nil {
		t.Fatal(err)
	}
	snap, _ = env.Engine.BoardSnapshot(env.Ctx, s.Code)
	if len(snap.Decisions) != 1 || snap.Decisions[0].Results["left"] != 3 || len(snap.Outcomes) != 1 {
		t.Fatalf("board = %+v", snap)
	}
}

func mustGet(t *testing.T, env testEnv, id string) *domain.Session {
	t.Helper()
	s, err := env.Engine.GetSessionByID(env.Ctx, id)
	if err != nil || s == nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return s
}

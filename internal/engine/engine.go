package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"playline/internal/config"
	"playline/internal/domain"
	"playline/internal/engine/auth"
	"playline/internal/events"
	"playline/internal/repo"
	"playline/internal/sessioncode"
)

var (
	ErrNoExpiryQuotaExceeded = errors.New("No-expiry token quota exceeded for this tenant")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionLocked         = errors.New("session is locked")
	ErrSessionFull           = errors.New("session is full")
	ErrNameTaken             = errors.New("display name already in use")
	ErrRejoinDisabled        = errors.New("session does not allow rejoin")
)

// SessionClosedError is returned for runtime changes on a finished session.
type SessionClosedError struct {
	Status string
}

func (e SessionClosedError) Error() string {
	return fmt.Sprintf("session is %s", e.Status)
}

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid session status transition %s -> %s", e.From, e.To)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("default")
}

// CreateSessionOptions are parameters for creating a session. Settings are
// merged field by field over the tenant defaults. NoExpiry asks for participant tokens that
// never expire, which consumes the tenant quota unless the host is a system
// admin.
type CreateSessionOptions struct {
	TenantID    string
	HostUserID  string
	DisplayName string
	Description string
	GameID      string
	PlanID      string
	Settings    *domain.SessionSettingsInput
	NoExpiry    bool
	ExpiresAt   string
}

func (e Engine) defaultSettings() domain.SessionSettings {
	d := e.config().Sessions.Defaults
	hours := d.TokenExpiryHours
	return domain.SessionSettings{
		AllowRejoin:            d.AllowRejoin,
		MaxParticipants:        d.MaxParticipants,
		RequireApproval:        d.RequireApproval,
		AllowAnonymous:         d.AllowAnonymous,
		TokenExpiryHours:       &hours,
		EnableChat:             d.EnableChat,
		EnableProgressTracking: d.EnableProgressTracking,
	}
}

func (e Engine) CreateSession(ctx context.Context, opts CreateSessionOptions) (domain.Session, error) {
	if opts.TenantID == "" {
		return domain.Session{}, errors.New("tenant is required")
	}
	if opts.HostUserID == "" {
		return domain.Session{}, errors.New("host is required")
	}
	opts.DisplayName = strings.TrimSpace(opts.DisplayName)
	if opts.DisplayName == "" {
		return domain.Session{}, errors.New("display_name is required")
	}
	host, err := e.Repo.GetUser(ctx, opts.HostUserID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load host: %w", err)
	}
	if host.TenantID != opts.TenantID && !host.IsSystemAdmin() {
		return domain.Session{}, auth.ForbiddenError{Reason: "host does not belong to tenant"}
	}
	if opts.GameID != "" {
		game, err := e.Repo.GetGame(ctx, opts.GameID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("load game: %w", err)
		}
		if game.TenantID != opts.TenantID {
			return domain.Session{}, auth.ForbiddenError{Reason: "game belongs to another tenant"}
		}
	}

	settings := e.defaultSettings()
	if opts.Settings != nil {
		settings = opts.Settings.Apply(settings)
	}
	if settings.MaxParticipants < 0 {
		return domain.Session{}, errors.New("max_participants must be at least 0")
	}
	if settings.TokenExpiryHours != nil && *settings.TokenExpiryHours <= 0 {
		return domain.Session{}, errors.New("token_expiry_hours must be positive; use no_expiry instead")
	}
	if opts.NoExpiry {
		settings.TokenExpiryHours = nil
	}

	retries := e.config().Sessions.CodeMaxRetries
	if retries <= 0 {
		retries = sessioncode.DefaultMaxRetries
	}
	code, err := sessioncode.GenerateUnique(ctx, sessioncode.CheckerFunc(e.Repo.CodeExists), retries)
	if err != nil {
		return domain.Session{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	now := e.nowString()
	if settings.TokenExpiryHours == nil && !host.IsSystemAdmin() {
		if err := e.Repo.EnsureQuotaTx(ctx, tx, opts.TenantID, e.config().Quota.NoExpiryTokensLimit, now); err != nil {
			return domain.Session{}, fmt.Errorf("ensure quota: %w", err)
		}
		ok, err := e.Repo.ConsumeNoExpiryQuotaTx(ctx, tx, opts.TenantID, now)
		if err != nil {
			return domain.Session{}, fmt.Errorf("consume quota: %w", err)
		}
		if !ok {
			return domain.Session{}, ErrNoExpiryQuotaExceeded
		}
	}
	s := domain.Session{
		ID:          uuid.NewString(),
		TenantID:    opts.TenantID,
		HostUserID:  opts.HostUserID,
		Code:        code,
		DisplayName: opts.DisplayName,
		Description: opts.Description,
		Status:      domain.SessionActive,
		Settings:    settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.GameID != "" {
		s.GameID = &opts.GameID
	}
	if opts.PlanID != "" {
		s.PlanID = &opts.PlanID
	}
	if opts.ExpiresAt != "" {
		s.ExpiresAt = &opts.ExpiresAt
	}
	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, s.ID, "session_created", hostActor(host), events.EventPayload{
		"session_code": s.Code,
		"no_expiry":    settings.TokenExpiryHours == nil,
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	e.logger().Printf("engine: session.created id=%s code=%s tenant=%s", s.ID, s.Code, s.TenantID)
	return s, nil
}

func hostActor(u domain.User) events.Actor {
	return events.Actor{Type: domain.ActorHost, ID: u.ID, Name: u.DisplayName}
}

// HostActor builds the event actor for a host user id.
func HostActor(userID string) events.Actor {
	return events.Actor{Type: domain.ActorHost, ID: userID}
}

// GetSessionByCode normalizes code first. A miss is (nil, nil).
func (e Engine) GetSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	code = sessioncode.Normalize(code)
	if !sessioncode.IsValidFormat(code) {
		return nil, nil
	}
	s, err := e.Repo.GetSessionByCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSessionByID returns (nil, nil) when the session does not exist.
func (e Engine) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (e Engine) mustSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := e.Repo.GetSession(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return s, ErrSessionNotFound
	}
	return s, err
}

var sessionTransitions = map[string][]string{
	domain.SessionActive:    {domain.SessionPaused, domain.SessionLocked, domain.SessionEnded, domain.SessionCancelled},
	domain.SessionPaused:    {domain.SessionActive, domain.SessionLocked, domain.SessionEnded, domain.SessionCancelled},
	domain.SessionLocked:    {domain.SessionActive, domain.SessionEnded, domain.SessionCancelled},
	domain.SessionEnded:     {domain.SessionArchived},
	domain.SessionCancelled: {domain.SessionArchived},
	domain.SessionArchived:  {},
}

// IsValidStatus reports whether status is a known session status.
func IsValidStatus(status string) bool {
	_, ok := sessionTransitions[status]
	return ok
}

// ensureSessionTransition enforces the status state machine. force skips
// the check for admin overrides but never accepts an unknown status.
func ensureSessionTransition(from, to string, force bool) error {
	if !IsValidStatus(to) {
		return fmt.Errorf("unknown session status %q", to)
	}
	if force {
		return nil
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

func isClosed(status string) bool {
	switch status {
	case domain.SessionEnded, domain.SessionCancelled, domain.SessionArchived:
		return true
	}
	return false
}

type StatusUpdate struct {
	ID     string
	Status string
	Actor  events.Actor
	Force  bool
}

// UpdateSessionStatus moves a session through the status state machine and
// stamps the timestamp that goes with the new status.
func (e Engine) UpdateSessionStatus(ctx context.Context, opts StatusUpdate) (domain.Session, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSessionTx(ctx, tx, opts.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, ErrSessionNotFound
	}
	if err != nil {
		return s, err
	}
	if s.Status == opts.Status {
		return s, nil
	}
	if err := ensureSessionTransition(s.Status, opts.Status, opts.Force); err != nil {
		return s, err
	}
	from := s.Status
	if err := e.Repo.UpdateSessionStatusTx(ctx, tx, s.ID, opts.Status, e.nowString()); err != nil {
		return s, err
	}
	if _, err := e.writer().Append(ctx, tx, s.ID, "session_status_changed", opts.Actor, events.EventPayload{
		"from":   from,
		"to":     opts.Status,
		"forced": opts.Force,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.logger().Printf("engine: session.status id=%s from=%s to=%s forced=%t", s.ID, from, opts.Status, opts.Force)
	return e.Repo.GetSession(ctx, s.ID)
}

// GetHostSessions lists a host's sessions newest first.
func (e Engine) GetHostSessions(ctx context.Context, hostUserID string, includeArchived bool) ([]domain.Session, error) {
	return e.Repo.ListSessions(ctx, repo.SessionFilters{HostUserID: hostUserID, IncludeArchived: includeArchived})
}

// ArchiveOldSessions archives ended or cancelled sessions that ended more
// than daysOld days ago. Zero or less uses the configured retention.
func (e Engine) ArchiveOldSessions(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = e.config().Sessions.ArchiveAfterDays
	}
	if daysOld <= 0 {
		daysOld = 30
	}
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -daysOld).Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	ids, err := e.Repo.ArchiveEndedBeforeTx(ctx, tx, cutoff, now.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("archive sessions: %w", err)
	}
	system := events.Actor{Type: domain.ActorSystem, Name: "archiver"}
	for _, id := range ids {
		if _, err := e.writer().Append(ctx, tx, id, "session_status_changed", system, events.EventPayload{
			"to":         domain.SessionArchived,
			"days_old":   daysOld,
			"auto_sweep": true,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		e.logger().Printf("engine: sessions.archived count=%d cutoff=%s", len(ids), cutoff)
	}
	return len(ids), nil
}

// LogSessionEvent appends an event in its own transaction. Failures are
// logged and reported as id 0; they never fail the caller.
func (e Engine) LogSessionEvent(ctx context.Context, sessionID, evtType string, actor events.Actor, payload events.EventPayload) int64 {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Printf("engine: warn log event session=%s type=%s: %v", sessionID, evtType, err)
		return 0
	}
	defer tx.Rollback()
	id, err := e.writer().Append(ctx, tx, sessionID, evtType, actor, payload)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		e.logger().Printf("engine: warn log event session=%s type=%s: %v", sessionID, evtType, err)
		return 0
	}
	return id
}

// ListEvents returns a page of session events oldest first.
func (e Engine) ListEvents(ctx context.Context, sessionID string, afterID int64, limit int) ([]domain.SessionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.Repo.ListEvents(ctx, repo.EventFilters{SessionID: sessionID, AfterID: afterID, Limit: limit})
}

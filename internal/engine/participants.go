package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"playline/internal/domain"
	"playline/internal/engine/auth"
	"playline/internal/events"
	"playline/internal/repo"
)

const participantTokenPrefix = "pt_"

func newParticipantToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return participantTokenPrefix + hex.EncodeToString(buf), nil
}

func (e Engine) authService() auth.Service {
	s := e.Auth
	if s.Repo.DB == nil {
		s.Repo = e.Repo
	}
	s.Now = e.now
	return s
}

func (e Engine) tokenExpiry(settings domain.SessionSettings) *string {
	if settings.TokenExpiryHours == nil {
		return nil
	}
	exp := e.now().UTC().Add(time.Duration(*settings.TokenExpiryHours) * time.Hour).Format(time.RFC3339)
	return &exp
}

// JoinOptions identify the session by code. Token is the participant token
// of an earlier join and is the only way back into an existing seat.
type JoinOptions struct {
	Code        string
	DisplayName string
	Token       string
}

// JoinResult carries the participant including its freshly issued token.
type JoinResult struct {
	Session     domain.Session     `json:"session"`
	Participant domain.Participant `json:"participant"`
	Rejoined    bool               `json:"rejoined"`
}

// JoinSession adds a participant to the session with the given join code.
// A caller presenting a live token of this session rejoins its seat with a
// rotated token when the session allows rejoin. A display name already in
// use without such a token is ErrNameTaken.
func (e Engine) JoinSession(ctx context.Context, opts JoinOptions) (JoinResult, error) {
	sess, err := e.GetSessionByCode(ctx, opts.Code)
	if err != nil {
		return JoinResult{}, err
	}
	if sess == nil {
		return JoinResult{}, ErrSessionNotFound
	}
	switch {
	case sess.Status == domain.SessionLocked:
		return JoinResult{}, ErrSessionLocked
	case isClosed(sess.Status):
		return JoinResult{}, SessionClosedError{Status: sess.Status}
	}
	if sess.ExpiresAt != nil {
		if exp, err := time.Parse(time.RFC3339, *sess.ExpiresAt); err == nil && !e.now().Before(exp) {
			return JoinResult{}, SessionClosedError{Status: "expired"}
		}
	}
	token, err := newParticipantToken()
	if err != nil {
		return JoinResult{}, err
	}
	expires := e.tokenExpiry(sess.Settings)
	now := e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return JoinResult{}, err
	}
	defer tx.Rollback()

	existing, ok, err := e.rejoinCandidate(ctx, tx, sess.ID, opts.Token)
	if err != nil {
		return JoinResult{}, err
	}
	if ok {
		if existing.Status == domain.ParticipantBlocked || existing.Status == domain.ParticipantKicked {
			return JoinResult{}, auth.ParticipantAccessError{Reason: existing.Status}
		}
		if !sess.Settings.AllowRejoin {
			return JoinResult{}, ErrRejoinDisabled
		}
		if err := e.Repo.RotateParticipantTokenTx(ctx, tx, existing.ID, token, expires, now); err != nil {
			return JoinResult{}, fmt.Errorf("rotate token: %w", err)
		}
		existing.Token = token
		existing.TokenExpiresAt = expires
		existing.LastSeenAt = &now
		if _, err := e.writer().Append(ctx, tx, sess.ID, "participant_rejoined", participantActor(existing), nil); err != nil {
			return JoinResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return JoinResult{}, err
		}
		e.logger().Printf("engine: participant.rejoined session=%s participant=%s", sess.ID, existing.ID)
		return JoinResult{Session: *sess, Participant: existing, Rejoined: true}, nil
	}

	name := strings.TrimSpace(opts.DisplayName)
	if name == "" {
		if !sess.Settings.AllowAnonymous {
			return JoinResult{}, errors.New("display_name is required")
		}
		name = "Guest " + strings.ToUpper(uuid.NewString()[:4])
	}
	if _, err := e.Repo.FindParticipantByNameTx(ctx, tx, sess.ID, name); err == nil {
		return JoinResult{}, ErrNameTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return JoinResult{}, err
	}

	count, err := e.Repo.CountParticipantsTx(ctx, tx, sess.ID, domain.ParticipantActive, domain.ParticipantPending)
	if err != nil {
		return JoinResult{}, err
	}
	if sess.Settings.MaxParticipants > 0 && count >= sess.Settings.MaxParticipants {
		return JoinResult{}, ErrSessionFull
	}
	p := domain.Participant{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		DisplayName:    name,
		Token:          token,
		TokenExpiresAt: expires,
		Status:         domain.ParticipantActive,
		JoinedAt:       now,
		LastSeenAt:     &now,
	}
	if sess.Settings.RequireApproval {
		p.Status = domain.ParticipantPending
	}
	if err := e.Repo.InsertParticipantTx(ctx, tx, p); err != nil {
		return JoinResult{}, fmt.Errorf("insert participant: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, sess.ID, "participant_joined", participantActor(p), events.EventPayload{
		"status": p.Status,
	}); err != nil {
		return JoinResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return JoinResult{}, err
	}
	e.logger().Printf("engine: participant.joined session=%s participant=%s status=%s", sess.ID, p.ID, p.Status)
	return JoinResult{Session: *sess, Participant: p}, nil
}

// rejoinCandidate resolves a presented token to a participant of the
// session. Unknown, foreign and expired tokens are not candidates.
func (e Engine) rejoinCandidate(ctx context.Context, tx *sql.Tx, sessionID, token string) (domain.Participant, bool, error) {
	if token == "" {
		return domain.Participant{}, false, nil
	}
	p, err := e.Repo.GetParticipantByTokenTx(ctx, tx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{}, false, nil
	}
	if err != nil {
		return domain.Participant{}, false, err
	}
	if p.SessionID != sessionID {
		return domain.Participant{}, false, nil
	}
	if p.TokenExpiresAt != nil {
		if exp, err := time.Parse(time.RFC3339, *p.TokenExpiresAt); err == nil && !e.now().Before(exp) {
			return domain.Participant{}, false, nil
		}
	}
	return p, true, nil
}

func participantActor(p domain.Participant) events.Actor {
	return events.Actor{Type: domain.ActorParticipant, ID: p.ID, Name: p.DisplayName}
}

// SetParticipantStatus approves, blocks or kicks a participant. Nothing is
// deleted; blocked and kicked tokens simply stop authorizing.
func (e Engine) SetParticipantStatus(ctx context.Context, sessionID, participantID, status string, actor events.Actor) (domain.Participant, error) {
	switch status {
	case domain.ParticipantActive, domain.ParticipantBlocked, domain.ParticipantKicked:
	default:
		return domain.Participant{}, fmt.Errorf("invalid participant status %q", status)
	}
	p, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return p, err
	}
	if p.SessionID != sessionID {
		return p, repo.ErrNotFound
	}
	if p.Status == status {
		return p, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetParticipantStatusTx(ctx, tx, p.ID, status); err != nil {
		return p, err
	}
	if _, err := e.writer().Append(ctx, tx, sessionID, "participant_status_changed", actor, events.EventPayload{
		"participant_id":   p.ID,
		"participant_name": p.DisplayName,
		"from":             p.Status,
		"to":               status,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = status
	return p, nil
}

// AuthorizeParticipant validates a token for sessionID and records the visit.
func (e Engine) AuthorizeParticipant(ctx context.Context, sessionID, token string) (domain.Participant, error) {
	p, err := e.authService().AuthorizeParticipant(ctx, sessionID, token)
	if err != nil {
		return p, err
	}
	if err := e.Repo.TouchParticipant(ctx, p.ID, e.nowString()); err != nil {
		e.logger().Printf("engine: warn touch participant=%s: %v", p.ID, err)
	}
	return p, nil
}

// AuthorizeSessionAccess resolves a host user or participant token.
func (e Engine) AuthorizeSessionAccess(ctx context.Context, sess domain.Session, userID, token string) (auth.Access, error) {
	return e.authService().AuthorizeSessionAccess(ctx, sess, userID, token)
}

// RequireHost checks that userID may manage sess.
func (e Engine) RequireHost(ctx context.Context, userID string, sess domain.Session) (domain.User, error) {
	return e.authService().RequireHost(ctx, userID, sess)
}

func (e Engine) RequireTenantAdmin(ctx context.Context, userID, tenantID string) (domain.User, error) {
	return e.authService().RequireTenantAdmin(ctx, userID, tenantID)
}

func (e Engine) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	ps, err := e.Repo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		ps[i].Token = ""
	}
	return ps, nil
}

// SnapshotGameRoles copies the session game's roles into the session so
// later game edits do not change a running session. It replaces any
// previous snapshot.
func (e Engine) SnapshotGameRoles(ctx context.Context, sessionID string, actor events.Actor) ([]domain.SessionRole, error) {
	sess, err := e.mustSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.GameID == nil {
		return nil, errors.New("session has no game")
	}
	roles, err := e.Repo.ListRoles(ctx, *sess.GameID)
	if err != nil {
		return nil, err
	}
	snapshot := make([]domain.SessionRole, 0, len(roles))
	for _, r := range roles {
		source := r.ID
		snapshot = append(snapshot, domain.SessionRole{
			ID:           uuid.NewString(),
			SessionID:    sess.ID,
			SourceRoleID: &source,
			Order:        r.Order,
			Name:         r.Name,
			Description:  r.Description,
			MinCount:     r.MinCount,
			MaxCount:     r.MaxCount,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSessionRolesTx(ctx, tx, sess.ID); err != nil {
		return nil, err
	}
	if err := e.Repo.InsertSessionRolesTx(ctx, tx, snapshot); err != nil {
		return nil, fmt.Errorf("insert session roles: %w", err)
	}
	if _, err := e.writer().Append(ctx, tx, sess.ID, "roles_snapshotted", actor, events.EventPayload{"count": len(snapshot)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (e Engine) GetSessionRoles(ctx context.Context, sessionID string) ([]domain.SessionRole, error) {
	return e.Repo.ListSessionRoles(ctx, sessionID)
}

// AssignRole sets or clears (roleID "") a participant's session role.
func (e Engine) AssignRole(ctx context.Context, sessionID, participantID, roleID string, actor events.Actor) error {
	p, err := e.Repo.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if p.SessionID != sessionID {
		return repo.ErrNotFound
	}
	var role *string
	if roleID != "" {
		roles, err := e.Repo.ListSessionRoles(ctx, sessionID)
		if err != nil {
			return err
		}
		found := false
		for _, r := range roles {
			if r.ID == roleID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("role %s is not part of session %s", roleID, sessionID)
		}
		role = &roleID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AssignParticipantRoleTx(ctx, tx, participantID, role); err != nil {
		return err
	}
	if _, err := e.writer().Append(ctx, tx, sessionID, "role_assigned", actor, events.EventPayload{
		"participant_id": participantID,
		"role_id":        roleID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

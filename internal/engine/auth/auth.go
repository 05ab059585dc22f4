package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playline/internal/domain"
	"playline/internal/repo"
)

// ForbiddenError indicates the caller may not act on the session.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// ParticipantAccessError rejects a participant token. Reason is one of
// invalid, blocked, kicked, pending or expired.
type ParticipantAccessError struct {
	Reason string
}

func (e ParticipantAccessError) Error() string {
	return fmt.Sprintf("participant access denied: %s", e.Reason)
}

const (
	AccessHost        = "host"
	AccessParticipant = "participant"
)

// Access is the resolved identity allowed to read a session.
type Access struct {
	Kind        string
	User        *domain.User
	Participant *domain.Participant
}

// Service authorizes session access for hosts and participants.
type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CanHost reports whether u may manage sess: its host or a system admin.
func CanHost(u domain.User, sess domain.Session) bool {
	return u.IsSystemAdmin() || u.ID == sess.HostUserID
}

func (s Service) RequireHost(ctx context.Context, userID string, sess domain.Session) (domain.User, error) {
	if userID == "" {
		return domain.User{}, ForbiddenError{Reason: "authentication required"}
	}
	u, err := s.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return u, ForbiddenError{Reason: "unknown user"}
	}
	if err != nil {
		return u, err
	}
	if !CanHost(u, sess) {
		return u, ForbiddenError{Reason: "not the session host"}
	}
	return u, nil
}

// RequireTenantAdmin admits system admins and users holding tenant_admin
// in tenantID.
func (s Service) RequireTenantAdmin(ctx context.Context, userID, tenantID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, ForbiddenError{Reason: "authentication required"}
	}
	u, err := s.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return u, ForbiddenError{Reason: "unknown user"}
	}
	if err != nil {
		return u, err
	}
	if u.IsSystemAdmin() {
		return u, nil
	}
	ok, err := s.Repo.HasTenantRole(ctx, tenantID, u.ID, domain.TenantRoleAdmin)
	if err != nil {
		return u, err
	}
	if !ok {
		return u, ForbiddenError{Reason: "system_admin or tenant_admin required"}
	}
	return u, nil
}

// AuthorizeParticipant checks a participant token against sessionID.
// Blocked, kicked, pending and expired participants are rejected but kept.
func (s Service) AuthorizeParticipant(ctx context.Context, sessionID, token string) (domain.Participant, error) {
	if token == "" {
		return domain.Participant{}, ParticipantAccessError{Reason: "invalid"}
	}
	p, err := s.Repo.GetParticipantByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return p, ParticipantAccessError{Reason: "invalid"}
	}
	if err != nil {
		return p, err
	}
	if p.SessionID != sessionID {
		return p, ParticipantAccessError{Reason: "invalid"}
	}
	switch p.Status {
	case domain.ParticipantBlocked, domain.ParticipantKicked, domain.ParticipantPending:
		return p, ParticipantAccessError{Reason: p.Status}
	}
	if p.TokenExpiresAt != nil {
		exp, err := time.Parse(time.RFC3339, *p.TokenExpiresAt)
		if err == nil && !s.now().Before(exp) {
			return p, ParticipantAccessError{Reason: "expired"}
		}
	}
	return p, nil
}

// AuthorizeSessionAccess accepts either a host user or a participant token.
// The host check runs first when both are present.
func (s Service) AuthorizeSessionAccess(ctx context.Context, sess domain.Session, userID, token string) (Access, error) {
	if userID != "" {
		u, err := s.RequireHost(ctx, userID, sess)
		if err == nil {
			return Access{Kind: AccessHost, User: &u}, nil
		}
		if token == "" {
			return Access{}, err
		}
	}
	if token == "" {
		return Access{}, ForbiddenError{Reason: "authentication required"}
	}
	p, err := s.AuthorizeParticipant(ctx, sess.ID, token)
	if err != nil {
		return Access{}, err
	}
	return Access{Kind: AccessParticipant, Participant: &p}, nil
}

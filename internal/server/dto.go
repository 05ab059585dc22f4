package server

import (
	"playline/internal/domain"
	"playline/internal/signals"
)

// Request payloads

type CreateSessionRequest struct {
	DisplayName string                       `json:"display_name"`
	Description string                       `json:"description,omitempty"`
	GameID      string                       `json:"game_id,omitempty"`
	PlanID      string                       `json:"plan_id,omitempty"`
	HostUserID  string                       `json:"host_user_id,omitempty" doc:"System admins may create sessions for another host"`
	Settings    *domain.SessionSettingsInput `json:"settings,omitempty" doc:"Omitted fields keep the tenant defaults"`
	NoExpiry    bool                         `json:"no_expiry,omitempty"`
	ExpiresAt   string                       `json:"expires_at,omitempty" format:"date-time"`
}

type SessionStatusRequest struct {
	Status string `json:"status" enum:"active,paused,locked,ended,cancelled,archived"`
	Force  bool   `json:"force,omitempty" doc:"System admins may skip the transition table"`
}

type ArchiveSessionsRequest struct {
	DaysOld int `json:"days_old,omitempty" doc:"Defaults to sessions.archive_after_days"`
}

type IndexRequest struct {
	Index int `json:"index" minimum:"0"`
}

type TimerRequest struct {
	Action  string `json:"action" enum:"start,pause,resume,reset"`
	Seconds int    `json:"seconds,omitempty" doc:"Duration for start"`
}

type RevealArtifactRequest struct {
	Revealed bool `json:"revealed"`
}

type CreateDecisionRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

type RevealDecisionRequest struct {
	Results map[string]int `json:"results,omitempty"`
}

type CreateOutcomeRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Reveal bool   `json:"reveal,omitempty"`
}

type AssignRoleRequest struct {
	RoleID string `json:"role_id,omitempty" doc:"Empty clears the role"`
}

type FireConditionRequest struct {
	Type   string         `json:"type" example:"manual"`
	Params map[string]any `json:"params,omitempty"`
}

type ParticipantStatusRequest struct {
	Status string `json:"status" enum:"active,blocked,kicked"`
}

type SendSignalRequest struct {
	Channel string `json:"channel" example:"hint"`
	Message string `json:"message,omitempty"`
}

type JoinRequest struct {
	Code        string `json:"code" example:"H3K-9PQ"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token,omitempty" doc:"Participant token of an earlier join; required to rejoin under the same name"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type SessionList struct {
	Items []domain.Session `json:"items"`
}

type SessionEventList struct {
	Items []domain.SessionEvent `json:"items"`
}

type ArchiveSessionsResponse struct {
	Archived int `json:"archived"`
}

type ParticipantList struct {
	Items []domain.Participant `json:"items"`
}

type SessionRoleList struct {
	Items []domain.SessionRole `json:"items"`
}

type SignalList struct {
	Items []signals.Meta `json:"items"`
}

type ChannelList struct {
	Items []signals.Channel `json:"items"`
}

type GameList struct {
	Items []domain.Game `json:"items"`
}

type ImportRunList struct {
	Items []domain.ImportRun `json:"items"`
}

type ImportResponse struct {
	Items []importItem `json:"items"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

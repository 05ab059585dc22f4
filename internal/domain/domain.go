package domain

const (
	GlobalRoleSystemAdmin = "system_admin"
	GlobalRoleMember      = "member"
)

// TenantRoleAdmin may manage the game library of one tenant.
const TenantRoleAdmin = "tenant_admin"

const (
	SessionActive    = "active"
	SessionPaused    = "paused"
	SessionLocked    = "locked"
	SessionEnded     = "ended"
	SessionCancelled = "cancelled"
	SessionArchived  = "archived"
)

const (
	ParticipantActive  = "active"
	ParticipantPending = "pending"
	ParticipantBlocked = "blocked"
	ParticipantKicked  = "kicked"
)

const (
	ActorHost        = "host"
	ActorParticipant = "participant"
	ActorTrigger     = "trigger"
	ActorSystem      = "system"
)

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name,omitempty"`
	GlobalRole  string `json:"global_role" enum:"member,system_admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func (u User) IsSystemAdmin() bool {
	return u.GlobalRole == GlobalRoleSystemAdmin
}

// TenantRoleGrant gives a user a role scoped to one tenant.
type TenantRoleGrant struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"tenant_admin"`
	GrantedBy string `json:"granted_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// SessionSettings are stored as JSON on the session row. A nil
// TokenExpiryHours means participant tokens never expire.
type SessionSettings struct {
	AllowRejoin            bool `json:"allow_rejoin"`
	MaxParticipants        int  `json:"max_participants"`
	RequireApproval        bool `json:"require_approval"`
	AllowAnonymous         bool `json:"allow_anonymous"`
	TokenExpiryHours       *int `json:"token_expiry_hours"`
	EnableChat             bool `json:"enable_chat"`
	EnableProgressTracking bool `json:"enable_progress_tracking"`
}

// SessionSettingsInput is a partial SessionSettings. Nil fields keep the
// value of the base they are applied to.
type SessionSettingsInput struct {
	AllowRejoin            *bool `json:"allow_rejoin,omitempty"`
	MaxParticipants        *int  `json:"max_participants,omitempty"`
	RequireApproval        *bool `json:"require_approval,omitempty"`
	AllowAnonymous         *bool `json:"allow_anonymous,omitempty"`
	TokenExpiryHours       *int  `json:"token_expiry_hours,omitempty"`
	EnableChat             *bool `json:"enable_chat,omitempty"`
	EnableProgressTracking *bool `json:"enable_progress_tracking,omitempty"`
}

// Apply returns base with every set field of in copied over it.
func (in SessionSettingsInput) Apply(base SessionSettings) SessionSettings {
	out := base
	if in.AllowRejoin != nil {
		out.AllowRejoin = *in.AllowRejoin
	}
	if in.MaxParticipants != nil {
		out.MaxParticipants = *in.MaxParticipants
	}
	if in.RequireApproval != nil {
		out.RequireApproval = *in.RequireApproval
	}
	if in.AllowAnonymous != nil {
		out.AllowAnonymous = *in.AllowAnonymous
	}
	if in.TokenExpiryHours != nil {
		hours := *in.TokenExpiryHours
		out.TokenExpiryHours = &hours
	}
	if in.EnableChat != nil {
		out.EnableChat = *in.EnableChat
	}
	if in.EnableProgressTracking != nil {
		out.EnableProgressTracking = *in.EnableProgressTracking
	}
	return out
}

type TimerState struct {
	StartedAt       string  `json:"started_at" format:"date-time"`
	DurationSeconds int     `json:"duration_seconds"`
	PausedAt        *string `json:"paused_at,omitempty" format:"date-time"`
}

type BoardState struct {
	Message   string         `json:"message,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

type Session struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	HostUserID        string          `json:"host_user_id"`
	GameID            *string         `json:"game_id,omitempty"`
	PlanID            *string         `json:"plan_id,omitempty"`
	Code              string          `json:"session_code"`
	DisplayName       string          `json:"display_name"`
	Description       string          `json:"description,omitempty"`
	Status            string          `json:"status" enum:"active,paused,locked,ended,cancelled,archived"`
	Settings          SessionSettings `json:"settings"`
	ExpiresAt         *string         `json:"expires_at,omitempty" format:"date-time"`
	StartedAt         *string         `json:"started_at,omitempty" format:"date-time"`
	PausedAt          *string         `json:"paused_at,omitempty" format:"date-time"`
	EndedAt           *string         `json:"ended_at,omitempty" format:"date-time"`
	ArchivedAt        *string         `json:"archived_at,omitempty" format:"date-time"`
	CurrentStepIndex  int             `json:"current_step_index"`
	CurrentPhaseIndex int             `json:"current_phase_index"`
	TimerState        *TimerState     `json:"timer_state,omitempty"`
	BoardState        *BoardState     `json:"board_state,omitempty"`
	CreatedAt         string          `json:"created_at" format:"date-time"`
	UpdatedAt         string          `json:"updated_at" format:"date-time"`
}

type Participant struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	DisplayName    string  `json:"display_name"`
	Token          string  `json:"token,omitempty"`
	TokenExpiresAt *string `json:"token_expires_at,omitempty" format:"date-time"`
	Status         string  `json:"status" enum:"active,pending,blocked,kicked"`
	RoleID         *string `json:"role_id,omitempty"`
	JoinedAt       string  `json:"joined_at" format:"date-time"`
	LastSeenAt     *string `json:"last_seen_at,omitempty" format:"date-time"`
}

type TokenQuota struct {
	TenantID string `json:"tenant_id"`
	Limit    int    `json:"no_expiry_tokens_limit"`
	Used     int    `json:"no_expiry_tokens_used"`
}

type SessionRole struct {
	ID           string  `json:"id"`
	SessionID    string  `json:"session_id"`
	SourceRoleID *string `json:"source_role_id,omitempty"`
	Order        int     `json:"role_order"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	MinCount     int     `json:"min_count"`
	MaxCount     *int    `json:"max_count,omitempty"`
}

// SessionEvent is an append-only session log entry. Signals are events whose
// type contains "signal".
type SessionEvent struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp" format:"date-time"`
	Type      string         `json:"type"`
	ActorType string         `json:"actor_type,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	Payload   map[string]any `json:"payload"`
}

type ArtifactState struct {
	ArtifactID    string  `json:"artifact_id"`
	RevealedAt    *string `json:"revealed_at,omitempty"`
	HighlightedAt *string `json:"highlighted_at,omitempty"`
}

type Decision struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Title      string         `json:"title"`
	Options    []string       `json:"options"`
	Results    map[string]int `json:"results,omitempty"`
	RevealedAt *string        `json:"revealed_at,omitempty" format:"date-time"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type Outcome struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Title      string  `json:"title"`
	Body       string  `json:"body,omitempty"`
	RevealedAt *string `json:"revealed_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type PendingAction struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	TriggerID string `json:"trigger_id"`
	Action    Action `json:"action"`
	DueAt     string `json:"due_at"`
}

type ImportIssue struct {
	Row      int    `json:"row"`
	Column   string `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity" enum:"error,warning"`
	Code     string `json:"code,omitempty"`
}

type ImportRun struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	GameKey   string         `json:"game_key"`
	GameID    *string        `json:"game_id,omitempty"`
	Status    string         `json:"status" enum:"ok,failed"`
	Issues    []ImportIssue  `json:"issues"`
	Counts    *ContentCounts `json:"counts,omitempty"`
	CreatedBy string         `json:"created_by"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

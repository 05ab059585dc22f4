package board

import (
	"time"

	"playline/internal/domain"
)

type Mode string

const (
	ModeLobby  Mode = "lobby"
	ModeActive Mode = "active"
	ModePaused Mode = "paused"
	ModeLocked Mode = "locked"
	ModeEnded  Mode = "ended"
)

type Connection string

const (
	ConnConnected Connection = "connected"
	ConnDegraded  Connection = "degraded"
	ConnOffline   Connection = "offline"
)

type Banner string

const (
	BannerNone     Banner = "none"
	BannerWaiting  Banner = "waiting"
	BannerPaused   Banner = "paused"
	BannerLocked   Banner = "locked"
	BannerEnded    Banner = "ended"
	BannerDegraded Banner = "degraded"
	BannerOffline  Banner = "offline"
)

const (
	DefaultDegradedAfter = 15 * time.Second
	DefaultOfflineAfter  = 60 * time.Second
)

// Thresholds decide when a board that has stopped hearing from the server
// is shown as degraded or offline.
type Thresholds struct {
	DegradedAfter time.Duration
	OfflineAfter  time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.DegradedAfter <= 0 {
		t.DegradedAfter = DefaultDegradedAfter
	}
	if t.OfflineAfter <= 0 {
		t.OfflineAfter = DefaultOfflineAfter
	}
	return t
}

type Input struct {
	Status      string
	StartedAt   *string
	EndedAt     *string
	LastSuccess time.Time
	Now         time.Time
}

type UIState struct {
	Mode       Mode          `json:"mode"`
	Connection Connection    `json:"connection"`
	Banner     Banner        `json:"banner"`
	Stale      bool          `json:"stale"`
	Since      time.Duration `json:"since_last_success"`
}

// ResolveUIState derives what the board shows. Nothing here is stored; the
// same input always yields the same state.
func ResolveUIState(in Input, th Thresholds) UIState {
	th = th.withDefaults()
	st := UIState{Mode: resolveMode(in), Connection: ConnConnected}
	if in.LastSuccess.IsZero() {
		st.Connection = ConnOffline
	} else {
		st.Since = in.Now.Sub(in.LastSuccess)
		switch {
		case st.Since >= th.OfflineAfter:
			st.Connection = ConnOffline
		case st.Since >= th.DegradedAfter:
			st.Connection = ConnDegraded
		}
	}
	st.Stale = st.Connection != ConnConnected
	st.Banner = resolveBanner(st)
	return st
}

func resolveMode(in Input) Mode {
	switch in.Status {
	case domain.SessionEnded, domain.SessionCancelled, domain.SessionArchived:
		return ModeEnded
	}
	if in.EndedAt != nil {
		return ModeEnded
	}
	switch in.Status {
	case domain.SessionPaused:
		return ModePaused
	case domain.SessionLocked:
		return ModeLocked
	}
	if in.StartedAt == nil {
		return ModeLobby
	}
	return ModeActive
}

// Banner priority: ended, offline, degraded, paused, locked, waiting.
func resolveBanner(st UIState) Banner {
	switch {
	case st.Mode == ModeEnded:
		return BannerEnded
	case st.Connection == ConnOffline:
		return BannerOffline
	case st.Connection == ConnDegraded:
		return BannerDegraded
	case st.Mode == ModePaused:
		return BannerPaused
	case st.Mode == ModeLocked:
		return BannerLocked
	case st.Mode == ModeLobby:
		return BannerWaiting
	}
	return BannerNone
}

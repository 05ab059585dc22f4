package board

import (
	"testing"
	"time"

	"playline/internal/domain"
)

func strp(s string) *string { return &s }

func TestResolveUIState(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-2 * time.Second)
	cases := []struct {
		name   string
		in     Input
		mode   Mode
		conn   Connection
		banner Banner
	}{
		{"lobby", Input{Status: domain.SessionActive, LastSuccess: fresh}, ModeLobby, ConnConnected, BannerWaiting},
		{"active", Input{Status: domain.SessionActive, StartedAt: strp("x"), LastSuccess: fresh}, ModeActive, ConnConnected, BannerNone},
		{"paused", Input{Status: domain.SessionPaused, StartedAt: strp("x"), LastSuccess: fresh}, ModePaused, ConnConnected, BannerPaused},
		{"locked", Input{Status: domain.SessionLocked, LastSuccess: fresh}, ModeLocked, ConnConnected, BannerLocked},
		{"ended by status", Input{Status: domain.SessionCancelled, LastSuccess: fresh}, ModeEnded, ConnConnected, BannerEnded},
		{"ended by timestamp", Input{Status: domain.SessionActive, EndedAt: strp("x"), LastSuccess: fresh}, ModeEnded, ConnConnected, BannerEnded},
		{"degraded beats paused", Input{Status: domain.SessionPaused, LastSuccess: now.Add(-20 * time.Second)}, ModePaused, ConnDegraded, BannerDegraded},
		{"offline", Input{Status: domain.SessionActive, StartedAt: strp("x"), LastSuccess: now.Add(-2 * time.Minute)}, ModeActive, ConnOffline, BannerOffline},
		{"never fetched", Input{}, ModeLobby, ConnOffline, BannerOffline},
		{"ended beats offline", Input{Status: domain.SessionEnded, LastSuccess: now.Add(-time.Hour)}, ModeEnded, ConnOffline, BannerEnded},
	}
	for _, tc := range cases {
		tc.in.Now = now
		got := ResolveUIState(tc.in, Thresholds{})
		if got.Mode != tc.mode || got.Connection != tc.conn || got.Banner != tc.banner {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
		if got.Stale != (tc.conn != ConnConnected) {
			t.Fatalf("%s: stale = %v", tc.name, got.Stale)
		}
	}
}

func TestResolveUIStateCustomThresholds(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Input{Status: domain.SessionActive, StartedAt: strp("x"), LastSuccess: now.Add(-6 * time.Second), Now: now}
	if got := ResolveUIState(in, Thresholds{DegradedAfter: 5 * time.Second, OfflineAfter: 10 * time.Second}); got.Connection != ConnDegraded {
		t.Fatalf("connection = %s", got.Connection)
	}
}

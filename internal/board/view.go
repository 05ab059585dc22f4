package board

import (
	"sync"
	"time"

	"playline/internal/domain"
)

// View is what a board renders: the last good snapshot and the derived UI
// state. Snapshot stays set after a failed fetch.
type View struct {
	Snapshot    *domain.BoardSnapshot `json:"snapshot,omitempty"`
	UI          UIState               `json:"ui"`
	LastSuccess time.Time             `json:"last_success"`
	LastError   string                `json:"last_error,omitempty"`
}

// tracker holds the last good payload shared by the poller and the stream.
type tracker struct {
	mu          sync.Mutex
	snapshot    *domain.BoardSnapshot
	lastSuccess time.Time
	lastErr     error
}

func (t *tracker) success(snap *domain.BoardSnapshot, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Snapshots never move backwards in the event log.
	if t.snapshot != nil && snap.LatestEventID < t.snapshot.LatestEventID {
		t.lastSuccess = at
		return
	}
	t.snapshot = snap
	t.lastSuccess = at
	t.lastErr = nil
}

// touch records a heartbeat: the server is reachable and nothing changed.
func (t *tracker) touch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot != nil {
		t.lastSuccess = at
		t.lastErr = nil
	}
}

func (t *tracker) failure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
}

func (t *tracker) view(now time.Time, th Thresholds) View {
	t.mu.Lock()
	defer t.mu.Unlock()
	in := Input{LastSuccess: t.lastSuccess, Now: now}
	if t.snapshot != nil {
		in.Status = t.snapshot.Session.Status
		in.StartedAt = t.snapshot.Session.StartedAt
		in.EndedAt = t.snapshot.Session.EndedAt
	}
	v := View{Snapshot: t.snapshot, UI: ResolveUIState(in, th), LastSuccess: t.lastSuccess}
	if t.lastErr != nil {
		v.LastError = t.lastErr.Error()
		v.UI.Stale = true
	}
	return v
}

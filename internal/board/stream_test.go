package board

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"playline/internal/domain"
)

func TestNextBackoff(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	d := time.Duration(0)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		d = NextBackoff(d, min, max)
		if d != w {
			t.Fatalf("step %d: got %s want %s", i, d, w)
		}
	}
}

func TestStreamReconnectsAndKeepsSnapshot(t *testing.T) {
	var conns int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)
		snap := &domain.BoardSnapshot{Session: domain.BoardSession{Status: domain.SessionActive}, LatestEventID: int64(n)}
		_ = conn.WriteJSON(StreamMessage{Type: MessageSnapshot, Snapshot: snap, LatestEventID: snap.LatestEventID})
		_ = conn.WriteJSON(StreamMessage{Type: MessageHeartbeat, LatestEventID: snap.LatestEventID})
		// drop the first connection to force a reconnect
		if n == 1 {
			return
		}
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan View, 16)
	s := &Stream{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     log.New(io.Discard, "", 0),
		OnUpdate: func(v View) {
			select {
			case seen <- v:
			default:
			}
		},
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-seen:
			if v.Snapshot != nil && v.Snapshot.LatestEventID == 2 {
				cancel()
				if err := <-done; err != context.Canceled {
					t.Fatalf("run returned %v", err)
				}
				return
			}
			if v.LastError != "" && v.Snapshot == nil {
				t.Fatalf("disconnect lost the snapshot: %+v", v)
			}
		case <-deadline:
			t.Fatalf("stream never reconnected (connections=%d)", atomic.LoadInt32(&conns))
		}
	}
}

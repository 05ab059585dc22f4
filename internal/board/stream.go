package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"playline/internal/domain"
)

const (
	MessageSnapshot  = "snapshot"
	MessageHeartbeat = "heartbeat"

	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

// StreamMessage is one frame of the board push stream. Snapshots are sent
// when the session changes; heartbeats keep an idle board connected.
type StreamMessage struct {
	Type          string                `json:"type"`
	Snapshot      *domain.BoardSnapshot `json:"snapshot,omitempty"`
	LatestEventID int64                 `json:"latest_event_id"`
}

// Stream subscribes to the server push channel and reconnects with
// exponential backoff. It keeps the last good snapshot across reconnects.
type Stream struct {
	URL        string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Thresholds Thresholds
	Logger     *log.Logger
	Now        func() time.Time
	OnUpdate   func(View)

	state tracker
}

func (s *Stream) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Stream) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Stream) Current() View {
	return s.state.view(s.now(), s.Thresholds)
}

func (s *Stream) emit() {
	if s.OnUpdate != nil {
		s.OnUpdate(s.Current())
	}
}

// NextBackoff doubles d within [min, max].
func NextBackoff(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	d *= 2
	if d > max {
		return max
	}
	return d
}

// Run keeps the subscription alive until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	minB, maxB := s.MinBackoff, s.MaxBackoff
	if minB <= 0 {
		minB = DefaultMinBackoff
	}
	if maxB < minB {
		maxB = DefaultMaxBackoff
	}
	var backoff time.Duration
	for {
		received, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = 0
		}
		s.state.failure(err)
		s.emit()
		backoff = NextBackoff(backoff, minB, maxB)
		s.logger().Printf("board: stream.disconnected url=%s retry_in=%s: %v", s.URL, backoff, err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection and reports whether any frame arrived.
func (s *Stream) session(ctx context.Context) (bool, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	readTimeout := s.Thresholds.withDefaults().OfflineAfter
	received := false
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return received, err
		}
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		received = true
		switch msg.Type {
		case MessageSnapshot:
			if msg.Snapshot == nil {
				return received, errors.New("snapshot frame without payload")
			}
			s.state.success(msg.Snapshot, s.now())
		case MessageHeartbeat:
			s.state.touch(s.now())
		default:
			continue
		}
		s.emit()
	}
}

package server

import (
	"context"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"playline/internal/board"
	"playline/internal/engine"
)

const boardWriteWait = 5 * time.Second

var boardUpgrader = websocket.Upgrader{
	// Boards are public displays opened from any origin.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// registerBoardStream serves GET {base}/play/board/{code}/stream. The first
// frame is always a snapshot; later frames are snapshots when the session
// event log moved and heartbeats otherwise.
func registerBoardStream(r chi.Router, basePath string, e engine.Engine, logger *log.Logger) {
	interval := time.Second
	if e.Config != nil {
		interval = e.Config.BoardStreamInterval()
	}
	r.Get(path.Join(basePath, "play/board/{code}/stream"), func(w http.ResponseWriter, req *http.Request) {
		code := chi.URLParam(req, "code")
		snap, err := e.BoardSnapshot(req.Context(), code)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if snap == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "board not found", nil))
			return
		}
		conn, err := boardUpgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Printf("board: upgrade.fail code=%s: %v", code, err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		// Spectators never send; reading only notices the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		send := func(msg board.StreamMessage) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(boardWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Printf("board: stream.write.fail code=%s: %v", code, err)
				return false
			}
			return true
		}
		last := snap.LatestEventID
		if !send(board.StreamMessage{Type: board.MessageSnapshot, Snapshot: snap, LatestEventID: last}) {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap, err := e.BoardSnapshot(ctx, code)
			if err != nil {
				logger.Printf("board: stream.snapshot.fail code=%s: %v", code, err)
				continue
			}
			if snap == nil {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "board not found"),
					time.Now().Add(boardWriteWait))
				return
			}
			msg := board.StreamMessage{Type: board.MessageHeartbeat, LatestEventID: snap.LatestEventID}
			if snap.LatestEventID != last {
				msg.Type = board.MessageSnapshot
				msg.Snapshot = snap
				last = snap.LatestEventID
			}
			if !send(msg) {
				return
			}
		}
	})
}

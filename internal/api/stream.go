package api

import (
	"context"
	"jobengine/internal/job"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers are not the expected client; auth is enforced before upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is one frame of the log stream.
type StreamMessage struct {
	Type     string     `json:"type"`                // "logs" or "status"
	Data     string     `json:"data,omitempty"`      // new log text
	Reset    bool       `json:"reset,omitempty"`     // Data replaces everything sent so far
	Status   job.Status `json:"status,omitempty"`    // set on "status" frames
	ExitCode *int       `json:"exit_code,omitempty"` // set on the final "status" frame
}

// StreamJobLogs handles GET /v1/jobs/{jobId}/logs/stream.
// The connection is upgraded to a WebSocket that receives new log text as it
// is persisted, a "status" frame on every status change, and is closed once
// the job is finished.
func (h *Handler) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	// Resolve the job before upgrading so unknown ids get a plain 404.
	if _, err := h.svc.Get(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "jobId", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go readUntilClosed(conn, cancel)

	logger := slog.With("jobId", jobID, "component", "log-stream")
	logger.Debug("Log stream opened")
	if err := h.pumpLogs(ctx, conn, jobID); err != nil {
		logger.Debug("Log stream ended", "error", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	logger.Debug("Log stream closed")
}

// pumpLogs polls the job and writes deltas until it is terminal.
func (h *Handler) pumpLogs(ctx context.Context, conn *websocket.Conn, jobID string) error {
	ticker := time.NewTicker(h.streamPoll)
	defer ticker.Stop()
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	var sent string
	var lastStatus job.Status
	for {
		j, err := h.svc.Get(ctx, jobID)
		if err != nil {
			return err
		}

		if msg, ok := logDelta(sent, j.Logs); ok {
			if err := writeFrame(conn, msg); err != nil {
				return err
			}
			sent = j.Logs
		}
		if j.Status != lastStatus || j.Status.IsTerminal() {
			msg := StreamMessage{Type: "status", Status: j.Status}
			if j.Status.IsTerminal() {
				msg.ExitCode = j.ExitCode
			}
			if err := writeFrame(conn, msg); err != nil {
				return err
			}
			lastStatus = j.Status
		}
		if j.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ticker.C:
		}
	}
}

// logDelta returns the frame that brings a client holding sent up to
// current. Logs are tail-truncated, so once the head moves the client gets
// the whole text again.
func logDelta(sent, current string) (StreamMessage, bool) {
	if current == sent {
		return StreamMessage{}, false
	}
	if strings.HasPrefix(current, sent) {
		return StreamMessage{Type: "logs", Data: current[len(sent):]}, true
	}
	return StreamMessage{Type: "logs", Data: current, Reset: true}, true
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readUntilClosed discards client frames and cancels once the peer goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("Log stream read error", "error", err)
			}
			return
		}
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/agentgate/agentd/internal/common/errors"
	"github.com/agentgate/agentd/internal/streaming"
)

// writeSSE renders a frame sequence as server-sent events. The sentinel
// frame becomes the literal "data: [DONE]" event. Write failures after the
// stream starts are logged; the client is already gone.
func (h *Handler) writeSSE(c *gin.Context, frames <-chan streaming.Frame) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for frame := range frames {
		if frame.Sentinel {
			if _, err := fmt.Fprint(c.Writer, "data: [DONE]\n\n"); err != nil {
				h.logger.Debug("sse write failed", zap.Error(err))
				return
			}
			c.Writer.Flush()
			continue
		}
		data, err := json.Marshal(frame)
		if err != nil {
			h.logger.Warn("failed to marshal frame", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			h.logger.Debug("sse write failed", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// chatWS is the websocket variant of chatStream: the client sends one
// {"message": ...} payload and receives the frame sequence as JSON
// messages, terminated by a [DONE] text message.
func (h *Handler) chatWS(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.sessions.GetSession(id)
	if err != nil {
		respondError(c, apperrors.NotFound("session not found: "+id))
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	var req ChatRequest
	if err := ws.ReadJSON(&req); err != nil || req.Message == "" {
		_ = ws.WriteJSON(gin.H{"error": `expected {"message": "..."}`})
		return
	}

	frames := h.responder.Stream(c.Request.Context(), conn, req.Message, nil)
	for frame := range frames {
		if frame.Sentinel {
			_ = ws.WriteMessage(websocket.TextMessage, []byte("[DONE]"))
			return
		}
		if err := ws.WriteJSON(frame); err != nil {
			h.logger.Debug("websocket write failed",
				zap.String("session_id", id), zap.Error(err))
			return
		}
	}
}

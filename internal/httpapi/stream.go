package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Every origin is accepted. /status/stream is registered without the
	// API-key middleware, like the read-only /status/all it mirrors.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusStream pushes the fleet status snapshot over a websocket every
// few seconds, for the operator dashboard to render live instead of
// polling /status/all.
func (h *handler) statusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("status stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses, err := h.sched.StatusAll(ctx)
			if err != nil {
				logger.Warn("status stream fetch failed", zap.Error(err))
				continue
			}
			if err := conn.WriteJSON(statuses); err != nil {
				return
			}
		}
	}
}

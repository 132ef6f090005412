package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamWriteTimeout = 5 * time.Second

// handleStream upgrades to a websocket and forwards change notices until either side
// goes away. Client frames are ignored.
func (h *httpHandler) handleStream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	operatorID := c.GetString(operatorIDContextKey)
	h.logger.Info("change stream opened", zap.String("operator_id", operatorID))

	ctx := conn.CloseRead(c.Request.Context())
	notices, cleanup := h.changes.Subscribe(ctx)
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("change stream closed", zap.String("operator_id", operatorID))
			return
		case notice := <-notices:
			data, err := json.Marshal(notice)
			if err != nil {
				h.logger.Error("failed to encode change notice", zap.Error(err))
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Warn("change stream write failed", zap.String("operator_id", operatorID), zap.Error(err))
				return
			}
		}
	}
}

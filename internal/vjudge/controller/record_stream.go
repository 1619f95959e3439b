package controller

import (
	"context"
	"time"

	pkgerrors "vjudge/pkg/errors"
	"vjudge/pkg/utils/logger"
	"vjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultStreamInterval = 500 * time.Millisecond
	maxStreamDuration     = 30 * time.Minute
	streamWriteTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// StreamRecord upgrades to a websocket and pushes the cached events of a record
// as they arrive. The socket is closed after the terminal event.
func (h *VJudgeController) StreamRecord(c *gin.Context) {
	rid := c.Param("rid")
	if rid == "" {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid record id")
		return
	}
	if h.records == nil {
		response.ErrorWithCode(c, pkgerrors.ServiceUnavailable, "record cache disabled")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "record stream upgrade failed", zap.String("rid", rid), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), maxStreamDuration)
	defer cancel()
	go func() {
		// Control frames are handled by the reader; any read error means the peer is gone.
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeCode, reason := h.pushEvents(ctx, conn, rid)
	deadline := time.Now().Add(streamWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), deadline)
}

func (h *VJudgeController) pushEvents(ctx context.Context, conn *websocket.Conn, rid string) (int, string) {
	interval := h.streamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := 0
	for {
		events, err := h.records.Events(ctx, rid)
		if err != nil {
			logger.Warn(ctx, "read record events failed", zap.String("rid", rid), zap.Error(err))
			return websocket.CloseInternalServerErr, "record cache unavailable"
		}
		for _, ev := range events {
			if ev.Seq <= last {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return websocket.CloseGoingAway, ""
			}
			last = ev.Seq
			if ev.Terminal {
				return websocket.CloseNormalClosure, "record finished"
			}
		}
		select {
		case <-ctx.Done():
			return websocket.CloseGoingAway, "stream closed"
		case <-ticker.C:
		}
	}
}

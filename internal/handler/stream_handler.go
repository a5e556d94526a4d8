package handler

import (
	"io"

	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	notifier *notify.Notifier
}

func NewStreamHandler(notifier *notify.Notifier) *StreamHandler {
	return &StreamHandler{notifier: notifier}
}

// StreamChanges 以SSE推送储蓄圈变更通知，chamaID为0时订阅全部
func (h *StreamHandler) StreamChanges(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	sub := h.notifier.Subscribe(chamaID)
	defer h.notifier.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case change, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ds124wfegd/appointly/pkg/queue"
	"github.com/gin-gonic/gin"
)

// QueueInspector is the read/requeue side of the notification task queue.
type QueueInspector interface {
	GetQueueStats(ctx context.Context) (*queue.QueueStats, error)
	DLQ() queue.DLQHandler
}

type QueueHandler struct {
	queue QueueInspector
}

// NewQueueHandler accepts nil when notifications are not queued.
func NewQueueHandler(q QueueInspector) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) enabled(c *gin.Context) bool {
	if h == nil || h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "task queue is disabled"})
		return false
	}
	return true
}

func (h *QueueHandler) Stats(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	stats, err := h.queue.GetQueueStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", stats)
}

func (h *QueueHandler) FailedTasks(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.queue.DLQ().GetFailedTasks(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*queue.FailedTask{}
	}
	respondOK(c, http.StatusOK, "", tasks)
}

func (h *QueueHandler) Requeue(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	if err := h.queue.DLQ().RequeueFailedTask(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	respondOK(c, http.StatusOK, "task requeued", nil)
}

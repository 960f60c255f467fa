package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/queue"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	broker *queue.Broker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(broker *queue.Broker) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health reports service liveness. The queue depth probe doubles as a
// database reachability check.
func (h *HealthHandler) Health(c *gin.Context) {
	if _, err := h.broker.Depth(c.Request.Context(), domain.StagePlan); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  "queue storage unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "forge",
	})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/queue"
)

// AdminHandler exposes queue observability endpoints: per-stage depth
// and the dead-letter sink. Operational only; nothing here mutates
// pipeline state.
type AdminHandler struct {
	broker *queue.Broker
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - broker: task queue broker instance.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(broker *queue.Broker) *AdminHandler {
	return &AdminHandler{broker: broker}
}

// QueueDepths handles GET /api/v1/admin/queues.
func (h *AdminHandler) QueueDepths(c *gin.Context) {
	depths := make(map[string]int64, len(domain.Stages))
	for _, stage := range domain.Stages {
		depth, err := h.broker.Depth(c.Request.Context(), stage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		depths[string(stage)] = depth
	}
	c.JSON(http.StatusOK, gin.H{"depths": depths})
}

// DeadLetters handles GET /api/v1/admin/queues/:stage/dead-letters.
func (h *AdminHandler) DeadLetters(c *gin.Context) {
	stage := domain.Stage(c.Param("stage"))
	valid := false
	for _, s := range domain.Stages {
		if s == stage {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown stage: " + string(stage)})
		return
	}

	letters, err := h.broker.DeadLetters(c.Request.Context(), stage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": letters})
}

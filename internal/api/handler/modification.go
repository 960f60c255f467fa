package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/forge/internal/service"
)

// ModificationHandler handles change-request endpoints.
type ModificationHandler struct {
	mods *service.ModificationService
}

// NewModificationHandler creates a new modification handler.
// Parameters:
//   - mods: modification service instance.
// Returns:
//   - *ModificationHandler: initialized handler.
func NewModificationHandler(mods *service.ModificationService) *ModificationHandler {
	return &ModificationHandler{mods: mods}
}

// ModificationRequest represents the request-modification API body.
type ModificationRequest struct {
	Request     string `json:"request" binding:"required"`
	RequestedBy string `json:"requested_by" binding:"required"`
}

// Request handles POST /api/v1/projects/:id/modifications.
func (h *ModificationHandler) Request(c *gin.Context) {
	var req ModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	mod, err := h.mods.Request(c.Request.Context(), c.Param("id"), req.Request, req.RequestedBy)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mod)
}

// DecisionRequest represents the approve/reject API body.
type DecisionRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// Approve handles POST /api/v1/projects/:id/modifications/:modId/approve.
// Approval enqueues the apply work; the response only reflects the
// decision, not the outcome.
func (h *ModificationHandler) Approve(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	mod, err := h.mods.Approve(c.Request.Context(), c.Param("id"), c.Param("modId"), req.Actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, mod)
}

// Reject handles POST /api/v1/projects/:id/modifications/:modId/reject.
func (h *ModificationHandler) Reject(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	mod, err := h.mods.Reject(c.Request.Context(), c.Param("id"), c.Param("modId"), req.Actor)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mod)
}

// Get handles GET /api/v1/projects/:id/modifications/:modId.
func (h *ModificationHandler) Get(c *gin.Context) {
	mod, err := h.mods.Get(c.Request.Context(), c.Param("id"), c.Param("modId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mod)
}

// List handles GET /api/v1/projects/:id/modifications.
func (h *ModificationHandler) List(c *gin.Context) {
	mods, err := h.mods.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modifications": mods})
}

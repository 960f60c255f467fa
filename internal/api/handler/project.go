package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/repository"
	"github.com/timmy/forge/internal/service"
)

// ProjectHandler handles project lifecycle endpoints.
type ProjectHandler struct {
	projects  *service.ProjectService
	readiness *service.ReadinessService
}

// NewProjectHandler creates a new project handler.
// Parameters:
//   - projects: project service instance.
//   - readiness: readiness check service instance.
// Returns:
//   - *ProjectHandler: initialized handler.
func NewProjectHandler(projects *service.ProjectService, readiness *service.ReadinessService) *ProjectHandler {
	return &ProjectHandler{
		projects:  projects,
		readiness: readiness,
	}
}

// CreateProjectRequest represents the create-project API request.
type CreateProjectRequest struct {
	Name   string `json:"name" binding:"required"`
	Type   string `json:"type" binding:"required"`
	Owner  string `json:"owner" binding:"required"`
	Intent string `json:"intent" binding:"required"`
}

// Create handles POST /api/v1/projects.
func (h *ProjectHandler) Create(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	project, err := h.projects.Create(c.Request.Context(), &service.CreateInput{
		Name:   req.Name,
		Type:   domain.ProjectType(req.Type),
		Owner:  req.Owner,
		Intent: req.Intent,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, project)
}

// Get handles GET /api/v1/projects/:id.
func (h *ProjectHandler) Get(c *gin.Context) {
	id := c.Param("id")
	withFiles := c.Query("include") == "files"

	project, err := h.projects.Get(c.Request.Context(), id, withFiles)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// List handles GET /api/v1/projects. Exactly one of owner or status
// must be supplied; listing everything is not supported.
func (h *ProjectHandler) List(c *gin.Context) {
	owner := c.Query("owner")
	status := c.Query("status")
	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var (
		projects []domain.Project
		next     string
		err      error
	)
	switch {
	case owner != "":
		projects, next, err = h.projects.ListByOwner(c.Request.Context(), owner, cursor, limit)
	case status != "":
		projects, next, err = h.projects.ListByStatus(c.Request.Context(), domain.ProjectStatus(status), cursor, limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either owner or status query parameter is required"})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects":    projects,
		"next_cursor": next,
	})
}

// History handles GET /api/v1/projects/:id/history.
func (h *ProjectHandler) History(c *gin.Context) {
	entries, err := h.projects.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// ReadinessRequest represents the readiness check API request.
type ReadinessRequest struct {
	TriggeredBy string `json:"triggered_by" binding:"required"`
}

// CheckReadiness handles POST /api/v1/projects/:id/readiness. A passing
// check is the only thing that enqueues a deployment.
func (h *ProjectHandler) CheckReadiness(c *gin.Context) {
	var req ReadinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	result, err := h.readiness.Check(c.Request.Context(), c.Param("id"), req.TriggeredBy)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Ready {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// Archive handles POST /api/v1/projects/:id/archive.
func (h *ProjectHandler) Archive(c *gin.Context) {
	if err := h.projects.Archive(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// Reopen handles POST /api/v1/projects/:id/reopen.
func (h *ProjectHandler) Reopen(c *gin.Context) {
	if err := h.projects.Reopen(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "in_progress"})
}

// Delete handles DELETE /api/v1/projects/:id.
func (h *ProjectHandler) Delete(c *gin.Context) {
	if err := h.projects.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/service"
)

// TemplateHandler handles template catalog endpoints.
type TemplateHandler struct {
	templates *service.TemplateService
}

// NewTemplateHandler creates a new template handler.
// Parameters:
//   - templates: template service instance.
// Returns:
//   - *TemplateHandler: initialized handler.
func NewTemplateHandler(templates *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// Create handles POST /api/v1/templates.
func (h *TemplateHandler) Create(c *gin.Context) {
	var tmpl domain.Template
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	created, err := h.templates.Create(c.Request.Context(), &tmpl)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Get handles GET /api/v1/templates/:id.
func (h *TemplateHandler) Get(c *gin.Context) {
	tmpl, err := h.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// List handles GET /api/v1/templates. Lists by category or searches by
// tag, depending on which query parameter is supplied.
func (h *TemplateHandler) List(c *gin.Context) {
	category := c.Query("category")
	tag := c.Query("tag")
	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var (
		templates []domain.Template
		next      string
		err       error
	)
	switch {
	case tag != "":
		templates, next, err = h.templates.SearchByTag(c.Request.Context(), tag, cursor, limit)
	case category != "":
		templates, next, err = h.templates.ListByCategory(c.Request.Context(), domain.TemplateCategory(category), cursor, limit)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either category or tag query parameter is required"})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"templates":   templates,
		"next_cursor": next,
	})
}

// Delete handles DELETE /api/v1/templates/:id.
func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ApplyTemplateRequest represents the apply-template API request.
type ApplyTemplateRequest struct {
	Name      string            `json:"name" binding:"required"`
	Type      string            `json:"type" binding:"required"`
	Owner     string            `json:"owner" binding:"required"`
	Intent    string            `json:"intent"`
	Variables map[string]string `json:"variables"`
}

// Apply handles POST /api/v1/templates/:id/apply.
func (h *TemplateHandler) Apply(c *gin.Context) {
	var req ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	project, err := h.templates.Apply(c.Request.Context(), &service.ApplyInput{
		TemplateID: c.Param("id"),
		Name:       req.Name,
		Type:       domain.ProjectType(req.Type),
		Owner:      req.Owner,
		Intent:     req.Intent,
		Variables:  req.Variables,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, project)
}

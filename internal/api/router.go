package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/forge/internal/api/handler"
	"github.com/timmy/forge/internal/api/middleware"
	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	projectService *service.ProjectService,
	modificationService *service.ModificationService,
	templateService *service.TemplateService,
	readinessService *service.ReadinessService,
	broker *queue.Broker,
	log *logger.Logger,
	cfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(broker)
	projectHandler := handler.NewProjectHandler(projectService, readinessService)
	modificationHandler := handler.NewModificationHandler(modificationService)
	templateHandler := handler.NewTemplateHandler(templateService)
	adminHandler := handler.NewAdminHandler(broker)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Projects
		v1.POST("/projects", projectHandler.Create)
		v1.GET("/projects", projectHandler.List)
		v1.GET("/projects/:id", projectHandler.Get)
		v1.GET("/projects/:id/history", projectHandler.History)
		v1.POST("/projects/:id/readiness", projectHandler.CheckReadiness)
		v1.POST("/projects/:id/archive", projectHandler.Archive)
		v1.POST("/projects/:id/reopen", projectHandler.Reopen)
		v1.DELETE("/projects/:id", projectHandler.Delete)

		// Modifications
		v1.POST("/projects/:id/modifications", modificationHandler.Request)
		v1.GET("/projects/:id/modifications", modificationHandler.List)
		v1.GET("/projects/:id/modifications/:modId", modificationHandler.Get)
		v1.POST("/projects/:id/modifications/:modId/approve", modificationHandler.Approve)
		v1.POST("/projects/:id/modifications/:modId/reject", modificationHandler.Reject)

		// Templates
		v1.POST("/templates", templateHandler.Create)
		v1.GET("/templates", templateHandler.List)
		v1.GET("/templates/:id", templateHandler.Get)
		v1.POST("/templates/:id/apply", templateHandler.Apply)
		v1.DELETE("/templates/:id", templateHandler.Delete)

		// Admin
		v1.GET("/admin/queues", adminHandler.QueueDepths)
		v1.GET("/admin/queues/:stage/dead-letters", adminHandler.DeadLetters)
	}

	return r
}

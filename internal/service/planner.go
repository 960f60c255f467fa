package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// taskPlans maps a project type to its ordered development tasks. The
// decomposition is deterministic: re-planning the same project yields
// the same tasks with the same ids.
var taskPlans = map[domain.ProjectType][]domain.Task{
	domain.ProjectTypeAPI: {
		{ID: "task-1", Description: "application entrypoint and server setup", TargetFile: "app.py", Language: "python"},
		{ID: "task-2", Description: "data models and persistence layer", TargetFile: "models.py", Language: "python"},
		{ID: "task-3", Description: "route handlers and request validation", TargetFile: "routes.py", Language: "python"},
	},
	domain.ProjectTypeWebApp: {
		{ID: "task-1", Description: "application entrypoint and server setup", TargetFile: "app.py", Language: "python"},
		{ID: "task-2", Description: "data models and persistence layer", TargetFile: "models.py", Language: "python"},
		{ID: "task-3", Description: "page views and templates wiring", TargetFile: "views.py", Language: "python"},
		{ID: "task-4", Description: "client-side interaction script", TargetFile: "static/main.js", Language: "javascript"},
	},
	domain.ProjectTypeMobileBackend: {
		{ID: "task-1", Description: "application entrypoint and server setup", TargetFile: "app.py", Language: "python"},
		{ID: "task-2", Description: "data models and persistence layer", TargetFile: "models.py", Language: "python"},
		{ID: "task-3", Description: "REST endpoints for mobile clients", TargetFile: "api.py", Language: "python"},
		{ID: "task-4", Description: "push-notification integration", TargetFile: "notifications.py", Language: "python"},
	},
	domain.ProjectTypeDataPipeline: {
		{ID: "task-1", Description: "pipeline orchestration entrypoint", TargetFile: "pipeline.py", Language: "python"},
		{ID: "task-2", Description: "extract and load connectors", TargetFile: "connectors.py", Language: "python"},
		{ID: "task-3", Description: "transform steps", TargetFile: "transforms.py", Language: "python"},
	},
	domain.ProjectTypeMicroservice: {
		{ID: "task-1", Description: "service entrypoint and health endpoint", TargetFile: "main.go", Language: "go"},
		{ID: "task-2", Description: "domain types and storage", TargetFile: "store.go", Language: "go"},
		{ID: "task-3", Description: "transport handlers", TargetFile: "handlers.go", Language: "go"},
	},
}

// PlannerService decomposes free-text intent into ordered development
// tasks, writes the initial project state and fans out one develop
// message per task.
type PlannerService struct {
	projects *repository.ProjectRepository
	broker   *queue.Broker
	notifier *notify.Notifier
}

// NewPlannerService creates a PlannerService.
func NewPlannerService(projects *repository.ProjectRepository, broker *queue.Broker, notifier *notify.Notifier) *PlannerService {
	return &PlannerService{projects: projects, broker: broker, notifier: notifier}
}

// Stage implements StageHandler.
func (s *PlannerService) Stage() domain.Stage { return domain.StagePlan }

// Handle implements StageHandler for plan messages.
func (s *PlannerService) Handle(ctx context.Context, msg *domain.StageMessage) error {
	var payload domain.PlanPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return Unrecoverable(fmt.Errorf("malformed plan payload: %w", err))
	}

	project, err := s.projects.Get(ctx, msg.ProjectID, false)
	if err != nil {
		return fmt.Errorf("failed to load project for planning: %w", err)
	}

	tasks := s.Decompose(project.Type, payload.Intent)
	if len(tasks) == 0 {
		return Unrecoverable(fmt.Errorf("no task plan for project type %q", project.Type))
	}

	project.Status = domain.ProjectStatusInProgress
	project.TaskCount = len(tasks)
	project.Dependencies = dependenciesFor(project.Type)
	if err := s.projects.PutMetadata(ctx, project); err != nil {
		return fmt.Errorf("failed to persist planned project: %w", err)
	}

	if err := s.projects.RecordHistory(ctx, msg.ProjectID, msg.CorrelationID, &domain.HistoryEntry{
		Stage:   string(domain.StagePlan),
		Outcome: "ok",
		Detail:  fmt.Sprintf("%d tasks planned", len(tasks)),
	}); err != nil {
		return fmt.Errorf("failed to record plan history: %w", err)
	}

	// Fan out one develop message per task. Enqueue is durable and the
	// develop correlation ids are stable, so replanning after a crash
	// here produces the same messages and the developers no-op extras.
	for _, task := range tasks {
		corrID := domain.CorrelationID(msg.ProjectID, domain.StageDevelop, task.ID)
		if err := s.broker.EnqueuePayload(ctx, domain.StageDevelop, "develop_task", msg.ProjectID, corrID,
			&domain.DevelopPayload{Task: &task}); err != nil {
			return fmt.Errorf("failed to enqueue develop message for %s: %w", task.ID, err)
		}
	}

	logger.CtxInfo(ctx, "Planned project: %d tasks", len(tasks))
	s.notifier.Push(ctx, notify.EventStageCompleted, map[string]interface{}{
		"project_id": msg.ProjectID,
		"stage":      string(domain.StagePlan),
		"tasks":      len(tasks),
	})
	return nil
}

// Decompose returns the ordered task list for a project type. Intent
// keywords can append well-known optional tasks; the result is stable
// for identical input.
func (s *PlannerService) Decompose(projectType domain.ProjectType, intent string) []domain.Task {
	base, ok := taskPlans[projectType]
	if !ok {
		return nil
	}
	tasks := make([]domain.Task, len(base))
	copy(tasks, base)

	lowered := strings.ToLower(intent)
	if strings.Contains(lowered, "auth") {
		lang := tasks[0].Language
		ext := "py"
		if lang == "go" {
			ext = "go"
		}
		tasks = append(tasks, domain.Task{
			ID:          fmt.Sprintf("task-%d", len(tasks)+1),
			Description: "authentication and session handling",
			TargetFile:  "auth." + ext,
			Language:    lang,
		})
	}

	for i := range tasks {
		tasks[i].Order = i + 1
	}
	return tasks
}

func dependenciesFor(projectType domain.ProjectType) []string {
	switch projectType {
	case domain.ProjectTypeAPI, domain.ProjectTypeMobileBackend:
		return []string{"flask", "sqlalchemy"}
	case domain.ProjectTypeWebApp:
		return []string{"flask", "sqlalchemy", "jinja2"}
	case domain.ProjectTypeDataPipeline:
		return []string{"pandas", "sqlalchemy"}
	case domain.ProjectTypeMicroservice:
		return []string{"github.com/gin-gonic/gin"}
	default:
		return nil
	}
}

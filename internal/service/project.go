package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// ProjectService is the front door of the pipeline: it validates and
// persists projects, then hands them to the plan stage. All generation
// work happens asynchronously; Create returns as soon as the metadata
// item and the plan message are durable.
type ProjectService struct {
	projects *repository.ProjectRepository
	broker   *queue.Broker
}

// NewProjectService creates a ProjectService.
func NewProjectService(projects *repository.ProjectRepository, broker *queue.Broker) *ProjectService {
	return &ProjectService{projects: projects, broker: broker}
}

// CreateInput carries the user-facing fields of a new project.
type CreateInput struct {
	Name   string             `json:"name"`
	Type   domain.ProjectType `json:"type"`
	Owner  string             `json:"owner"`
	Intent string             `json:"intent"`
}

// Create validates the input, persists the initial metadata item and
// enqueues the plan message.
func (s *ProjectService) Create(ctx context.Context, in *CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !domain.ValidProjectType(in.Type) {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown project type %q", in.Type)}
	}
	if strings.TrimSpace(in.Owner) == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	if strings.TrimSpace(in.Intent) == "" {
		return nil, &ValidationError{Field: "intent", Reason: "must not be empty"}
	}

	project := &domain.Project{
		ID:        newID(),
		Name:      in.Name,
		Type:      in.Type,
		Owner:     in.Owner,
		Status:    domain.ProjectStatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.PutMetadata(ctx, project); err != nil {
		return nil, err
	}

	corrID := domain.CorrelationID(project.ID, domain.StagePlan, "")
	if err := s.broker.EnqueuePayload(ctx, domain.StagePlan, "plan_project", project.ID, corrID,
		&domain.PlanPayload{Intent: in.Intent}); err != nil {
		return nil, fmt.Errorf("failed to enqueue plan message: %w", err)
	}

	logger.CtxInfo(ctx, "Project %s created (%s) for %s", project.ID, project.Type, project.Owner)
	return project, nil
}

// Get retrieves a project, optionally with its codebase files joined in.
func (s *ProjectService) Get(ctx context.Context, id string, withFiles bool) (*domain.Project, error) {
	return s.projects.Get(ctx, id, withFiles)
}

// History returns the pipeline event log of a project.
func (s *ProjectService) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	return s.projects.History(ctx, id)
}

// ListByOwner pages through one owner's projects.
func (s *ProjectService) ListByOwner(ctx context.Context, owner, cursor string, limit int) ([]domain.Project, string, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, "", &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	return s.projects.ListByOwner(ctx, owner, cursor, limit)
}

// ListByStatus pages through projects in one lifecycle status.
func (s *ProjectService) ListByStatus(ctx context.Context, status domain.ProjectStatus, cursor string, limit int) ([]domain.Project, string, error) {
	return s.projects.ListByStatus(ctx, status, cursor, limit)
}

// Archive moves a project to the archived status. Archived projects
// reject further stage output until reopened.
func (s *ProjectService) Archive(ctx context.Context, id string) error {
	p, err := s.projects.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if p.Status == domain.ProjectStatusArchived {
		return nil
	}
	logger.CtxInfo(ctx, "Archiving project %s (was %s)", id, p.Status)
	return s.projects.UpdateStatus(ctx, id, domain.ProjectStatusArchived)
}

// Reopen returns an archived or failed project to in_progress. This is
// the only path back into the pipeline; nothing reopens automatically.
func (s *ProjectService) Reopen(ctx context.Context, id string) error {
	p, err := s.projects.Get(ctx, id, false)
	if err != nil {
		return err
	}
	if p.Status != domain.ProjectStatusArchived && p.Status != domain.ProjectStatusFailed {
		return fmt.Errorf("%w: cannot reopen project in status %s", ErrInvalidTransition, p.Status)
	}
	logger.CtxInfo(ctx, "Reopening project %s (was %s)", id, p.Status)
	return s.projects.UpdateStatus(ctx, id, domain.ProjectStatusInProgress)
}

// Delete removes a project and everything under its partition.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if _, err := s.projects.Get(ctx, id, false); err != nil {
		return err
	}
	logger.CtxInfo(ctx, "Deleting project %s", id)
	return s.projects.Delete(ctx, id)
}

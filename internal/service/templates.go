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

// TemplateService manages the template catalog and project
// instantiation from templates. Applying a template pre-populates the
// codebase and then runs the normal pipeline over it.
type TemplateService struct {
	templates *repository.TemplateRepository
	projects  *repository.ProjectRepository
	broker    *queue.Broker
}

// NewTemplateService creates a TemplateService.
func NewTemplateService(templates *repository.TemplateRepository, projects *repository.ProjectRepository, broker *queue.Broker) *TemplateService {
	return &TemplateService{templates: templates, projects: projects, broker: broker}
}

// Create validates and persists a new template.
func (s *TemplateService) Create(ctx context.Context, t *domain.Template) (*domain.Template, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(t.Files) == 0 {
		return nil, &ValidationError{Field: "files", Reason: "template needs at least one file"}
	}
	switch t.Category {
	case domain.TemplateCategoryWeb, domain.TemplateCategoryAPI, domain.TemplateCategoryData,
		domain.TemplateCategoryMobile, domain.TemplateCategoryInfra:
	default:
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", t.Category)}
	}
	if t.Complexity == "" {
		t.Complexity = domain.TemplateComplexityMedium
	}
	if t.ID == "" {
		t.ID = newID()
	}

	if err := s.templates.Put(ctx, t); err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "Template %s created in category %s with %d files", t.ID, t.Category, len(t.Files))
	return t, nil
}

// Get retrieves a template by id.
func (s *TemplateService) Get(ctx context.Context, id string) (*domain.Template, error) {
	return s.templates.Get(ctx, id)
}

// ListByCategory pages through templates of one category.
func (s *TemplateService) ListByCategory(ctx context.Context, category domain.TemplateCategory, cursor string, limit int) ([]domain.Template, string, error) {
	return s.templates.ListByCategory(ctx, category, cursor, limit)
}

// SearchByTag pages through templates carrying one tag.
func (s *TemplateService) SearchByTag(ctx context.Context, tag, cursor string, limit int) ([]domain.Template, string, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, "", &ValidationError{Field: "tag", Reason: "must not be empty"}
	}
	return s.templates.SearchByTag(ctx, tag, cursor, limit)
}

// Delete removes a template and its tag items.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if _, err := s.templates.Get(ctx, id); err != nil {
		return err
	}
	return s.templates.Delete(ctx, id)
}

// ApplyInput carries the fields needed to instantiate a template.
type ApplyInput struct {
	TemplateID string             `json:"template_id"`
	Name       string             `json:"name"`
	Type       domain.ProjectType `json:"type"`
	Owner      string             `json:"owner"`
	Intent     string             `json:"intent"`
	Variables  map[string]string  `json:"variables,omitempty"`
}

// Apply renders a template into a new project's codebase and starts the
// pipeline over it. The rendered files land before the plan message, so
// development tasks see them as existing context.
func (s *TemplateService) Apply(ctx context.Context, in *ApplyInput) (*domain.Project, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !domain.ValidProjectType(in.Type) {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown project type %q", in.Type)}
	}
	if strings.TrimSpace(in.Owner) == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}

	tmpl, err := s.templates.Get(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}

	rendered, err := tmpl.Render(in.Variables)
	if err != nil {
		return nil, &ValidationError{Field: "variables", Reason: err.Error()}
	}

	project := &domain.Project{
		ID:           newID(),
		Name:         in.Name,
		Type:         in.Type,
		Owner:        in.Owner,
		Status:       domain.ProjectStatusCreated,
		Dependencies: tmpl.TechStack,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.projects.PutMetadata(ctx, project); err != nil {
		return nil, err
	}
	for path, content := range rendered {
		if err := s.projects.PutFile(ctx, project.ID, &domain.FileRecord{
			Path:     path,
			Content:  content,
			Size:     len(content),
			Language: languageOf(path),
		}); err != nil {
			return nil, err
		}
	}

	intent := in.Intent
	if strings.TrimSpace(intent) == "" {
		intent = tmpl.Description
	}
	corrID := domain.CorrelationID(project.ID, domain.StagePlan, "")
	if err := s.broker.EnqueuePayload(ctx, domain.StagePlan, "plan_project", project.ID, corrID,
		&domain.PlanPayload{Intent: intent}); err != nil {
		return nil, fmt.Errorf("failed to enqueue plan message: %w", err)
	}

	logger.CtxInfo(ctx, "Template %s applied as project %s with %d files", tmpl.ID, project.ID, len(rendered))
	return project, nil
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/timmy/forge/internal/domain"
)

func flaskTemplate() *domain.Template {
	return &domain.Template{
		Name:        "flask-api",
		Description: "a minimal Flask API",
		Category:    domain.TemplateCategoryAPI,
		Files: map[string]string{
			"app.py":           "APP = \"${service_name}\"\n",
			"requirements.txt": "flask\n",
		},
		RequiredVariables: []string{"service_name"},
		TechStack:         []string{"python", "flask"},
		Tags:              []string{"rest", "python"},
	}
}

func TestTemplateCreateValidation(t *testing.T) {
	p := newPipeline(t)
	svc := p.templateSvc
	ctx := context.Background()

	var ve *ValidationError
	if _, err := svc.Create(ctx, &domain.Template{Category: domain.TemplateCategoryAPI,
		Files: map[string]string{"a.py": "x"}}); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for empty name, got %v", err)
	}
	if _, err := svc.Create(ctx, &domain.Template{Name: "empty", Category: domain.TemplateCategoryAPI}); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for no files, got %v", err)
	}
	if _, err := svc.Create(ctx, &domain.Template{Name: "odd", Category: "desktop",
		Files: map[string]string{"a.py": "x"}}); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for unknown category, got %v", err)
	}

	created, err := svc.Create(ctx, flaskTemplate())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("Expected a generated template id")
	}
	if created.Complexity != domain.TemplateComplexityMedium {
		t.Errorf("Expected medium complexity default, got %s", created.Complexity)
	}
}

func TestTemplateSearchByTag(t *testing.T) {
	p := newPipeline(t)
	svc := p.templateSvc
	ctx := context.Background()

	if _, err := svc.Create(ctx, flaskTemplate()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other := flaskTemplate()
	other.Name = "express-api"
	other.Tags = []string{"rest", "node"}
	if _, err := svc.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, _, err := svc.SearchByTag(ctx, "python", "", 10)
	if err != nil {
		t.Fatalf("SearchByTag failed: %v", err)
	}
	if len(found) != 1 || found[0].Name != "flask-api" {
		t.Errorf("Expected only flask-api tagged python, got %d results", len(found))
	}

	both, _, err := svc.SearchByTag(ctx, "rest", "", 10)
	if err != nil {
		t.Fatalf("SearchByTag failed: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("Expected 2 templates tagged rest, got %d", len(both))
	}

	var ve *ValidationError
	if _, _, err := svc.SearchByTag(ctx, " ", "", 10); !errors.As(err, &ve) {
		t.Errorf("Expected validation error for blank tag, got %v", err)
	}
}

func TestTemplateApply(t *testing.T) {
	p := newPipeline(t)
	svc := p.templateSvc
	ctx := context.Background()

	tmpl, err := svc.Create(ctx, flaskTemplate())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Missing required variable surfaces as a validation error.
	_, err = svc.Apply(ctx, &ApplyInput{
		TemplateID: tmpl.ID, Name: "billing", Type: domain.ProjectTypeAPI, Owner: "alice",
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected validation error for missing variable, got %v", err)
	}

	project, err := svc.Apply(ctx, &ApplyInput{
		TemplateID: tmpl.ID,
		Name:       "billing",
		Type:       domain.ProjectTypeAPI,
		Owner:      "alice",
		Variables:  map[string]string{"service_name": "billing"},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(project.Dependencies) != 2 {
		t.Errorf("Expected tech stack carried as dependencies, got %v", project.Dependencies)
	}

	rendered, err := p.projects.GetFile(ctx, project.ID, "app.py")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if !strings.Contains(rendered.Content, "\"billing\"") {
		t.Errorf("Expected rendered variable in content, got %q", rendered.Content)
	}

	// Apply starts the pipeline; intent defaults to the description.
	depth, err := p.broker.Depth(ctx, domain.StagePlan)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("Expected 1 queued plan message, got %d", depth)
	}
}

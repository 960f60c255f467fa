package domain

import (
	"fmt"
	"strings"
	"time"
)

// TemplateCategory groups templates for listing.
type TemplateCategory string

const (
	TemplateCategoryWeb    TemplateCategory = "web"
	TemplateCategoryAPI    TemplateCategory = "api"
	TemplateCategoryData   TemplateCategory = "data"
	TemplateCategoryMobile TemplateCategory = "mobile"
	TemplateCategoryInfra  TemplateCategory = "infra"
)

// TemplateComplexity is a rough effort estimate for a template.
type TemplateComplexity string

const (
	TemplateComplexitySimple  TemplateComplexity = "simple"
	TemplateComplexityMedium  TemplateComplexity = "medium"
	TemplateComplexityComplex TemplateComplexity = "complex"
)

// Template is an operator-authored project scaffold. Templates are
// immutable records; any reshaping happens at the API and storage
// boundaries, never through a second access style on this type.
type Template struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	Category           TemplateCategory   `json:"category"`
	Files              map[string]string  `json:"files"`
	RequiredVariables  []string           `json:"required_variables,omitempty"`
	OptionalVariables  []string           `json:"optional_variables,omitempty"`
	TechStack          []string           `json:"tech_stack,omitempty"`
	EstimatedSetupTime string             `json:"estimated_setup_time,omitempty"`
	Complexity         TemplateComplexity `json:"complexity"`
	Tags               []string           `json:"tags,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Render substitutes ${var} placeholders in every template file and
// returns the resulting codebase. Missing required variables are an error;
// optional variables default to empty.
func (t *Template) Render(vars map[string]string) (map[string]string, error) {
	for _, name := range t.RequiredVariables {
		if _, ok := vars[name]; !ok {
			return nil, fmt.Errorf("missing required template variable %q", name)
		}
	}
	files := make(map[string]string, len(t.Files))
	for path, content := range t.Files {
		rendered := content
		for name, value := range vars {
			rendered = strings.ReplaceAll(rendered, "${"+name+"}", value)
		}
		for _, name := range t.OptionalVariables {
			rendered = strings.ReplaceAll(rendered, "${"+name+"}", "")
		}
		files[path] = rendered
	}
	return files, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/generator"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/repository"
)

// DeployerService packages a quality-passed project: a deployment
// descriptor, platform-specific instructions selected by project type,
// and a generated deployment guide.
type DeployerService struct {
	projects *repository.ProjectRepository
	gen      *generator.Generator
	notifier *notify.Notifier
}

// NewDeployerService creates a DeployerService.
func NewDeployerService(projects *repository.ProjectRepository, gen *generator.Generator, notifier *notify.Notifier) *DeployerService {
	return &DeployerService{projects: projects, gen: gen, notifier: notifier}
}

// Stage implements StageHandler.
func (s *DeployerService) Stage() domain.Stage { return domain.StageDeploy }

// Handle implements StageHandler for deploy messages.
func (s *DeployerService) Handle(ctx context.Context, msg *domain.StageMessage) error {
	var payload domain.DeployPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return Unrecoverable(fmt.Errorf("malformed deploy payload: %w", err))
	}

	project, err := s.projects.Get(ctx, msg.ProjectID, false)
	if err != nil {
		return fmt.Errorf("failed to load project for deployment: %w", err)
	}

	files, err := s.projects.ListFiles(ctx, msg.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list files for deployment: %w", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	// Project documentation ships with the package, so it is written
	// before the descriptor snapshots the file list.
	docs := []struct {
		kind generator.Kind
		path string
	}{
		{generator.KindReadme, "README.md"},
		{generator.KindAPIDoc, "docs/API.md"},
		{generator.KindUserGuide, "docs/USER_GUIDE.md"},
	}
	fellBack := false
	for _, d := range docs {
		artifact, err := s.gen.Generate(ctx, d.kind, generator.Context{
			ProjectName: project.Name,
			ProjectType: string(project.Type),
			Files:       paths,
		})
		if err != nil {
			return err
		}
		if err := s.projects.PutFile(ctx, msg.ProjectID, &domain.FileRecord{
			Path:     d.path,
			Content:  artifact.Content,
			Fallback: artifact.Fallback,
		}); err != nil {
			return fmt.Errorf("failed to persist %s: %w", d.path, err)
		}
		fellBack = fellBack || artifact.Fallback
	}
	for _, d := range docs {
		paths = append(paths, d.path)
	}

	platform := DetectPlatform(project.Type)
	pkg := &domain.DeploymentPackage{
		ProjectID:    project.ID,
		Platform:     platform,
		Files:        paths,
		Instructions: platformInstructions(platform),
		Config:       project.DeploymentConfig,
		CreatedAt:    time.Now().UTC(),
	}

	descriptor, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return Unrecoverable(fmt.Errorf("failed to marshal deployment package: %w", err))
	}
	if err := s.projects.PutFile(ctx, msg.ProjectID, &domain.FileRecord{
		Path:    "deploy/package.json",
		Content: string(descriptor),
	}); err != nil {
		return fmt.Errorf("failed to persist deployment package: %w", err)
	}

	guide, err := s.gen.Generate(ctx, generator.KindDeploymentGuide, generator.Context{
		ProjectName: project.Name,
		ProjectType: string(project.Type),
		Platform:    platform,
		Files:       paths,
	})
	if err != nil {
		return err
	}
	if err := s.projects.PutFile(ctx, msg.ProjectID, &domain.FileRecord{
		Path:     "deploy/DEPLOYMENT.md",
		Content:  guide.Content,
		Fallback: guide.Fallback,
	}); err != nil {
		return fmt.Errorf("failed to persist deployment guide: %w", err)
	}

	if err := s.projects.UpdateStatus(ctx, msg.ProjectID, domain.ProjectStatusDeployed); err != nil {
		return fmt.Errorf("failed to mark project deployed: %w", err)
	}

	if err := s.projects.RecordHistory(ctx, msg.ProjectID, msg.CorrelationID, &domain.HistoryEntry{
		Stage:    string(domain.StageDeploy),
		Outcome:  "ok",
		Detail:   fmt.Sprintf("packaged %d files for %s", len(paths), platform),
		Fallback: fellBack || guide.Fallback,
	}); err != nil {
		return fmt.Errorf("failed to record deploy history: %w", err)
	}

	logger.CtxInfo(ctx, "Deployed project to %s (%d files)", platform, len(paths))
	s.notifier.Push(ctx, notify.EventProjectDeployed, map[string]interface{}{
		"project_id":   msg.ProjectID,
		"platform":     platform,
		"triggered_by": payload.TriggeredBy,
	})
	return nil
}

// DetectPlatform selects the deployment target for a project type.
func DetectPlatform(t domain.ProjectType) string {
	switch t {
	case domain.ProjectTypeAPI, domain.ProjectTypeMobileBackend:
		return "aws-ecs"
	case domain.ProjectTypeWebApp:
		return "aws-amplify"
	case domain.ProjectTypeDataPipeline:
		return "aws-batch"
	case domain.ProjectTypeMicroservice:
		return "kubernetes"
	default:
		return "docker"
	}
}

func platformInstructions(platform string) []string {
	switch platform {
	case "kubernetes":
		return []string{
			"Build and push the container image",
			"Apply the manifests under deploy/",
			"Verify rollout status and the health endpoint",
		}
	case "aws-amplify":
		return []string{
			"Connect the repository to Amplify",
			"Configure the build settings",
			"Trigger a deployment and verify the hosted URL",
		}
	case "aws-batch":
		return []string{
			"Build and push the container image",
			"Register the job definition",
			"Submit a smoke-test job and check its logs",
		}
	default:
		return []string{
			"Build and push the container image",
			"Create or update the service with the new image",
			"Verify the health endpoint",
		}
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/generator"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// DeveloperService turns one planned task into code and tests, or
// applies an approved modification. Generator failures for a single
// task never fail the project: the fallback artifact keeps the
// pipeline moving and the history entry records the substitution.
type DeveloperService struct {
	projects *repository.ProjectRepository
	broker   *queue.Broker
	gen      *generator.Generator
	mods     *ModificationService
	notifier *notify.Notifier
}

// NewDeveloperService creates a DeveloperService.
func NewDeveloperService(
	projects *repository.ProjectRepository,
	broker *queue.Broker,
	gen *generator.Generator,
	mods *ModificationService,
	notifier *notify.Notifier,
) *DeveloperService {
	return &DeveloperService{
		projects: projects,
		broker:   broker,
		gen:      gen,
		mods:     mods,
		notifier: notifier,
	}
}

// Stage implements StageHandler.
func (s *DeveloperService) Stage() domain.Stage { return domain.StageDevelop }

// Handle implements StageHandler for develop messages.
func (s *DeveloperService) Handle(ctx context.Context, msg *domain.StageMessage) error {
	var payload domain.DevelopPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return Unrecoverable(fmt.Errorf("malformed develop payload: %w", err))
	}

	switch {
	case payload.ModificationID != "":
		return s.mods.Apply(ctx, msg.ProjectID, payload.ModificationID, msg.CorrelationID)
	case payload.Task != nil:
		return s.developTask(ctx, msg, payload.Task)
	default:
		return Unrecoverable(fmt.Errorf("develop payload names neither a task nor a modification"))
	}
}

func (s *DeveloperService) developTask(ctx context.Context, msg *domain.StageMessage, task *domain.Task) error {
	project, err := s.projects.Get(ctx, msg.ProjectID, false)
	if err != nil {
		return fmt.Errorf("failed to load project for development: %w", err)
	}

	existing, err := s.projects.ListFiles(ctx, msg.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list project files: %w", err)
	}
	paths := make([]string, 0, len(existing))
	for _, f := range existing {
		paths = append(paths, f.Path)
	}

	genCtx := generator.Context{
		ProjectName:     project.Name,
		ProjectType:     string(project.Type),
		TargetFile:      task.TargetFile,
		Language:        task.Language,
		TaskDescription: task.Description,
		Files:           paths,
	}

	source, err := s.gen.Generate(ctx, generator.KindSourceFile, genCtx)
	if err != nil {
		return err // context cancellation only
	}

	testCtx := genCtx
	testCtx.TargetFile = testFileName(task.TargetFile, task.Language)
	testCtx.CurrentContent = source.Content
	test, err := s.gen.Generate(ctx, generator.KindUnitTest, testCtx)
	if err != nil {
		return err
	}

	if err := s.storeFile(ctx, msg.ProjectID, &domain.FileRecord{
		Path:     task.TargetFile,
		Content:  source.Content,
		Language: task.Language,
		TaskID:   task.ID,
		Fallback: source.Fallback,
	}); err != nil {
		return err
	}
	if err := s.storeFile(ctx, msg.ProjectID, &domain.FileRecord{
		Path:     testCtx.TargetFile,
		Content:  test.Content,
		Language: task.Language,
		TaskID:   task.ID,
		Fallback: test.Fallback,
	}); err != nil {
		return err
	}

	fellBack := source.Fallback || test.Fallback

	// The last task also produces an integration test spanning the
	// whole codebase written so far.
	if task.Order == project.TaskCount && project.TaskCount > 0 {
		integCtx := genCtx
		integCtx.TargetFile = integrationTestName(task.Language)
		integCtx.Files = append(paths, task.TargetFile, testCtx.TargetFile)
		integ, err := s.gen.Generate(ctx, generator.KindIntegrationTest, integCtx)
		if err != nil {
			return err
		}
		if err := s.storeFile(ctx, msg.ProjectID, &domain.FileRecord{
			Path:     integCtx.TargetFile,
			Content:  integ.Content,
			Language: task.Language,
			TaskID:   task.ID,
			Fallback: integ.Fallback,
		}); err != nil {
			return err
		}
		fellBack = fellBack || integ.Fallback
	}

	detail := "generated"
	if fellBack {
		detail = "generated with fallback substitution"
	}
	if err := s.projects.RecordHistory(ctx, msg.ProjectID, msg.CorrelationID, &domain.HistoryEntry{
		Stage:    string(domain.StageDevelop),
		TaskID:   task.ID,
		Outcome:  "ok",
		Detail:   detail,
		Fallback: fellBack,
	}); err != nil {
		return fmt.Errorf("failed to record develop history: %w", err)
	}

	verifyCorr := domain.CorrelationID(msg.ProjectID, domain.StageVerify, task.ID)
	if err := s.broker.EnqueuePayload(ctx, domain.StageVerify, "verify_task", msg.ProjectID, verifyCorr,
		&domain.VerifyPayload{TaskID: task.ID}); err != nil {
		return fmt.Errorf("failed to enqueue verify message: %w", err)
	}

	logger.CtxInfo(ctx, "Developed task %s: %s (+%s)", task.ID, task.TargetFile, testCtx.TargetFile)
	s.notifier.Push(ctx, notify.EventStageCompleted, map[string]interface{}{
		"project_id": msg.ProjectID,
		"stage":      string(domain.StageDevelop),
		"task_id":    task.ID,
		"fallback":   fellBack,
	})
	return nil
}

func (s *DeveloperService) storeFile(ctx context.Context, projectID string, f *domain.FileRecord) error {
	if err := s.projects.PutFile(ctx, projectID, f); err != nil {
		return fmt.Errorf("failed to persist file %s: %w", f.Path, err)
	}
	return nil
}

// testFileName derives the conventional test file path for a source file.
func testFileName(target, language string) string {
	switch strings.ToLower(language) {
	case "go":
		return strings.TrimSuffix(target, ".go") + "_test.go"
	case "javascript":
		return strings.TrimSuffix(target, ".js") + ".test.js"
	case "typescript":
		return strings.TrimSuffix(target, ".ts") + ".test.ts"
	default:
		base := target
		if i := strings.LastIndex(base, "/"); i >= 0 {
			return base[:i+1] + "test_" + base[i+1:]
		}
		return "test_" + base
	}
}

// integrationTestName derives the conventional integration test path
// for a language.
func integrationTestName(language string) string {
	switch strings.ToLower(language) {
	case "go":
		return "integration_test.go"
	case "javascript":
		return "integration.test.js"
	case "typescript":
		return "integration.test.ts"
	default:
		return "test_integration.py"
	}
}

// newID returns a fresh entity id.
func newID() string { return uuid.New().String() }

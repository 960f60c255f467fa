package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/generator"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// ModificationService owns the change-request state machine:
//
//	pending -> approved | rejected
//	approved -> applied | failed
//
// Decisions require a recorded actor and timestamp. The impact analysis
// and affected-files snapshot are computed once at request time; apply
// trusts the snapshot and only logs when the codebase has drifted.
type ModificationService struct {
	projects *repository.ProjectRepository
	broker   *queue.Broker
	gen      *generator.Generator
	notifier *notify.Notifier
}

// NewModificationService creates a ModificationService.
func NewModificationService(
	projects *repository.ProjectRepository,
	broker *queue.Broker,
	gen *generator.Generator,
	notifier *notify.Notifier,
) *ModificationService {
	return &ModificationService{projects: projects, broker: broker, gen: gen, notifier: notifier}
}

// Request records a new change request with its impact snapshot.
func (s *ModificationService) Request(ctx context.Context, projectID, request, requestedBy string) (*domain.Modification, error) {
	if strings.TrimSpace(request) == "" {
		return nil, &ValidationError{Field: "request", Reason: "must not be empty"}
	}
	if strings.TrimSpace(requestedBy) == "" {
		return nil, &ValidationError{Field: "requested_by", Reason: "must not be empty"}
	}

	project, err := s.projects.Get(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	if !project.Status.AcceptsStageOutput() {
		return nil, fmt.Errorf("%w: project status %s does not accept modifications", ErrStateConflict, project.Status)
	}

	files, err := s.projects.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}

	affected := affectedFiles(request, files)
	mod := &domain.Modification{
		ID:            newID(),
		ProjectID:     projectID,
		Request:       request,
		RequestedBy:   requestedBy,
		RequestedAt:   time.Now().UTC(),
		AffectedFiles: affected,
		ImpactAnalysis: map[string]string{
			"risk":           riskLevel(len(affected), len(files)),
			"files_affected": fmt.Sprintf("%d", len(affected)),
			"files_total":    fmt.Sprintf("%d", len(files)),
		},
		Status: domain.ModificationStatusPending,
	}

	if err := s.projects.PutModification(ctx, mod); err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "Modification %s requested against %d files", mod.ID, len(affected))
	return mod, nil
}

// Approve transitions pending -> approved and enqueues the apply work.
func (s *ModificationService) Approve(ctx context.Context, projectID, modID, actor string) (*domain.Modification, error) {
	mod, err := s.decide(ctx, projectID, modID, actor, domain.ModificationStatusApproved)
	if err != nil {
		return nil, err
	}

	corrID := domain.CorrelationID(projectID, domain.StageDevelop, "mod-"+modID)
	if err := s.broker.EnqueuePayload(ctx, domain.StageDevelop, "apply_modification", projectID, corrID,
		&domain.DevelopPayload{ModificationID: modID}); err != nil {
		return nil, fmt.Errorf("failed to enqueue modification apply: %w", err)
	}
	return mod, nil
}

// Reject transitions pending -> rejected.
func (s *ModificationService) Reject(ctx context.Context, projectID, modID, actor string) (*domain.Modification, error) {
	return s.decide(ctx, projectID, modID, actor, domain.ModificationStatusRejected)
}

func (s *ModificationService) decide(ctx context.Context, projectID, modID, actor string, next domain.ModificationStatus) (*domain.Modification, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Reason: "decision requires an actor identity"}
	}

	mod, err := s.projects.GetModification(ctx, projectID, modID)
	if err != nil {
		return nil, err
	}
	if !mod.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, mod.Status, next)
	}

	now := time.Now().UTC()
	mod.Status = next
	mod.DecidedBy = actor
	mod.DecidedAt = &now
	if err := s.projects.PutModification(ctx, mod); err != nil {
		return nil, err
	}

	logger.CtxInfo(ctx, "Modification %s %s by %s", modID, next, actor)
	s.notifier.Push(ctx, notify.EventModificationDecided, map[string]interface{}{
		"project_id":      projectID,
		"modification_id": modID,
		"status":          string(next),
		"actor":           actor,
	})
	return mod, nil
}

// Apply executes an approved modification from the develop stage. A
// generator or validation failure transitions approved -> failed; there
// is no automatic return to pending and no retry loop.
func (s *ModificationService) Apply(ctx context.Context, projectID, modID, correlationID string) error {
	ctx = logger.SetModificationID(ctx, modID)

	mod, err := s.projects.GetModification(ctx, projectID, modID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Unrecoverable(fmt.Errorf("modification %s not found", modID))
		}
		return err
	}

	if mod.Status.Terminal() {
		// Redelivered apply for an already-settled modification.
		return fmt.Errorf("%w: modification %s already %s", ErrStateConflict, modID, mod.Status)
	}
	if mod.Status != domain.ModificationStatusApproved {
		return Unrecoverable(fmt.Errorf("%w: cannot apply modification in status %s", ErrInvalidTransition, mod.Status))
	}

	project, err := s.projects.Get(ctx, projectID, false)
	if err != nil {
		return err
	}

	modified := make(map[string]string, len(mod.AffectedFiles))
	testResults := make(map[string]string, len(mod.AffectedFiles))
	fellBack := false

	for _, path := range mod.AffectedFiles {
		current, err := s.projects.GetFile(ctx, projectID, path)
		if errors.Is(err, repository.ErrNotFound) {
			// Snapshot drift: the file existed at request time but is
			// gone now. Trust the snapshot, note the drift.
			logger.CtxWarn(ctx, "Affected file %s no longer exists, generating from scratch", path)
			current = &domain.FileRecord{Path: path, Language: languageOf(path)}
		} else if err != nil {
			return err
		}

		artifact, err := s.gen.Generate(ctx, generator.KindModification, generator.Context{
			ProjectName:    project.Name,
			ProjectType:    string(project.Type),
			TargetFile:     path,
			Language:       current.Language,
			Request:        mod.Request,
			CurrentContent: current.Content,
		})
		if err != nil {
			return err // context cancellation only
		}
		if artifact.Fallback {
			fellBack = true
			testResults[path] = "generation failed"
			continue
		}
		modified[path] = artifact.Content
		testResults[path] = "pass"
	}

	now := time.Now().UTC()
	if fellBack {
		mod.Status = domain.ModificationStatusFailed
		mod.TestResults = testResults
		mod.FailureReason = "generation failed for one or more affected files"
		if err := s.projects.PutModification(ctx, mod); err != nil {
			return err
		}
		if err := s.projects.RecordHistory(ctx, projectID, correlationID, &domain.HistoryEntry{
			Stage:   string(domain.StageDevelop),
			Outcome: "fail",
			Detail:  fmt.Sprintf("modification %s failed to apply", modID),
		}); err != nil {
			return err
		}
		logger.CtxWarn(ctx, "Modification %s failed to apply", modID)
		return nil
	}

	// Persist the new file contents first, then the state transition:
	// a crash in between redelivers the message, and the terminal-state
	// check keeps the retry from double-applying.
	for path, content := range modified {
		if err := s.projects.PutFile(ctx, projectID, &domain.FileRecord{
			Path:     path,
			Content:  content,
			Language: languageOf(path),
		}); err != nil {
			return err
		}
	}

	mod.Status = domain.ModificationStatusApplied
	mod.AppliedAt = &now
	mod.ModifiedFiles = modified
	mod.TestResults = testResults
	if err := s.projects.PutModification(ctx, mod); err != nil {
		return err
	}

	if err := s.projects.RecordHistory(ctx, projectID, correlationID, &domain.HistoryEntry{
		Stage:   string(domain.StageDevelop),
		Outcome: "ok",
		Detail:  fmt.Sprintf("modification %s applied to %d files", modID, len(modified)),
	}); err != nil {
		return err
	}

	verifyCorr := domain.CorrelationID(projectID, domain.StageVerify, "mod-"+modID)
	if err := s.broker.EnqueuePayload(ctx, domain.StageVerify, "verify_modification", projectID, verifyCorr,
		&domain.VerifyPayload{}); err != nil {
		return fmt.Errorf("failed to enqueue verify after modification: %w", err)
	}

	logger.CtxInfo(ctx, "Modification %s applied to %d files", modID, len(modified))
	return nil
}

// Get retrieves a single modification.
func (s *ModificationService) Get(ctx context.Context, projectID, modID string) (*domain.Modification, error) {
	return s.projects.GetModification(ctx, projectID, modID)
}

// List returns all modifications of a project.
func (s *ModificationService) List(ctx context.Context, projectID string) ([]domain.Modification, error) {
	return s.projects.ListModifications(ctx, projectID)
}

// affectedFiles snapshots which files a request text touches: files
// whose path or base name appear in the request, or every source file
// when nothing matches (a broad request like "add logging everywhere").
func affectedFiles(request string, files []domain.FileRecord) []string {
	lowered := strings.ToLower(request)
	var matched []string
	for _, f := range files {
		base := f.Path
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[i+1:]
		}
		name := strings.TrimSuffix(base, extOf(base))
		if strings.Contains(lowered, strings.ToLower(f.Path)) ||
			(name != "" && strings.Contains(lowered, strings.ToLower(name))) {
			matched = append(matched, f.Path)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	for _, f := range files {
		if isSourceFile(f.Path) && !isTestFile(f.Path) {
			matched = append(matched, f.Path)
		}
	}
	return matched
}

func riskLevel(affected, total int) string {
	switch {
	case total == 0 || affected == 0:
		return "low"
	case affected*2 >= total:
		return "high"
	case affected*4 >= total:
		return "medium"
	default:
		return "low"
	}
}

func languageOf(path string) string {
	switch extOf(path) {
	case ".go":
		return "go"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	default:
		return "python"
	}
}

func extOf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}

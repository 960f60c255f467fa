package service

import (
	"context"
	"fmt"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// ReadinessService is the explicit, externally triggered gate between
// verify and deploy. Nothing enqueues a deploy message except a passing
// readiness check, which keeps a human in the deployment loop.
type ReadinessService struct {
	projects *repository.ProjectRepository
	broker   *queue.Broker

	coverageThreshold float64
	securityThreshold float64
}

// NewReadinessService creates a ReadinessService with thresholds from
// pipeline configuration.
func NewReadinessService(projects *repository.ProjectRepository, broker *queue.Broker, pcfg *config.PipelineConfig) *ReadinessService {
	return &ReadinessService{
		projects:          projects,
		broker:            broker,
		coverageThreshold: pcfg.CoverageThreshold,
		securityThreshold: pcfg.SecurityThreshold,
	}
}

// ReadinessResult reports the outcome of a readiness check.
type ReadinessResult struct {
	Ready             bool                  `json:"ready"`
	Metrics           domain.ProjectMetrics `json:"metrics"`
	CoverageThreshold float64               `json:"coverage_threshold"`
	SecurityThreshold float64               `json:"security_threshold"`
	Reasons           []string              `json:"reasons,omitempty"`
}

// Check evaluates a project's metrics against the thresholds and, on
// pass, enqueues the deploy message attributed to triggeredBy.
func (s *ReadinessService) Check(ctx context.Context, projectID, triggeredBy string) (*ReadinessResult, error) {
	project, err := s.projects.Get(ctx, projectID, false)
	if err != nil {
		return nil, err
	}

	result := &ReadinessResult{
		Metrics:           project.Metrics,
		CoverageThreshold: s.coverageThreshold,
		SecurityThreshold: s.securityThreshold,
	}

	if project.Status != domain.ProjectStatusInProgress && project.Status != domain.ProjectStatusDeployed {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("project status %s is not deployable", project.Status))
	}
	if project.Metrics.TestCoverage < s.coverageThreshold {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("test coverage %.2f below threshold %.2f", project.Metrics.TestCoverage, s.coverageThreshold))
	}
	if project.Metrics.SecurityScore < s.securityThreshold {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("security score %.2f below threshold %.2f", project.Metrics.SecurityScore, s.securityThreshold))
	}

	if len(result.Reasons) > 0 {
		logger.CtxInfo(ctx, "Readiness check failed for %s: %v", projectID, result.Reasons)
		return result, nil
	}

	result.Ready = true
	corrID := domain.CorrelationID(projectID, domain.StageDeploy, "")
	if err := s.broker.EnqueuePayload(ctx, domain.StageDeploy, "deploy_project", projectID, corrID,
		&domain.DeployPayload{TriggeredBy: triggeredBy}); err != nil {
		return nil, fmt.Errorf("failed to enqueue deploy message: %w", err)
	}

	logger.CtxInfo(ctx, "Readiness check passed for %s, deploy enqueued by %s", projectID, triggeredBy)
	return result, nil
}

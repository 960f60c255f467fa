package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/generator"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// fakeCompleter emulates the external generation capability: valid
// artifacts by default, with per-call failures injected by call number
// (1-based). Every user prompt is recorded for assertions on what the
// capability was actually asked.
type fakeCompleter struct {
	calls   int
	prompts []string
	failOn  map[int]error
	answers func(systemPrompt, userPrompt string) string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if err, ok := f.failOn[f.calls]; ok {
		return "", err
	}
	return f.answers(systemPrompt, userPrompt), nil
}

// defaultAnswers satisfies every kind's contract by inspecting the
// prompt text the same way the real capability would.
func defaultAnswers(systemPrompt, userPrompt string) string {
	switch {
	case strings.Contains(userPrompt, "unit test") || strings.Contains(userPrompt, "integration test"):
		return "import pytest\n\n\ndef test_generated():\n    assert True\n"
	case strings.Contains(systemPrompt, "technical writer"):
		heading := "# generated"
		if i := strings.Index(userPrompt, `heading "`); i >= 0 {
			rest := userPrompt[i+len(`heading "`):]
			if j := strings.Index(rest, `"`); j >= 0 {
				heading = rest[:j]
			}
		}
		return heading + "\n\n## Endpoints\n\n## Usage\n\n## Deployment\n\ndocs\n"
	default:
		return "import logging\n\nlogging.getLogger(__name__)\n"
	}
}

// memBlobStore is an in-memory storage.BlobStore for tests.
type memBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: map[string][]byte{}}
}

func (m *memBlobStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

type pipeline struct {
	projects  *repository.ProjectRepository
	blobs     *memBlobStore
	broker    *queue.Broker
	completer *fakeCompleter
	notifier  *notify.Notifier
	qcfg      *config.QueueConfig

	projectSvc  *ProjectService
	templateSvc *TemplateService
	mods        *ModificationService
	readiness   *ReadinessService
	handlers    map[domain.Stage]StageHandler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	sq := config.StageQueueConfig{VisibilityTimeout: 30 * time.Second, MaxAttempts: 5, Workers: 1}
	qcfg := &config.QueueConfig{Plan: sq, Develop: sq, Verify: sq, Deploy: sq}
	broker, err := queue.NewBroker(db, qcfg)
	if err != nil {
		t.Fatalf("failed to create broker: %v", err)
	}

	store := repository.NewStateStore(db)
	blobs := newMemBlobStore()
	// Low inline ceiling so spill and hydration are exercised with
	// ordinary-sized fixtures.
	projects := repository.NewProjectRepository(store).WithBlobStore(blobs, 4096)
	completer := &fakeCompleter{answers: defaultAnswers, failOn: map[int]error{}}
	gen := generator.NewWithCompleter(completer, 0)
	notifier := notify.New(&config.NotifyConfig{})
	pcfg := &config.PipelineConfig{CoverageThreshold: 0.70, SecurityThreshold: 0.60}

	mods := NewModificationService(projects, broker, gen, notifier)
	p := &pipeline{
		projects:    projects,
		blobs:       blobs,
		broker:      broker,
		completer:   completer,
		notifier:    notifier,
		qcfg:        qcfg,
		projectSvc:  NewProjectService(projects, broker),
		templateSvc: NewTemplateService(repository.NewTemplateRepository(store), projects, broker),
		mods:        mods,
		readiness:   NewReadinessService(projects, broker, pcfg),
		handlers: map[domain.Stage]StageHandler{
			domain.StagePlan:    NewPlannerService(projects, broker, notifier),
			domain.StageDevelop: NewDeveloperService(projects, broker, gen, mods, notifier),
			domain.StageVerify:  NewQualityService(projects, notifier),
			domain.StageDeploy:  NewDeployerService(projects, gen, notifier),
		},
	}
	return p
}

// drain processes every queued message of a stage through its handler,
// acking on success the way the worker loop does.
func (p *pipeline) drain(t *testing.T, stage domain.Stage) int {
	t.Helper()
	processed := 0
	for {
		d, err := p.broker.Receive(context.Background(), stage)
		if errors.Is(err, queue.ErrNoMessage) {
			return processed
		}
		if err != nil {
			t.Fatalf("Receive on %s failed: %v", stage, err)
		}
		if err := p.handlers[stage].Handle(context.Background(), &d.Message); err != nil {
			t.Fatalf("%s handler failed on %s: %v", stage, d.Message.CorrelationID, err)
		}
		if err := p.broker.Ack(context.Background(), d); err != nil {
			t.Fatalf("Ack failed: %v", err)
		}
		processed++
	}
}

// TestPipelineEndToEnd runs a three-task API project through every
// stage: plan fan-out, development with tests, verification metrics,
// the explicit readiness gate, and deployment packaging.
func TestPipelineEndToEnd(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	project, err := p.projectSvc.Create(ctx, &CreateInput{
		Name:   "expense-tracker",
		Type:   domain.ProjectTypeAPI,
		Owner:  "alice",
		Intent: "an expense tracking API with categories",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.Status != domain.ProjectStatusCreated {
		t.Errorf("Expected created status, got %s", project.Status)
	}

	if n := p.drain(t, domain.StagePlan); n != 1 {
		t.Fatalf("Expected 1 plan message, processed %d", n)
	}

	planned, err := p.projects.Get(ctx, project.ID, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if planned.Status != domain.ProjectStatusInProgress {
		t.Errorf("Expected in_progress after planning, got %s", planned.Status)
	}
	if planned.TaskCount != 3 {
		t.Errorf("Expected 3 planned tasks, got %d", planned.TaskCount)
	}

	if n := p.drain(t, domain.StageDevelop); n != 3 {
		t.Fatalf("Expected 3 develop messages, processed %d", n)
	}

	files, err := p.projects.ListFiles(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 7 {
		t.Fatalf("Expected 3 source + 3 unit test + 1 integration test files, got %d", len(files))
	}
	byPath := map[string]domain.FileRecord{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	for _, want := range []string{"app.py", "models.py", "routes.py", "test_app.py", "test_models.py", "test_routes.py", "test_integration.py"} {
		if _, ok := byPath[want]; !ok {
			t.Errorf("Missing expected file %s", want)
		}
	}

	if n := p.drain(t, domain.StageVerify); n != 3 {
		t.Fatalf("Expected 3 verify messages, processed %d", n)
	}

	verified, err := p.projects.Get(ctx, project.ID, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// 4 test files over 3 sources pushes the estimate past the cap.
	if verified.Metrics.TestCoverage < 0.94 || verified.Metrics.TestCoverage > 0.96 {
		t.Errorf("Expected coverage capped at 0.95, got %.2f", verified.Metrics.TestCoverage)
	}

	// Verify never chains into deploy on its own.
	depth, err := p.broker.Depth(ctx, domain.StageDeploy)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Fatalf("Deploy queue not empty before readiness check: %d", depth)
	}

	result, err := p.readiness.Check(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Readiness check failed: %v", err)
	}
	if !result.Ready {
		t.Fatalf("Expected project to be ready, reasons: %v", result.Reasons)
	}

	if n := p.drain(t, domain.StageDeploy); n != 1 {
		t.Fatalf("Expected 1 deploy message, processed %d", n)
	}

	deployed, err := p.projects.Get(ctx, project.ID, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if deployed.Status != domain.ProjectStatusDeployed {
		t.Errorf("Expected deployed status, got %s", deployed.Status)
	}
	if deployed.LastDeployedAt == nil {
		t.Error("Expected LastDeployedAt to be set")
	}

	descriptor, err := p.projects.GetFile(ctx, project.ID, "deploy/package.json")
	if err != nil {
		t.Fatalf("Deployment descriptor missing: %v", err)
	}
	var pkg domain.DeploymentPackage
	if err := json.Unmarshal([]byte(descriptor.Content), &pkg); err != nil {
		t.Fatalf("Descriptor is not valid JSON: %v", err)
	}
	if pkg.Platform != "aws-ecs" {
		t.Errorf("Expected aws-ecs platform for api project, got %s", pkg.Platform)
	}
	if len(pkg.Files) != 10 {
		t.Errorf("Expected descriptor to reference 7 code files plus 3 docs, got %d", len(pkg.Files))
	}
	if _, err := p.projects.GetFile(ctx, project.ID, "deploy/DEPLOYMENT.md"); err != nil {
		t.Errorf("Deployment guide missing: %v", err)
	}

	readme, err := p.projects.GetFile(ctx, project.ID, "README.md")
	if err != nil {
		t.Fatalf("README missing: %v", err)
	}
	if !strings.Contains(readme.Content, "# expense-tracker") {
		t.Errorf("README lacks project heading: %q", readme.Content)
	}
	for _, doc := range []string{"docs/API.md", "docs/USER_GUIDE.md"} {
		if _, err := p.projects.GetFile(ctx, project.ID, doc); err != nil {
			t.Errorf("Documentation file %s missing: %v", doc, err)
		}
	}
}

// TestPipelineSurvivesGeneratorOutage injects a generation failure into
// one task and verifies the pipeline completes with a fallback artifact
// instead of failing the project.
func TestPipelineSurvivesGeneratorOutage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Develop makes two generator calls per task (source, then test),
	// plus one integration test on the final task. Call 3 is the second
	// task's source file.
	p.completer.failOn[3] = fmt.Errorf("request timed out: %w", generator.ErrTransient)

	project, err := p.projectSvc.Create(ctx, &CreateInput{
		Name: "notes-api", Type: domain.ProjectTypeAPI, Owner: "alice", Intent: "a notes API",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	p.drain(t, domain.StagePlan)
	if n := p.drain(t, domain.StageDevelop); n != 3 {
		t.Fatalf("Expected 3 develop messages, processed %d", n)
	}

	second, err := p.projects.GetFile(ctx, project.ID, "models.py")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if !second.Fallback {
		t.Error("Expected fallback flag on the failed task's source file")
	}
	if strings.TrimSpace(second.Content) == "" {
		t.Error("Fallback file must not be empty")
	}

	history, err := p.projects.History(ctx, project.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	sawFallback := false
	for _, e := range history {
		if e.Stage == string(domain.StageDevelop) && e.TaskID == "task-2" && e.Fallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("Expected history to record the fallback substitution")
	}

	// Verification still passes: fallback artifacts are contract-valid.
	if n := p.drain(t, domain.StageVerify); n != 3 {
		t.Fatalf("Expected 3 verify messages, processed %d", n)
	}
	verified, _ := p.projects.Get(ctx, project.ID, false)
	if verified.Status == domain.ProjectStatusFailed {
		t.Error("Generator outage must not fail the project")
	}
	if verified.Metrics.TestCoverage < 0.70 {
		t.Errorf("Expected coverage above threshold, got %.2f", verified.Metrics.TestCoverage)
	}
}

// TestReadinessGateBlocksLowCoverage verifies that the readiness check
// refuses to enqueue a deployment below threshold.
func TestReadinessGateBlocksLowCoverage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	project := &domain.Project{
		ID: "p1", Name: "thin", Type: domain.ProjectTypeAPI,
		Status: domain.ProjectStatusInProgress, Owner: "alice",
		Metrics:   domain.ProjectMetrics{TestCoverage: 0.30, SecurityScore: 0.9, PerformanceScore: 0.8},
		CreatedAt: time.Now().UTC(),
	}
	if err := p.projects.PutMetadata(ctx, project); err != nil {
		t.Fatalf("PutMetadata failed: %v", err)
	}

	result, err := p.readiness.Check(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Ready {
		t.Fatal("Expected readiness to fail at 30% coverage")
	}
	if len(result.Reasons) == 0 {
		t.Error("Expected failure reasons")
	}

	depth, err := p.broker.Depth(ctx, domain.StageDeploy)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Failing check must not enqueue deploy, depth %d", depth)
	}
}

// TestWorkerIdempotentRedelivery runs the same develop message through
// the worker loop twice and verifies the second delivery is dropped
// without duplicating any persisted effect.
func TestWorkerIdempotentRedelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	project, err := p.projectSvc.Create(ctx, &CreateInput{
		Name: "dup-check", Type: domain.ProjectTypeAPI, Owner: "alice", Intent: "an API",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	p.drain(t, domain.StagePlan)

	worker := NewStageWorker(p.broker, p.projects, p.notifier, p.handlers[domain.StageDevelop], p.qcfg)

	// First delivery does the work.
	d, err := p.broker.Receive(ctx, domain.StageDevelop)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	worker.process(ctx, d)

	filesAfterFirst, _ := p.projects.ListFiles(ctx, project.ID)
	historyAfterFirst, _ := p.projects.History(ctx, project.ID)
	verifyDepth, _ := p.broker.Depth(ctx, domain.StageVerify)

	// Simulate redelivery of the same message.
	if err := p.broker.Enqueue(ctx, domain.StageDevelop, &d.Message); err != nil {
		t.Fatalf("Re-enqueue failed: %v", err)
	}
	// Drain queued siblings so the redelivered copy is next; siblings
	// carry other correlation ids and do their own work.
	for {
		redelivered, err := p.broker.Receive(ctx, domain.StageDevelop)
		if errors.Is(err, queue.ErrNoMessage) {
			break
		}
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		worker.process(ctx, redelivered)
	}

	files, _ := p.projects.ListFiles(ctx, project.ID)
	if len(files) != len(filesAfterFirst)+5 {
		// 2 sibling tasks add 5 files (the last one also writes the
		// integration test); the redelivered task adds none.
		t.Errorf("Redelivery duplicated files: first %d, now %d", len(filesAfterFirst), len(files))
	}

	history, _ := p.projects.History(ctx, project.ID)
	if len(history) != len(historyAfterFirst)+2 {
		t.Errorf("Redelivery duplicated history: first %d, now %d", len(historyAfterFirst), len(history))
	}

	// Exactly one verify message per task despite the redelivery.
	depth, _ := p.broker.Depth(ctx, domain.StageVerify)
	if depth != verifyDepth+2 {
		t.Errorf("Redelivery duplicated verify messages: depth %d", depth)
	}
}

// failingHandler reports a fixed error for worker-classification tests.
type failingHandler struct {
	stage domain.Stage
	err   error
}

func (h *failingHandler) Stage() domain.Stage { return h.stage }
func (h *failingHandler) Handle(ctx context.Context, msg *domain.StageMessage) error {
	return h.err
}

// TestWorkerClassifiesErrors verifies the three worker outcomes: state
// conflicts are acked and dropped, unrecoverable failures dead-letter
// the message and fail the project, transient failures stay queued.
func TestWorkerClassifiesErrors(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		wantDepth      int64
		wantDeadLetter int
		wantFailed     bool
	}{
		{"state conflict acked", fmt.Errorf("done already: %w", ErrStateConflict), 0, 0, false},
		{"unrecoverable dead-lettered", Unrecoverable(errors.New("malformed payload")), 0, 1, true},
		{"transient left queued", errors.New("database briefly unavailable"), 1, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t)
			ctx := context.Background()

			project := &domain.Project{
				ID: "p1", Name: "classify", Type: domain.ProjectTypeAPI,
				Status: domain.ProjectStatusInProgress, Owner: "alice", CreatedAt: time.Now().UTC(),
			}
			if err := p.projects.PutMetadata(ctx, project); err != nil {
				t.Fatalf("PutMetadata failed: %v", err)
			}

			handler := &failingHandler{stage: domain.StageVerify, err: tc.err}
			worker := NewStageWorker(p.broker, p.projects, p.notifier, handler, p.qcfg)

			if err := p.broker.EnqueuePayload(ctx, domain.StageVerify, "verify_task", "p1", "p1#verify#task-1", nil); err != nil {
				t.Fatalf("EnqueuePayload failed: %v", err)
			}
			d, err := p.broker.Receive(ctx, domain.StageVerify)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			worker.process(ctx, d)

			depth, _ := p.broker.Depth(ctx, domain.StageVerify)
			if depth != tc.wantDepth {
				t.Errorf("Queue depth: got %d, want %d", depth, tc.wantDepth)
			}

			letters, _ := p.broker.DeadLetters(ctx, domain.StageVerify)
			if len(letters) != tc.wantDeadLetter {
				t.Errorf("Dead letters: got %d, want %d", len(letters), tc.wantDeadLetter)
			}

			got, _ := p.projects.Get(ctx, "p1", false)
			if tc.wantFailed && got.Status != domain.ProjectStatusFailed {
				t.Errorf("Expected project failed, got %s", got.Status)
			}
			if !tc.wantFailed && got.Status == domain.ProjectStatusFailed {
				t.Error("Project must not be failed")
			}
		})
	}
}

// TestWorkerDropsOutputForArchivedProject verifies the status gate: an
// in-flight message for an archived project is acknowledged and dropped.
func TestWorkerDropsOutputForArchivedProject(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	project, err := p.projectSvc.Create(ctx, &CreateInput{
		Name: "late-cancel", Type: domain.ProjectTypeAPI, Owner: "alice", Intent: "an API",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	p.drain(t, domain.StagePlan)

	if err := p.projectSvc.Archive(ctx, project.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	worker := NewStageWorker(p.broker, p.projects, p.notifier, p.handlers[domain.StageDevelop], p.qcfg)
	for {
		d, err := p.broker.Receive(ctx, domain.StageDevelop)
		if errors.Is(err, queue.ErrNoMessage) {
			break
		}
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		worker.process(ctx, d)
	}

	files, err := p.projects.ListFiles(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Archived project gained %d files from in-flight messages", len(files))
	}
	depth, _ := p.broker.Depth(ctx, domain.StageDevelop)
	if depth != 0 {
		t.Errorf("Dropped messages must be acked, depth %d", depth)
	}
}

package domain

import "time"

// ProjectType classifies what kind of system a project builds.
type ProjectType string

const (
	ProjectTypeAPI           ProjectType = "api"
	ProjectTypeWebApp        ProjectType = "web_app"
	ProjectTypeMobileBackend ProjectType = "mobile_backend"
	ProjectTypeDataPipeline  ProjectType = "data_pipeline"
	ProjectTypeMicroservice  ProjectType = "microservice"
)

// ValidProjectType reports whether t is a known project type.
func ValidProjectType(t ProjectType) bool {
	switch t {
	case ProjectTypeAPI, ProjectTypeWebApp, ProjectTypeMobileBackend,
		ProjectTypeDataPipeline, ProjectTypeMicroservice:
		return true
	}
	return false
}

// ProjectStatus represents the lifecycle state of a project.
// Transitions are monotonic: created -> in_progress -> deployed.
// failed and archived are reachable from any non-terminal state;
// going back requires an explicit administrative reopen.
type ProjectStatus string

const (
	ProjectStatusCreated    ProjectStatus = "created"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusDeployed   ProjectStatus = "deployed"
	ProjectStatusArchived   ProjectStatus = "archived"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// AcceptsStageOutput reports whether a project in this status still accepts
// pipeline stage results. Workers check this before committing expensive work.
func (s ProjectStatus) AcceptsStageOutput() bool {
	switch s {
	case ProjectStatusCreated, ProjectStatusInProgress, ProjectStatusDeployed:
		return true
	}
	return false
}

// ProjectMetrics holds the quality scores written by the verify stage.
// All scores are in [0, 1].
type ProjectMetrics struct {
	TestCoverage     float64 `json:"test_coverage"`
	SecurityScore    float64 `json:"security_score"`
	PerformanceScore float64 `json:"performance_score"`
}

// Project is the root aggregate of the pipeline. The metadata record is
// updated in place; codebase files and history entries are separate
// append-only items in the state store.
type Project struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             ProjectType       `json:"type"`
	Status           ProjectStatus     `json:"status"`
	Owner            string            `json:"owner"`
	Codebase         map[string]string `json:"codebase,omitempty"`
	Dependencies     []string          `json:"dependencies,omitempty"`
	EnvVars          map[string]string `json:"env_vars,omitempty"`
	DeploymentConfig map[string]string `json:"deployment_config,omitempty"`
	Metrics          ProjectMetrics    `json:"metrics"`
	TaskCount        int               `json:"task_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastDeployedAt   *time.Time        `json:"last_deployed_at,omitempty"`
}

// HistoryEntry records one pipeline event for a project. Entries are
// append-only and keyed by sequence in the state store.
type HistoryEntry struct {
	Seq        int       `json:"seq"`
	Stage      string    `json:"stage"`
	TaskID     string    `json:"task_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FileRecord is one codebase file as persisted in the state store.
// Content is inline unless the payload exceeded the per-item size
// ceiling, in which case BlobKey points into the blob store instead.
type FileRecord struct {
	Path      string    `json:"path"`
	Content   string    `json:"content,omitempty"`
	BlobKey   string    `json:"blob_key,omitempty"`
	Size      int       `json:"size"`
	Language  string    `json:"language,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is one unit of development work produced by the planner.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	TargetFile  string `json:"target_file"`
	Language    string `json:"language"`
	Order       int    `json:"order"`
}

// DeploymentPackage is the descriptor emitted by the deploy stage.
type DeploymentPackage struct {
	ProjectID    string            `json:"project_id"`
	Platform     string            `json:"platform"`
	Files        []string          `json:"files"`
	Instructions []string          `json:"instructions"`
	Config       map[string]string `json:"config,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

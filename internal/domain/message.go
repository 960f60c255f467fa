package domain

import (
	"encoding/json"
	"time"
)

// Stage names one phase of the pipeline.
type Stage string

const (
	StagePlan    Stage = "plan"
	StageDevelop Stage = "develop"
	StageVerify  Stage = "verify"
	StageDeploy  Stage = "deploy"
)

// Stages lists the pipeline stages in order.
var Stages = []Stage{StagePlan, StageDevelop, StageVerify, StageDeploy}

// StageMessage is the unit of work exchanged through the task queue
// broker. It is ephemeral: it exists only inside the broker and its
// dead-letter sink.
type StageMessage struct {
	Action        string          `json:"action"`
	ProjectID     string          `json:"project_id"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// CorrelationID builds the stable idempotency key for a stage message.
// Redelivered messages carry the same key, letting workers detect
// already-persisted effects.
func CorrelationID(projectID string, stage Stage, taskID string) string {
	if taskID == "" {
		return projectID + "#" + string(stage)
	}
	return projectID + "#" + string(stage) + "#" + taskID
}

// PlanPayload is the payload of a plan-stage message.
type PlanPayload struct {
	Intent string `json:"intent"`
}

// DevelopPayload is the payload of a develop-stage message. Exactly one
// of Task or ModificationID is set: fresh task development, or applying
// an approved modification.
type DevelopPayload struct {
	Task           *Task  `json:"task,omitempty"`
	ModificationID string `json:"modification_id,omitempty"`
}

// VerifyPayload is the payload of a verify-stage message.
type VerifyPayload struct {
	TaskID string `json:"task_id,omitempty"`
}

// DeployPayload is the payload of a deploy-stage message.
type DeployPayload struct {
	TriggeredBy string `json:"triggered_by"`
}

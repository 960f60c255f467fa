package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldProjectID is the project being processed
	FieldProjectID = "project_id"

	// FieldStage is the pipeline stage (plan, develop, verify, deploy)
	FieldStage = "stage"

	// FieldCorrelationID is the idempotency key of a stage message
	FieldCorrelationID = "correlation_id"

	// FieldModificationID is the modification request being processed
	FieldModificationID = "modification_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldAttempts is the delivery attempt count of a queue message
	FieldAttempts = "attempts"
)

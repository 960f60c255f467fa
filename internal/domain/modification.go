package domain

import "time"

// ModificationStatus represents the state of a change request.
//
// Reachable transitions:
//
//	pending  -> approved | rejected
//	approved -> applied  | failed
//
// rejected, applied and failed are terminal. There is no automatic
// return to pending and no silent retry after a failed apply.
type ModificationStatus string

const (
	ModificationStatusPending  ModificationStatus = "pending"
	ModificationStatusApproved ModificationStatus = "approved"
	ModificationStatusApplied  ModificationStatus = "applied"
	ModificationStatusFailed   ModificationStatus = "failed"
	ModificationStatusRejected ModificationStatus = "rejected"
)

// CanTransition reports whether moving from s to next is an allowed
// modification transition.
func (s ModificationStatus) CanTransition(next ModificationStatus) bool {
	switch s {
	case ModificationStatusPending:
		return next == ModificationStatusApproved || next == ModificationStatusRejected
	case ModificationStatusApproved:
		return next == ModificationStatusApplied || next == ModificationStatusFailed
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ModificationStatus) Terminal() bool {
	switch s {
	case ModificationStatusRejected, ModificationStatusApplied, ModificationStatusFailed:
		return true
	}
	return false
}

// Modification is a change request against an existing project. The
// impact analysis and affected-files snapshot are computed once at
// request time and never implicitly refreshed.
type Modification struct {
	ID             string             `json:"id"`
	ProjectID      string             `json:"project_id"`
	Request        string             `json:"request"`
	RequestedBy    string             `json:"requested_by"`
	RequestedAt    time.Time          `json:"requested_at"`
	ImpactAnalysis map[string]string  `json:"impact_analysis,omitempty"`
	AffectedFiles  []string           `json:"affected_files,omitempty"`
	Status         ModificationStatus `json:"status"`
	DecidedBy      string             `json:"decided_by,omitempty"`
	DecidedAt      *time.Time         `json:"decided_at,omitempty"`
	AppliedAt      *time.Time         `json:"applied_at,omitempty"`
	ModifiedFiles  map[string]string  `json:"modified_files,omitempty"`
	TestResults    map[string]string  `json:"test_results,omitempty"`
	FailureReason  string             `json:"failure_reason,omitempty"`
}

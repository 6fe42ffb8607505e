package models

import (
	"time"

	"github.com/google/uuid"
)

// EscalationReason explains why a task was handed to a human. The two
// classification values are advisory metadata from the failure-pattern
// analysis; they never change which resolutions are offered.
type EscalationReason string

const (
	// EscalationReasonRepeatedSameFailure means every exhausting attempt
	// failed for the same normalized reason: a true deadlock between
	// producer and validator.
	EscalationReasonRepeatedSameFailure EscalationReason = "repeated_same_failure"
	// EscalationReasonDivergentFailure means the attempts failed for
	// different reasons, suggesting unclear criteria rather than agent
	// incompetence.
	EscalationReasonDivergentFailure EscalationReason = "divergent_failure"
	// EscalationReasonTimeout is reserved for operator tooling that
	// escalates a deadline expiry instead of failing it.
	EscalationReasonTimeout EscalationReason = "timeout"
	// EscalationReasonAgentUnavailable is reserved for operator tooling
	// that escalates a liveness failure instead of failing it.
	EscalationReasonAgentUnavailable EscalationReason = "agent_unavailable"
)

// Valid returns true if the reason is a known value.
func (r EscalationReason) Valid() bool {
	switch r {
	case EscalationReasonRepeatedSameFailure, EscalationReasonDivergentFailure,
		EscalationReasonTimeout, EscalationReasonAgentUnavailable:
		return true
	default:
		return false
	}
}

// EscalationStatus is the lifecycle of an escalation record.
type EscalationStatus string

const (
	// EscalationStatusOpen means the escalation awaits a human.
	EscalationStatusOpen EscalationStatus = "open"
	// EscalationStatusResolved means a resolution was applied. Final.
	EscalationStatusResolved EscalationStatus = "resolved"
)

// Resolution is the human's decision for an escalated task.
type Resolution string

const (
	// ResolutionRetryReset sends the task back to its producer with a fresh
	// retry budget.
	ResolutionRetryReset Resolution = "retry_reset"
	// ResolutionForceAccept completes the task despite the failed validations.
	ResolutionForceAccept Resolution = "force_accept"
	// ResolutionAbort fails the task permanently.
	ResolutionAbort Resolution = "abort"
)

// Valid returns true if the resolution is a known value.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRetryReset, ResolutionForceAccept, ResolutionAbort:
		return true
	default:
		return false
	}
}

// TargetState maps a resolution to the task state it produces.
func (r Resolution) TargetState() TaskState {
	switch r {
	case ResolutionRetryReset:
		return TaskStateInProgress
	case ResolutionForceAccept:
		return TaskStateCompleted
	default:
		return TaskStateFailed
	}
}

// EscalationContext snapshots everything a human or a retry-reset needs:
// the attempt history at escalation time plus the owner and validator so the
// task can resume with the same pairing.
type EscalationContext struct {
	// Attempts is a copy of the task's attempt history at escalation time.
	Attempts []ValidationAttempt `json:"attempts"`
	// OwnerAgentID is the producer that owned the task when it escalated.
	OwnerAgentID string `json:"owner_agent_id,omitempty"`
	// ValidatorID is the validator that rejected the final attempt.
	ValidatorID string `json:"validator_id,omitempty"`
}

// Escalation is the record and workflow raised when a task cannot converge
// automatically. At most one open escalation exists per task; opening a
// second requires the first to be resolved.
type Escalation struct {
	// ID is the unique identifier for this escalation.
	ID string `json:"id"`
	// TaskID is the escalated task.
	TaskID string `json:"task_id"`
	// Reason classifies the failure pattern.
	Reason EscalationReason `json:"reason"`
	// RejectionCount is how many attempts were rejected before escalation.
	RejectionCount int `json:"rejection_count"`
	// Context is the evidence snapshot backing the request.
	Context EscalationContext `json:"context"`
	// Status is open until a resolution is applied, then resolved. A record
	// moves open to resolved exactly once.
	Status EscalationStatus `json:"status"`
	// Resolution is the applied decision; empty while open.
	Resolution Resolution `json:"resolution,omitempty"`
	// Note is the operator's free-form explanation, if any.
	Note string `json:"note,omitempty"`
	// CreatedAt is when the escalation was opened.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is when the resolution was applied.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewEscalationID returns a short unique escalation id.
func NewEscalationID() string {
	return "esc-" + uuid.New().String()[:8]
}

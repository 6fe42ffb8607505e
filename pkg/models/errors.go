package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by registry lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// DeliveryError indicates the bus could not accept a message. Callers retry
// with backoff; a delivery error is never silently dropped.
type DeliveryError struct {
	// Op is the bus operation that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a transition's expected state does not match
// the task's current state. The caller re-reads and either retries or treats
// the operation as stale.
type ConflictError struct {
	// TaskID is the task whose transition was rejected.
	TaskID string
	// Expected is the state the caller assumed.
	Expected TaskState
	// Actual is the state found at application time.
	Actual TaskState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %s: expected state %s, found %s", e.TaskID, e.Expected, e.Actual)
}

// ValidationFailure is the expected domain-level rejection that drives the
// retry loop. It is data, not an exceptional path.
type ValidationFailure struct {
	// TaskID is the rejected task.
	TaskID string
	// AttemptNumber is the rejected attempt.
	AttemptNumber int
	// Feedback is the validator's explanation.
	Feedback string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("task %s attempt %d rejected: %s", e.TaskID, e.AttemptNumber, e.Feedback)
}

// AgentUnavailable indicates a liveness timeout: the task's agent stopped
// reporting. Fatal for the task; never retried automatically.
type AgentUnavailable struct {
	// TaskID is the task that lost its agent.
	TaskID string
	// AgentID is the unresponsive agent.
	AgentID string
	// Reason describes which deadline expired.
	Reason string
}

func (e *AgentUnavailable) Error() string {
	return fmt.Sprintf("agent %s unavailable for task %s: %s", e.AgentID, e.TaskID, e.Reason)
}

// DeadlockDetected is the derived condition behind a repeated_same_failure
// classification: retries exhausted with one recurring reason. Always
// escalated, never silently failed.
type DeadlockDetected struct {
	// TaskID is the deadlocked task.
	TaskID string
	// Feedback is the recurring normalized failure reason.
	Feedback string
	// Rejections is how many attempts shared the reason.
	Rejections int
}

func (e *DeadlockDetected) Error() string {
	return fmt.Sprintf("task %s deadlocked: %d rejections for %q", e.TaskID, e.Rejections, e.Feedback)
}

// AlreadyResolvedError indicates a second resolution attempt against a
// non-open escalation. Surfaced to the caller, never retried; the record is
// left unchanged.
type AlreadyResolvedError struct {
	// TaskID is the task whose escalation was already resolved.
	TaskID string
	// EscalationID is the record in question.
	EscalationID string
	// Resolution is the decision already applied.
	Resolution Resolution
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("escalation %s for task %s already resolved (%s)", e.EscalationID, e.TaskID, e.Resolution)
}

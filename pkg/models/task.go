package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task exists but has no agent yet.
	TaskStatePending TaskState = "pending"
	// TaskStateAssigned indicates an agent was selected but has not started.
	TaskStateAssigned TaskState = "assigned"
	// TaskStateInProgress indicates the owning agent is producing work.
	TaskStateInProgress TaskState = "in_progress"
	// TaskStateValidating indicates an artifact was submitted and awaits a verdict.
	TaskStateValidating TaskState = "validating"
	// TaskStateEscalated indicates retries are exhausted and a human must decide.
	TaskStateEscalated TaskState = "escalated"
	// TaskStateCompleted indicates the artifact was accepted.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed indicates the task ended without an accepted artifact.
	TaskStateFailed TaskState = "failed"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateAssigned, TaskStateInProgress,
		TaskStateValidating, TaskStateEscalated, TaskStateCompleted, TaskStateFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// HoldsOwner returns true for the states in which a task may carry an owner.
// Outside these states owner_agent_id must be empty.
func (s TaskState) HoldsOwner() bool {
	switch s {
	case TaskStateAssigned, TaskStateInProgress, TaskStateValidating:
		return true
	default:
		return false
	}
}

// taskTransitions lists the permitted moves out of each non-terminal state.
// The assigned self-edge and the in_progress->assigned edge are the
// reassignment path taken after an error report.
var taskTransitions = map[TaskState][]TaskState{
	TaskStatePending:    {TaskStateAssigned},
	TaskStateAssigned:   {TaskStateAssigned, TaskStateInProgress},
	TaskStateInProgress: {TaskStateAssigned, TaskStateValidating},
	TaskStateValidating: {TaskStateCompleted, TaskStateInProgress, TaskStateEscalated},
	TaskStateEscalated:  {TaskStateInProgress, TaskStateCompleted, TaskStateFailed},
}

// CanTransitionTo reports whether the state machine permits moving to next.
// Every non-terminal state may move to failed; cancellation and liveness
// timeouts use that edge.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskStateFailed {
		return true
	}
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Verdict is the outcome of a single validation attempt.
type Verdict string

const (
	// VerdictPass indicates the artifact met the criteria.
	VerdictPass Verdict = "pass"
	// VerdictFail indicates the artifact was rejected.
	VerdictFail Verdict = "fail"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictFail
}

// ValidationAttempt is one row of a task's append-only attempt history.
// Attempts are never edited or removed.
type ValidationAttempt struct {
	// AttemptNumber is 1-indexed and equals retry_count+1 at creation time.
	// After a retry-reset resolution the numbering restarts at 1, so numbers
	// may repeat across escalation episodes.
	AttemptNumber int `json:"attempt_number"`
	// ValidatorID is the agent that produced the verdict.
	ValidatorID string `json:"validator_id"`
	// Result is the verdict for this attempt.
	Result Verdict `json:"result"`
	// Feedback is free-form rejection detail, consumed by the next attempt.
	Feedback string `json:"feedback,omitempty"`
	// Timestamp is when the verdict was applied.
	Timestamp time.Time `json:"timestamp"`
}

// ValidationOutcome is a validator's judgment, free of task-state side
// effects; the validation loop applies it through the registry.
type ValidationOutcome struct {
	// Result is the verdict.
	Result Verdict `json:"result"`
	// Feedback explains a failing verdict.
	Feedback string `json:"feedback,omitempty"`
}

// DefaultMaxRetries bounds the validation loop when a task does not set its
// own budget.
const DefaultMaxRetries = 3

// Task is a unit of work tracked end to end.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ComponentID names the component the work belongs to.
	ComponentID string `json:"component_id"`
	// Class selects the timeout profile for this task.
	Class string `json:"class,omitempty"`
	// Requires lists the capabilities an agent must declare to take the task.
	Requires []string `json:"requires,omitempty"`
	// Input is the original instruction given to the producer.
	Input string `json:"input,omitempty"`
	// Criteria is what the validator judges the artifact against.
	Criteria string `json:"criteria,omitempty"`
	// OwnerAgentID is the producer currently responsible for the task.
	// Set only while state is assigned, in_progress or validating.
	OwnerAgentID string `json:"owner_agent_id,omitempty"`
	// ValidatorID is the designated validator, chosen at assignment time.
	ValidatorID string `json:"validator_id,omitempty"`
	// State is the current lifecycle state.
	State TaskState `json:"state"`
	// RetryCount is how many validation failures have been absorbed in the
	// current episode. Never exceeds MaxRetries while the task is live.
	RetryCount int `json:"retry_count"`
	// MaxRetries is the retry budget before escalation.
	MaxRetries int `json:"max_retries"`
	// Attempts is the append-only validation attempt history.
	Attempts []ValidationAttempt `json:"attempt_history,omitempty"`
	// FailureReason is the human-readable reason when state is failed.
	FailureReason string `json:"failure_reason,omitempty"`
	// Version increments on every applied transition; the optimistic
	// concurrency token persisted alongside the state.
	Version int64 `json:"version"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last transitioned.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTaskID returns a short unique task id.
func NewTaskID() string {
	return "task-" + uuid.New().String()[:8]
}

// ExpectedAttempt is the attempt number the task is currently on. Validation
// results carrying any other number are stale.
func (t *Task) ExpectedAttempt() int {
	return t.RetryCount + 1
}

// Clone returns a deep copy. Registry reads hand out clones so callers can
// never alias authoritative state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Requires != nil {
		c.Requires = append([]string(nil), t.Requires...)
	}
	if t.Attempts != nil {
		c.Attempts = append([]ValidationAttempt(nil), t.Attempts...)
	}
	return &c
}

// PipelineSummary is the engine's aggregate view of all tasks.
type PipelineSummary struct {
	// Total is the number of tracked tasks.
	Total int `json:"total"`
	// ByState counts tasks per lifecycle state.
	ByState map[TaskState]int `json:"by_state"`
	// OpenEscalations counts escalations awaiting a human.
	OpenEscalations int `json:"open_escalations"`
}

// Done returns true once every task is terminal.
func (p *PipelineSummary) Done() bool {
	if p.Total == 0 {
		return false
	}
	return p.ByState[TaskStateCompleted]+p.ByState[TaskStateFailed] == p.Total
}

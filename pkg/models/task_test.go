package models

import (
	"testing"
	"time"
)

func TestTaskState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state TaskState
		want  bool
	}{
		{"pending is valid", TaskStatePending, true},
		{"assigned is valid", TaskStateAssigned, true},
		{"in_progress is valid", TaskStateInProgress, true},
		{"validating is valid", TaskStateValidating, true},
		{"escalated is valid", TaskStateEscalated, true},
		{"completed is valid", TaskStateCompleted, true},
		{"failed is valid", TaskStateFailed, true},
		{"empty string is invalid", TaskState(""), false},
		{"unknown state is invalid", TaskState("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("TaskState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestTaskState_Terminal(t *testing.T) {
	terminals := []TaskState{TaskStateCompleted, TaskStateFailed}
	for _, s := range terminals {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}

	live := []TaskState{TaskStatePending, TaskStateAssigned, TaskStateInProgress,
		TaskStateValidating, TaskStateEscalated}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestTaskState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from TaskState
		to   TaskState
		want bool
	}{
		{"pending to assigned", TaskStatePending, TaskStateAssigned, true},
		{"assigned to in_progress", TaskStateAssigned, TaskStateInProgress, true},
		{"assigned reassign", TaskStateAssigned, TaskStateAssigned, true},
		{"in_progress to validating", TaskStateInProgress, TaskStateValidating, true},
		{"in_progress reassign", TaskStateInProgress, TaskStateAssigned, true},
		{"validating pass", TaskStateValidating, TaskStateCompleted, true},
		{"validating fail with retries", TaskStateValidating, TaskStateInProgress, true},
		{"validating exhausted", TaskStateValidating, TaskStateEscalated, true},
		{"escalated retry reset", TaskStateEscalated, TaskStateInProgress, true},
		{"escalated force accept", TaskStateEscalated, TaskStateCompleted, true},
		{"escalated abort", TaskStateEscalated, TaskStateFailed, true},
		{"any non-terminal to failed", TaskStatePending, TaskStateFailed, true},
		{"validating to failed on timeout", TaskStateValidating, TaskStateFailed, true},
		{"pending cannot skip to in_progress", TaskStatePending, TaskStateInProgress, false},
		{"pending cannot complete", TaskStatePending, TaskStateCompleted, false},
		{"assigned cannot validate", TaskStateAssigned, TaskStateValidating, false},
		{"completed is final", TaskStateCompleted, TaskStateFailed, false},
		{"failed is final", TaskStateFailed, TaskStateInProgress, false},
		{"completed cannot reopen", TaskStateCompleted, TaskStateInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTaskState_HoldsOwner(t *testing.T) {
	owning := []TaskState{TaskStateAssigned, TaskStateInProgress, TaskStateValidating}
	for _, s := range owning {
		if !s.HoldsOwner() {
			t.Errorf("%s.HoldsOwner() = false, want true", s)
		}
	}

	bare := []TaskState{TaskStatePending, TaskStateEscalated, TaskStateCompleted, TaskStateFailed}
	for _, s := range bare {
		if s.HoldsOwner() {
			t.Errorf("%s.HoldsOwner() = true, want false", s)
		}
	}
}

func TestTask_ExpectedAttempt(t *testing.T) {
	task := Task{RetryCount: 0}
	if got := task.ExpectedAttempt(); got != 1 {
		t.Errorf("ExpectedAttempt() with retry_count 0 = %d, want 1", got)
	}

	task.RetryCount = 2
	if got := task.ExpectedAttempt(); got != 3 {
		t.Errorf("ExpectedAttempt() with retry_count 2 = %d, want 3", got)
	}
}

func TestTask_Clone(t *testing.T) {
	orig := &Task{
		ID:         "task-1",
		Requires:   []string{"golang"},
		State:      TaskStateValidating,
		RetryCount: 1,
		MaxRetries: 3,
		Attempts: []ValidationAttempt{
			{AttemptNumber: 1, ValidatorID: "val-1", Result: VerdictFail, Feedback: "missing tests", Timestamp: time.Now()},
		},
	}

	clone := orig.Clone()
	clone.State = TaskStateCompleted
	clone.Requires[0] = "rust"
	clone.Attempts[0].Feedback = "edited"
	clone.Attempts = append(clone.Attempts, ValidationAttempt{AttemptNumber: 2})

	if orig.State != TaskStateValidating {
		t.Errorf("clone mutation leaked into original state: %s", orig.State)
	}
	if orig.Requires[0] != "golang" {
		t.Errorf("clone mutation leaked into original requires: %v", orig.Requires)
	}
	if orig.Attempts[0].Feedback != "missing tests" {
		t.Errorf("clone mutation leaked into original attempts: %q", orig.Attempts[0].Feedback)
	}
	if len(orig.Attempts) != 1 {
		t.Errorf("clone append grew original history: %d entries", len(orig.Attempts))
	}
}

func TestNewTaskID(t *testing.T) {
	a := NewTaskID()
	b := NewTaskID()

	if a == b {
		t.Errorf("NewTaskID() returned duplicate ids: %s", a)
	}
	if len(a) != len("task-")+8 {
		t.Errorf("NewTaskID() = %q, want task- prefix plus 8 chars", a)
	}
}

func TestPipelineSummary_Done(t *testing.T) {
	tests := []struct {
		name    string
		summary PipelineSummary
		want    bool
	}{
		{"empty pipeline is not done", PipelineSummary{}, false},
		{
			"all terminal",
			PipelineSummary{Total: 3, ByState: map[TaskState]int{
				TaskStateCompleted: 2,
				TaskStateFailed:    1,
			}},
			true,
		},
		{
			"one task still validating",
			PipelineSummary{Total: 3, ByState: map[TaskState]int{
				TaskStateCompleted:  2,
				TaskStateValidating: 1,
			}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.summary.Done(); got != tt.want {
				t.Errorf("Done() = %v, want %v", got, tt.want)
			}
		})
	}
}

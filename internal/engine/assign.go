package engine

import (
	"fmt"

	"github.com/crewline/arbiter/pkg/models"
)

// sweep assigns every PENDING task it can. Tasks with no eligible producer
// or no available validator stay PENDING for the next sweep.
func (e *Engine) sweep() {
	pending := models.TaskStatePending
	tasks := e.reg.List(&pending)
	if len(tasks) == 0 {
		return
	}
	e.debug.Log("[engine] sweep: %d pending tasks", len(tasks))
	for _, task := range tasks {
		e.tryAssign(task)
	}
}

// tryAssign picks the least-loaded producer whose capabilities cover the
// task and a validator other than the owner, then publishes the assignment.
func (e *Engine) tryAssign(task *models.Task) {
	producers := e.roster.Match(models.RoleProducer, task.Requires)
	if len(producers) == 0 {
		e.debug.Log("[engine] task %s: no producer declares %v", task.ID, task.Requires)
		return
	}
	owner := producers[0]

	validators := e.roster.Match(models.RoleValidator, nil, owner.ID())
	if len(validators) == 0 {
		e.debug.Log("[engine] task %s: no validator available besides %s", task.ID, owner.ID())
		return
	}
	validator := validators[0]

	updated, err := e.reg.Transition(task.ID, models.TaskStatePending, models.TaskStateAssigned, func(t *models.Task) error {
		t.OwnerAgentID = owner.ID()
		t.ValidatorID = validator.ID()
		return nil
	})
	if err != nil {
		e.dropOrLog(task.ID, "assign", err)
		return
	}

	e.touch(updated.ID)
	e.sendAssignment(updated)
	e.emit(Event{
		Type:        EventTaskAssigned,
		TaskID:      updated.ID,
		ComponentID: updated.ComponentID,
		AgentID:     owner.ID(),
		Message:     fmt.Sprintf("validator %s", validator.ID()),
	})
	e.debug.Log("[engine] task %s assigned to %s (validator %s)", updated.ID, owner.ID(), validator.ID())
}

// onErrorReport applies the agent-failure policy: one reassignment to a
// different capable producer while the task is ASSIGNED or IN_PROGRESS,
// otherwise a terminal failure. A validator failure always fails the task;
// there is no edge back out of VALIDATING short of a verdict.
func (e *Engine) onErrorReport(msg *models.Message, payload *models.ErrorReportPayload) {
	task, err := e.reg.Get(msg.TaskID)
	if err != nil {
		e.debug.Log("[engine] error report for unknown task %s dropped", msg.TaskID)
		return
	}
	e.debug.Log("[engine] task %s: agent %s reported failure: %s", task.ID, payload.AgentID, payload.Reason)

	switch task.State {
	case models.TaskStateAssigned, models.TaskStateInProgress:
		if e.spentReassignment(task.ID) {
			e.failTask(task, &models.AgentUnavailable{
				TaskID:  task.ID,
				AgentID: payload.AgentID,
				Reason:  fmt.Sprintf("replacement agent also failed: %s", payload.Reason),
			})
			return
		}
		e.reassign(task, payload)
	case models.TaskStateValidating:
		e.failTask(task, &models.AgentUnavailable{
			TaskID:  task.ID,
			AgentID: payload.AgentID,
			Reason:  fmt.Sprintf("validator failed: %s", payload.Reason),
		})
	default:
		// Terminal, pending or escalated: the report changes nothing.
	}
}

// reassign hands the task to a different capable producer. With nobody left
// to take it, the task fails.
func (e *Engine) reassign(task *models.Task, payload *models.ErrorReportPayload) {
	replacements := e.roster.Match(models.RoleProducer, task.Requires, task.OwnerAgentID, payload.AgentID)
	if len(replacements) == 0 {
		e.failTask(task, &models.AgentUnavailable{
			TaskID:  task.ID,
			AgentID: payload.AgentID,
			Reason:  fmt.Sprintf("no replacement producer after failure: %s", payload.Reason),
		})
		return
	}
	replacement := replacements[0]

	updated, err := e.reg.Transition(task.ID, task.State, models.TaskStateAssigned, func(t *models.Task) error {
		t.OwnerAgentID = replacement.ID()
		return nil
	})
	if err != nil {
		e.dropOrLog(task.ID, "reassign", err)
		return
	}
	e.markReassigned(task.ID)
	e.touch(updated.ID)
	e.sendAssignment(updated)
	e.emit(Event{
		Type:        EventTaskReassigned,
		TaskID:      updated.ID,
		ComponentID: updated.ComponentID,
		AgentID:     replacement.ID(),
		Message:     fmt.Sprintf("replacing %s: %s", payload.AgentID, payload.Reason),
	})
	e.debug.Log("[engine] task %s reassigned from %s to %s", updated.ID, payload.AgentID, replacement.ID())
}

// sendAssignment publishes the task's current assignment to its owner.
func (e *Engine) sendAssignment(task *models.Task) {
	assignment := models.NewMessage(EngineID, models.RoleEngine, task.ID, &models.AssignmentPayload{
		ComponentID:   task.ComponentID,
		Input:         buildInput(task),
		Criteria:      task.Criteria,
		AttemptNumber: task.ExpectedAttempt(),
	})
	assignment.RecipientID = task.OwnerAgentID
	e.publish(assignment)
}

// failTask moves a task to FAILED with the given cause. A conflicting
// transition wins the race; the failure is then stale and dropped.
func (e *Engine) failTask(task *models.Task, cause *models.AgentUnavailable) {
	_, err := e.reg.Transition(task.ID, task.State, models.TaskStateFailed, func(t *models.Task) error {
		t.FailureReason = cause.Error()
		return nil
	})
	if err != nil {
		e.dropOrLog(task.ID, "fail", err)
		return
	}
	e.clearTracking(task.ID)
	e.emit(Event{
		Type:        EventTaskFailed,
		TaskID:      task.ID,
		ComponentID: task.ComponentID,
		AgentID:     cause.AgentID,
		Message:     cause.Reason,
		Err:         cause,
	})
	e.debug.Log("[engine] task %s failed: %s", task.ID, cause.Error())
}

// spentReassignment reports whether the task already used its one
// reassignment.
func (e *Engine) spentReassignment(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reassigned[taskID]
}

func (e *Engine) markReassigned(taskID string) {
	e.mu.Lock()
	e.reassigned[taskID] = true
	e.mu.Unlock()
}

package engine

import (
	"fmt"
	"time"

	"github.com/crewline/arbiter/pkg/models"
)

// scan fails every task whose class deadline for its current state has
// expired with no observed activity. Deadlines are liveness bounds, not
// quality bounds: expiry is fatal, never a retry. PENDING tasks wait for
// capacity without a deadline, and ESCALATED tasks wait on the escalation
// manager's own response timeout.
func (e *Engine) scan(now time.Time) {
	for _, task := range e.reg.List(nil) {
		if task.State.Terminal() {
			continue
		}

		class := e.classes.Get(task.Class)
		var deadline time.Duration
		var waitingOn string
		switch task.State {
		case models.TaskStateAssigned:
			deadline = class.AssignedTimeout
			waitingOn = task.OwnerAgentID
		case models.TaskStateInProgress:
			deadline = class.ProgressTimeout
			waitingOn = task.OwnerAgentID
		case models.TaskStateValidating:
			deadline = class.ValidatingTimeout
			waitingOn = task.ValidatorID
		default:
			continue
		}
		if deadline <= 0 {
			continue
		}

		idle := now.Sub(e.lastActivity(task))
		if idle <= deadline {
			continue
		}

		e.failTask(task, &models.AgentUnavailable{
			TaskID:  task.ID,
			AgentID: waitingOn,
			Reason:  fmt.Sprintf("no activity for %s in state %s (deadline %s)", idle.Round(time.Millisecond), task.State, deadline),
		})
	}
}

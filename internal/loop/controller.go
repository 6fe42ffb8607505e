package loop

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/registry"
	"github.com/crewline/arbiter/pkg/models"
)

// ControllerID is the sender identity the loop uses on the bus.
const ControllerID = "controller"

// Controller applies validator verdicts to tasks. It consumes
// TaskCompletion and ValidationResult messages addressed to the controller
// role; everything it decides goes through registry transitions, so
// duplicate and out-of-order deliveries collapse into conflicts or
// staleness drops.
type Controller struct {
	bus   *bus.Bus
	reg   *registry.Registry
	subID string
}

// New creates a controller over the given bus and registry.
func New(b *bus.Bus, reg *registry.Registry) *Controller {
	return &Controller{bus: b, reg: reg}
}

// Start subscribes the controller to its role messages.
func (c *Controller) Start() error {
	subID, err := c.bus.Subscribe(ControllerID, bus.Predicate{RecipientRole: models.RoleController}, c.handle)
	if err != nil {
		return fmt.Errorf("loop start: %w", err)
	}
	c.subID = subID
	return nil
}

// Stop unsubscribes the controller. In-flight handler calls finish on the
// bus's delivery goroutine.
func (c *Controller) Stop() {
	if c.subID != "" {
		c.bus.Unsubscribe(c.subID)
		c.subID = ""
	}
}

// handle routes one delivered message. It always acks: every failure mode
// is either stale, already applied, or unrecoverable by redelivery.
func (c *Controller) handle(msg *models.Message) error {
	switch payload := msg.Payload.(type) {
	case *models.CompletionPayload:
		c.onCompletion(msg, payload)
	case *models.ValidationResultPayload:
		c.onResult(msg, payload)
	}
	return nil
}

// onCompletion moves a submitted task into VALIDATING and requests a
// verdict from its designated validator.
func (c *Controller) onCompletion(msg *models.Message, payload *models.CompletionPayload) {
	task, err := c.reg.Get(msg.TaskID)
	if err != nil {
		log.Printf("[loop] completion for unknown task %s dropped", msg.TaskID)
		return
	}
	if payload.AttemptNumber != task.ExpectedAttempt() {
		log.Printf("[loop] stale completion for task %s: attempt %d, expected %d",
			task.ID, payload.AttemptNumber, task.ExpectedAttempt())
		return
	}

	task, err = c.reg.Transition(task.ID, models.TaskStateInProgress, models.TaskStateValidating, nil)
	if err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			// Duplicate submit, or the task was cancelled underneath us.
			return
		}
		log.Printf("[loop] submit task %s: %v", msg.TaskID, err)
		return
	}

	if task.ValidatorID == "" {
		log.Printf("[loop] task %s reached VALIDATING with no designated validator", task.ID)
		return
	}

	request := models.NewMessage(ControllerID, models.RoleController, task.ID, &models.ValidationRequestPayload{
		Artifact:      payload.Artifact,
		Criteria:      task.Criteria,
		AttemptNumber: payload.AttemptNumber,
		History:       task.Attempts,
	})
	request.RecipientID = task.ValidatorID
	c.publish(request)
}

// onResult applies one verdict: PASS completes the task, FAIL retries while
// budget remains and escalates when it runs out.
func (c *Controller) onResult(msg *models.Message, payload *models.ValidationResultPayload) {
	task, err := c.reg.Get(msg.TaskID)
	if err != nil {
		log.Printf("[loop] verdict for unknown task %s dropped", msg.TaskID)
		return
	}
	if payload.AttemptNumber != task.ExpectedAttempt() {
		log.Printf("[loop] stale verdict for task %s: attempt %d, expected %d",
			task.ID, payload.AttemptNumber, task.ExpectedAttempt())
		return
	}

	attempt := models.ValidationAttempt{
		AttemptNumber: payload.AttemptNumber,
		ValidatorID:   payload.ValidatorID,
		Result:        payload.Result,
		Feedback:      payload.Feedback,
		Timestamp:     time.Now().UTC(),
	}
	appendAttempt := func(t *models.Task) error {
		t.Attempts = append(t.Attempts, attempt)
		return nil
	}

	if payload.Result == models.VerdictPass {
		if _, err := c.reg.Transition(task.ID, models.TaskStateValidating, models.TaskStateCompleted, appendAttempt); err != nil {
			c.dropOrLog(task.ID, "accept", err)
			return
		}
		log.Printf("[loop] task %s completed on attempt %d", task.ID, payload.AttemptNumber)
		return
	}

	// Rejection: the failure consumes one retry. The budget is exhausted
	// when the rejection count reaches max_retries.
	rejections := task.RetryCount + 1
	burnRetry := func(t *models.Task) error {
		if err := appendAttempt(t); err != nil {
			return err
		}
		t.RetryCount = rejections
		return nil
	}

	if rejections < task.MaxRetries {
		updated, err := c.reg.Transition(task.ID, models.TaskStateValidating, models.TaskStateInProgress, burnRetry)
		if err != nil {
			c.dropOrLog(task.ID, "retry", err)
			return
		}
		log.Printf("[loop] task %s rejected on attempt %d (%d of %d retries used), reassigning",
			task.ID, payload.AttemptNumber, rejections, task.MaxRetries)

		assignment := models.NewMessage(ControllerID, models.RoleController, updated.ID, &models.AssignmentPayload{
			ComponentID:   updated.ComponentID,
			Input:         BuildRetryInput(updated.Input, updated.Attempts),
			Criteria:      updated.Criteria,
			AttemptNumber: updated.ExpectedAttempt(),
		})
		assignment.RecipientID = updated.OwnerAgentID
		c.publish(assignment)
		return
	}

	// Budget exhausted. Snapshot owner and validator before the transition
	// clears ownership, so a retry-reset can restore them.
	ownerID := task.OwnerAgentID
	updated, err := c.reg.Transition(task.ID, models.TaskStateValidating, models.TaskStateEscalated, burnRetry)
	if err != nil {
		c.dropOrLog(task.ID, "escalate", err)
		return
	}
	log.Printf("[loop] task %s exhausted its retry budget (%d rejections), escalating", task.ID, rejections)

	request := models.NewMessage(ControllerID, models.RoleController, updated.ID, &models.EscalationRequestPayload{
		RejectionCount: rejections,
		History:        updated.Attempts,
		OwnerAgentID:   ownerID,
		ValidatorID:    payload.ValidatorID,
	})
	request.RecipientRole = models.RoleEscalation
	c.publish(request)
}

// dropOrLog swallows CAS conflicts (duplicate deliveries lose the race by
// design) and logs everything else.
func (c *Controller) dropOrLog(taskID, op string, err error) {
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return
	}
	log.Printf("[loop] %s task %s: %v", op, taskID, err)
}

func (c *Controller) publish(msg *models.Message) {
	if _, err := c.bus.Publish(msg); err != nil {
		log.Printf("[loop] publish %s for task %s failed: %v", msg.Type, msg.TaskID, err)
	}
}

package agent

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/pkg/models"
)

// Dispatcher is the tracked dispatch middleware. It subscribes to the bus
// on each attached proxy's behalf, dedupes redelivered messages by id, and
// wraps every invocation: StateUpdate on entry, TaskCompletion or
// ErrorReport on exit (ValidationResult for validation requests). Work runs
// on its own goroutine so delivery never blocks behind a slow agent.
type Dispatcher struct {
	bus    *bus.Bus
	roster *Roster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// seen holds message ids already dispatched; at-least-once delivery
	// means a redelivered envelope must not trigger a second invocation.
	seen map[string]bool
	subs []string
	mu   sync.Mutex
}

// NewDispatcher creates a dispatcher over the given bus and roster. The
// roster is used for load accounting around invocations.
func NewDispatcher(b *bus.Bus, roster *Roster) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:    b,
		roster: roster,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]bool),
	}
}

// Attach subscribes the proxy to its addressed messages. The proxy must
// already be registered on the roster.
func (d *Dispatcher) Attach(p Proxy) error {
	if _, ok := d.roster.Get(p.ID()); !ok {
		return fmt.Errorf("attach %s: %w", p.ID(), ErrAgentNotFound)
	}

	subID, err := d.bus.Subscribe(p.ID(), bus.Predicate{RecipientID: p.ID()}, func(msg *models.Message) error {
		d.dispatch(p, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("attach %s: %w", p.ID(), err)
	}

	d.mu.Lock()
	d.subs = append(d.subs, subID)
	d.mu.Unlock()
	return nil
}

// Close stops deliveries and waits for in-flight invocations to return.
// The context handed to running proxies is cancelled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, id := range subs {
		d.bus.Unsubscribe(id)
	}
	d.cancel()
	d.wg.Wait()
}

// dispatch routes one delivered message to the proxy operation it targets.
func (d *Dispatcher) dispatch(p Proxy, msg *models.Message) {
	if !d.markSeen(msg.ID) {
		log.Printf("[dispatch] duplicate message %s to %s ignored", msg.ID, p.ID())
		return
	}

	switch payload := msg.Payload.(type) {
	case *models.AssignmentPayload:
		d.runAssignment(p, msg.TaskID, payload)
	case *models.ValidationRequestPayload:
		d.runValidation(p, msg.TaskID, payload)
	default:
		// Other message types are not proxy work; ack and drop.
	}
}

// markSeen records a message id and reports whether it was new.
func (d *Dispatcher) markSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	return true
}

// runAssignment invokes HandleTaskAssignment on its own goroutine. Entry is
// announced with a StateUpdate, progress callbacks become further updates,
// and the exit publishes TaskCompletion or ErrorReport.
func (d *Dispatcher) runAssignment(p Proxy, taskID string, payload *models.AssignmentPayload) {
	a := Assignment{
		TaskID:        taskID,
		ComponentID:   payload.ComponentID,
		Input:         payload.Input,
		Criteria:      payload.Criteria,
		AttemptNumber: payload.AttemptNumber,
	}

	d.roster.Acquire(p.ID())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.roster.Release(p.ID())

		d.publishUpdate(p, taskID, models.TaskStateAssigned, models.TaskStateInProgress,
			fmt.Sprintf("attempt %d accepted", a.AttemptNumber))

		progress := func(note string) {
			d.publishUpdate(p, taskID, models.TaskStateInProgress, models.TaskStateInProgress, note)
		}

		artifact, err := p.HandleTaskAssignment(d.ctx, a, progress)
		if err != nil {
			d.publishError(p, taskID, err)
			return
		}

		completion := models.NewMessage(p.ID(), p.Role(), taskID, &models.CompletionPayload{
			Artifact:      artifact,
			AttemptNumber: a.AttemptNumber,
		})
		completion.RecipientRole = models.RoleController
		d.publish(completion)
	}()
}

// runValidation invokes HandleValidationRequest on its own goroutine and
// publishes the verdict as a ValidationResult.
func (d *Dispatcher) runValidation(p Proxy, taskID string, payload *models.ValidationRequestPayload) {
	r := Review{
		TaskID:        taskID,
		Artifact:      payload.Artifact,
		Criteria:      payload.Criteria,
		AttemptNumber: payload.AttemptNumber,
		History:       payload.History,
	}

	d.roster.Acquire(p.ID())
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.roster.Release(p.ID())

		outcome, err := p.HandleValidationRequest(d.ctx, r)
		if err != nil {
			d.publishError(p, taskID, err)
			return
		}

		result := models.NewMessage(p.ID(), p.Role(), taskID, &models.ValidationResultPayload{
			AttemptNumber: r.AttemptNumber,
			Result:        outcome.Result,
			Feedback:      outcome.Feedback,
			ValidatorID:   p.ID(),
		})
		result.RecipientRole = models.RoleController
		d.publish(result)
	}()
}

// publishUpdate sends a StateUpdate to the engine role. Updates double as
// liveness signals, so they are sent even when the note is empty.
func (d *Dispatcher) publishUpdate(p Proxy, taskID string, from, to models.TaskState, note string) {
	msg := models.NewMessage(p.ID(), p.Role(), taskID, &models.StateUpdatePayload{
		From: from,
		To:   to,
		Note: note,
	})
	msg.RecipientRole = models.RoleEngine
	d.publish(msg)
}

// publishError reports a proxy failure to the engine role. Errors travel as
// data; nothing is thrown across the bus boundary.
func (d *Dispatcher) publishError(p Proxy, taskID string, err error) {
	msg := models.NewMessage(p.ID(), p.Role(), taskID, &models.ErrorReportPayload{
		AgentID: p.ID(),
		Reason:  err.Error(),
	})
	msg.RecipientRole = models.RoleEngine
	d.publish(msg)
}

func (d *Dispatcher) publish(msg *models.Message) {
	if _, err := d.bus.Publish(msg); err != nil {
		// Publish fails only when the bus is closing; the message is lost
		// with the shutdown it belongs to.
		log.Printf("[dispatch] publish %s for task %s failed: %v", msg.Type, msg.TaskID, err)
	}
}

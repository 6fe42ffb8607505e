package escalation

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/loop"
	"github.com/crewline/arbiter/internal/registry"
	"github.com/crewline/arbiter/pkg/models"
)

// ManagerID is the sender identity the escalation manager uses on the bus.
const ManagerID = "escalation-manager"

// Config tunes the manager. The zero value waits forever for a human.
type Config struct {
	// ResponseTimeout auto-resolves an unanswered escalation as ABORT after
	// this long. Zero disables the timeout.
	ResponseTimeout time.Duration
}

// Manager owns the escalation workflow. Requests arrive over the bus;
// resolutions arrive through Resolve, called by whichever surface the human
// used (console, CLI, signal file). The registry's record claim guarantees
// exactly one resolution wins no matter how many surfaces race.
type Manager struct {
	bus     *bus.Bus
	reg     *registry.Registry
	timeout time.Duration
	subID   string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a manager over the given bus and registry.
func NewManager(b *bus.Bus, reg *registry.Registry, cfg Config) *Manager {
	return &Manager{
		bus:     b,
		reg:     reg,
		timeout: cfg.ResponseTimeout,
		timers:  make(map[string]*time.Timer),
	}
}

// Start subscribes the manager to escalation-role messages.
func (m *Manager) Start() error {
	subID, err := m.bus.Subscribe(ManagerID, bus.Predicate{RecipientRole: models.RoleEscalation}, m.handle)
	if err != nil {
		return fmt.Errorf("escalation start: %w", err)
	}
	m.subID = subID
	return nil
}

// Stop unsubscribes the manager and disarms pending response timers. Open
// escalations stay open; they survive in the registry for the next run.
func (m *Manager) Stop() {
	if m.subID != "" {
		m.bus.Unsubscribe(m.subID)
		m.subID = ""
	}
	m.mu.Lock()
	for taskID, timer := range m.timers {
		timer.Stop()
		delete(m.timers, taskID)
	}
	m.mu.Unlock()
}

// handle routes one delivered message. It always acks: a request that cannot
// open a record is either a duplicate or unrecoverable by redelivery.
func (m *Manager) handle(msg *models.Message) error {
	if payload, ok := msg.Payload.(*models.EscalationRequestPayload); ok {
		m.onRequest(msg, payload)
	}
	return nil
}

// onRequest classifies the failure pattern, opens the record, and asks the
// human role for a decision.
func (m *Manager) onRequest(msg *models.Message, payload *models.EscalationRequestPayload) {
	reason, summary := Classify(msg.TaskID, payload.History, payload.RejectionCount)

	esc := &models.Escalation{
		TaskID:         msg.TaskID,
		Reason:         reason,
		RejectionCount: payload.RejectionCount,
		Context: models.EscalationContext{
			Attempts:     payload.History,
			OwnerAgentID: payload.OwnerAgentID,
			ValidatorID:  payload.ValidatorID,
		},
	}
	if err := m.reg.OpenEscalation(esc); err != nil {
		if errors.Is(err, registry.ErrEscalationOpen) {
			// Duplicate request; the existing record is already with a human.
			return
		}
		log.Printf("[escalation] open record for task %s: %v", msg.TaskID, err)
		return
	}
	log.Printf("[escalation] task %s escalated after %d rejections (%s)",
		msg.TaskID, payload.RejectionCount, reason)

	component := ""
	if task, err := m.reg.Get(msg.TaskID); err == nil {
		component = task.ComponentID
	}
	request := models.NewMessage(ManagerID, models.RoleEscalation, msg.TaskID, &models.ApprovalRequestPayload{
		EscalationID:   esc.ID,
		ComponentID:    component,
		Reason:         reason,
		RejectionCount: payload.RejectionCount,
		History:        payload.History,
		Summary:        summary,
	})
	request.RecipientRole = models.RoleHuman
	m.publish(request)

	if m.timeout > 0 {
		m.armTimer(msg.TaskID)
	}
}

// Resolve applies a human decision to an escalated task. The record is
// claimed first, so exactly one caller wins; later callers get
// AlreadyResolvedError carrying the resolution that was applied. After the
// claim the task transitions out of ESCALATED per the resolution kind.
func (m *Manager) Resolve(taskID string, res models.Resolution, note string) error {
	if !res.Valid() {
		return fmt.Errorf("unknown resolution %q", res)
	}
	if res == models.ResolutionRetryReset {
		// Refuse before claiming the record: a reset with no owner to
		// restore would strand the task in ESCALATED with the record spent.
		esc, err := m.reg.GetEscalation(taskID)
		if err != nil {
			return err
		}
		if esc.Context.OwnerAgentID == "" {
			return fmt.Errorf("task %s: escalation context has no owner to restore", taskID)
		}
	}

	esc, err := m.reg.ResolveEscalation(taskID, res, note)
	if err != nil {
		return err
	}
	m.disarmTimer(taskID)
	log.Printf("[escalation] task %s resolved: %s", taskID, res)

	switch res {
	case models.ResolutionRetryReset:
		return m.applyRetryReset(esc)
	case models.ResolutionForceAccept:
		if _, err := m.reg.Transition(taskID, models.TaskStateEscalated, models.TaskStateCompleted, nil); err != nil {
			return fmt.Errorf("force-accept task %s: %w", taskID, err)
		}
		return nil
	default:
		reason := "aborted by operator"
		if note != "" {
			reason = note
		}
		_, err := m.reg.Transition(taskID, models.TaskStateEscalated, models.TaskStateFailed, func(t *models.Task) error {
			t.FailureReason = reason
			return nil
		})
		if err != nil {
			return fmt.Errorf("abort task %s: %w", taskID, err)
		}
		return nil
	}
}

// applyRetryReset hands the task back to the producer that escalated it,
// with a fresh retry budget. The attempt history is retained, so the
// reissued assignment carries all accumulated feedback and its attempt
// numbering restarts at 1.
func (m *Manager) applyRetryReset(esc *models.Escalation) error {
	owner := esc.Context.OwnerAgentID
	updated, err := m.reg.Transition(esc.TaskID, models.TaskStateEscalated, models.TaskStateInProgress, func(t *models.Task) error {
		t.RetryCount = 0
		t.OwnerAgentID = owner
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry-reset task %s: %w", esc.TaskID, err)
	}

	assignment := models.NewMessage(ManagerID, models.RoleEscalation, updated.ID, &models.AssignmentPayload{
		ComponentID:   updated.ComponentID,
		Input:         loop.BuildRetryInput(updated.Input, updated.Attempts),
		Criteria:      updated.Criteria,
		AttemptNumber: updated.ExpectedAttempt(),
	})
	assignment.RecipientID = owner
	m.publish(assignment)
	return nil
}

// armTimer schedules the automatic ABORT for an unanswered escalation.
// Arming again for the same task replaces the previous timer.
func (m *Manager) armTimer(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.timers[taskID]; ok {
		old.Stop()
	}
	m.timers[taskID] = time.AfterFunc(m.timeout, func() {
		note := fmt.Sprintf("no operator response within %s; aborted automatically", m.timeout)
		if err := m.Resolve(taskID, models.ResolutionAbort, note); err != nil {
			var resolved *models.AlreadyResolvedError
			if errors.As(err, &resolved) {
				// A human beat the timer.
				return
			}
			log.Printf("[escalation] auto-abort task %s: %v", taskID, err)
		}
	})
}

func (m *Manager) disarmTimer(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[taskID]; ok {
		timer.Stop()
		delete(m.timers, taskID)
	}
}

func (m *Manager) publish(msg *models.Message) {
	if _, err := m.bus.Publish(msg); err != nil {
		log.Printf("[escalation] publish %s for task %s failed: %v", msg.Type, msg.TaskID, err)
	}
}

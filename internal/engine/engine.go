// Package engine assigns tasks to agents and keeps the pipeline moving:
// capability-matched assignment, liveness watchdog, error-report
// reassignment, cancellation and state queries. The engine never judges
// work; verdicts belong to the validation loop.
package engine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crewline/arbiter/internal/agent"
	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/internal/config"
	"github.com/crewline/arbiter/internal/loop"
	"github.com/crewline/arbiter/internal/registry"
	"github.com/crewline/arbiter/pkg/models"
)

// EngineID is the sender identity the engine uses on the bus.
const EngineID = "engine"

// Options tunes the engine. Zero values fall back to sane defaults.
type Options struct {
	// Classes supplies per-class deadlines; nil uses the built-in classes.
	Classes *config.TaskClasses
	// WatchdogInterval is how often deadlines are scanned and stuck PENDING
	// tasks are re-swept. Defaults to 5s.
	WatchdogInterval time.Duration
	// EventBuffer sizes the event channel. Defaults to 100.
	EventBuffer int
	// Debug receives engine diagnostics; nil disables them.
	Debug *DebugLogger
}

// Engine drives assignment and liveness for every task in the registry.
type Engine struct {
	bus     *bus.Bus
	reg     *registry.Registry
	roster  *agent.Roster
	classes *config.TaskClasses
	emitter *Emitter
	debug   *DebugLogger

	interval time.Duration
	kick     chan struct{}
	stopCh   chan struct{}
	subID    string
	wg       sync.WaitGroup

	mu sync.Mutex
	// activity records each task's last observed sign of life.
	activity map[string]time.Time
	// reassigned marks tasks that have spent their one reassignment.
	reassigned map[string]bool
	// stopped guards double Stop.
	stopped bool
	// done guards the single pipeline_done event.
	done bool
}

// New creates an engine over the given bus, registry and roster.
func New(b *bus.Bus, reg *registry.Registry, roster *agent.Roster, opts Options) *Engine {
	classes := opts.Classes
	if classes == nil {
		classes = config.DefaultTaskClasses()
	}
	interval := opts.WatchdogInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	debug := opts.Debug
	if debug == nil {
		debug = NopLogger()
	}
	return &Engine{
		bus:        b,
		reg:        reg,
		roster:     roster,
		classes:    classes,
		emitter:    NewEmitter(opts.EventBuffer),
		debug:      debug,
		interval:   interval,
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		activity:   make(map[string]time.Time),
		reassigned: make(map[string]bool),
	}
}

// Start subscribes the engine to its role messages, hooks agent releases to
// the assignment sweep, and launches the run loop.
func (e *Engine) Start() error {
	subID, err := e.bus.Subscribe(EngineID, bus.Predicate{RecipientRole: models.RoleEngine}, e.handle)
	if err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	e.subID = subID
	e.roster.OnRelease(e.Kick)

	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop shuts the engine down: the run loop exits, the subscription is
// removed, the event stream closes and the bus drains. The engine owns bus
// shutdown; stop every other subscriber first.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	if e.subID != "" {
		e.bus.Unsubscribe(e.subID)
		e.subID = ""
	}
	e.roster.OnRelease(nil)
	e.bus.Drain()
	e.emitter.Close()
}

// Submit enters a task into the pipeline and kicks the assignment sweep.
// The returned id identifies the task from then on.
func (e *Engine) Submit(t *models.Task) (string, error) {
	id, err := e.reg.Create(t)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	e.touch(id)
	e.emit(Event{Type: EventTaskSubmitted, TaskID: id, ComponentID: t.ComponentID})
	e.debug.Log("[engine] task %s submitted (component=%s class=%s)", id, t.ComponentID, t.Class)
	e.Kick()
	return id, nil
}

// Cancel fails a task from outside the validation loop. Cancelling a
// terminal task is a no-op. The conflict loop absorbs races with in-flight
// transitions; whatever state the task lands in next is cancelled instead.
func (e *Engine) Cancel(taskID, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	for {
		task, err := e.reg.Get(taskID)
		if err != nil {
			return err
		}
		if task.State.Terminal() {
			return nil
		}
		_, err = e.reg.Transition(taskID, task.State, models.TaskStateFailed, func(t *models.Task) error {
			t.FailureReason = reason
			return nil
		})
		if err == nil {
			e.clearTracking(taskID)
			e.emit(Event{Type: EventTaskFailed, TaskID: taskID, ComponentID: task.ComponentID, Message: reason})
			e.debug.Log("[engine] task %s cancelled: %s", taskID, reason)
			return nil
		}
		var conflict *models.ConflictError
		if !errors.As(err, &conflict) {
			return fmt.Errorf("cancel task %s: %w", taskID, err)
		}
	}
}

// Kick triggers an assignment sweep without blocking. Coalesces with any
// sweep already pending.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// DroppedEvents returns how many events were dropped against a full buffer.
func (e *Engine) DroppedEvents() uint64 {
	return e.emitter.DroppedCount()
}

// run is the engine's single goroutine: sweeps on kicks, scans deadlines on
// ticks, and announces pipeline completion.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.kick:
			e.sweep()
			e.checkDone()
		case <-ticker.C:
			e.scan(time.Now().UTC())
			e.sweep()
			e.checkDone()
		}
	}
}

// handle routes one delivered message. It always acks; every inbound kind
// is either applied, stale, or unrecoverable by redelivery.
func (e *Engine) handle(msg *models.Message) error {
	switch payload := msg.Payload.(type) {
	case *models.StateUpdatePayload:
		e.onStateUpdate(msg, payload)
	case *models.ErrorReportPayload:
		e.onErrorReport(msg, payload)
	case *models.QueryRequestPayload:
		e.onQuery(msg, payload)
	case *models.CancelPayload:
		if err := e.Cancel(msg.TaskID, payload.Reason); err != nil {
			log.Printf("[engine] cancel task %s: %v", msg.TaskID, err)
		}
	}
	return nil
}

// onStateUpdate refreshes the task's liveness clock and applies the
// ASSIGNED -> IN_PROGRESS acknowledgment when the owner reports starting.
func (e *Engine) onStateUpdate(msg *models.Message, payload *models.StateUpdatePayload) {
	task, err := e.reg.Get(msg.TaskID)
	if err != nil {
		e.debug.Log("[engine] state update for unknown task %s dropped", msg.TaskID)
		return
	}
	e.touch(task.ID)

	if task.State == models.TaskStateAssigned && msg.SenderID == task.OwnerAgentID {
		if _, err := e.reg.Transition(task.ID, models.TaskStateAssigned, models.TaskStateInProgress, nil); err != nil {
			e.dropOrLog(task.ID, "acknowledge", err)
			return
		}
		e.emit(Event{Type: EventTaskStarted, TaskID: task.ID, ComponentID: task.ComponentID, AgentID: msg.SenderID, Message: payload.Note})
		e.debug.Log("[engine] task %s acknowledged by %s", task.ID, msg.SenderID)
		return
	}

	if payload.Note != "" {
		e.emit(Event{Type: EventAgentProgress, TaskID: task.ID, ComponentID: task.ComponentID, AgentID: msg.SenderID, Message: payload.Note})
	}
}

// checkDone emits pipeline_done exactly once, after every task is terminal.
func (e *Engine) checkDone() {
	summary := e.reg.Summary()
	if !summary.Done() {
		return
	}
	e.mu.Lock()
	first := !e.done
	e.done = true
	e.mu.Unlock()
	if first {
		e.emit(Event{Type: EventPipelineDone, Message: fmt.Sprintf("%d tasks terminal", summary.Total)})
		e.debug.Log("[engine] pipeline done: %d completed, %d failed",
			summary.ByState[models.TaskStateCompleted], summary.ByState[models.TaskStateFailed])
	}
}

// touch records activity for a task.
func (e *Engine) touch(taskID string) {
	e.mu.Lock()
	e.activity[taskID] = time.Now().UTC()
	e.mu.Unlock()
}

// lastActivity reads the task's liveness clock, falling back to its last
// transition time for tasks inherited from a previous run.
func (e *Engine) lastActivity(task *models.Task) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if at, ok := e.activity[task.ID]; ok {
		return at
	}
	return task.UpdatedAt
}

// clearTracking drops a terminal task's watchdog bookkeeping.
func (e *Engine) clearTracking(taskID string) {
	e.mu.Lock()
	delete(e.activity, taskID)
	e.mu.Unlock()
}

// dropOrLog swallows CAS conflicts (a racing transition already moved the
// task) and logs everything else.
func (e *Engine) dropOrLog(taskID, op string, err error) {
	var conflict *models.ConflictError
	if errors.As(err, &conflict) {
		return
	}
	log.Printf("[engine] %s task %s: %v", op, taskID, err)
}

func (e *Engine) emit(event Event) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.emitter.Emit(event)
}

func (e *Engine) publish(msg *models.Message) {
	if _, err := e.bus.Publish(msg); err != nil {
		log.Printf("[engine] publish %s for task %s failed: %v", msg.Type, msg.TaskID, err)
	}
}

// buildInput assembles the producer's working input: the pristine task
// input with any accumulated rejection feedback merged in.
func buildInput(task *models.Task) string {
	return loop.BuildRetryInput(task.Input, task.Attempts)
}

package engine

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	// EventTaskSubmitted indicates a task entered the pipeline.
	EventTaskSubmitted EventType = "task_submitted"
	// EventTaskAssigned indicates an owner and validator were chosen.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskStarted indicates the owner acknowledged the assignment.
	EventTaskStarted EventType = "task_started"
	// EventAgentProgress carries a heartbeat note from a working agent.
	EventAgentProgress EventType = "agent_progress"
	// EventTaskReassigned indicates a failed agent was replaced.
	EventTaskReassigned EventType = "task_reassigned"
	// EventTaskFailed indicates the engine failed a task (liveness expiry,
	// unrecoverable agent error, or cancellation).
	EventTaskFailed EventType = "task_failed"
	// EventPipelineDone indicates every tracked task is terminal.
	EventPipelineDone EventType = "pipeline_done"
)

// Event is one observation from the engine, consumed by the CLI and the
// console for display. Events are advisory; the registry remains the source
// of truth.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the related task, if any.
	TaskID string
	// ComponentID is the related task's component, if any.
	ComponentID string
	// AgentID is the related agent, if any.
	AgentID string
	// Message is free-form human-readable detail.
	Message string
	// Err carries failure detail for task_failed events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Emitter fans engine events out to one consumer over a bounded channel.
// Emission never blocks the engine for long: a full channel gets a short
// grace period, then the event is dropped and counted.
type Emitter struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, waiting briefly if the buffer is full before
// dropping it.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.dropped.Add(1)
		if count%10 == 1 {
			log.Printf("[engine] event buffer full, dropped %s (total dropped: %d)", event.Type, count)
		}
	}
}

// Events returns the read side of the event stream.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// DroppedCount returns how many events were dropped against a full buffer.
func (e *Emitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Close closes the event stream. Call only after emission has stopped.
func (e *Emitter) Close() {
	close(e.events)
}

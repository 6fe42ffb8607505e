// Package registry owns the authoritative record of every task and
// escalation in a pipeline run. All task mutation funnels through
// Transition, a compare-and-set on the task's current state: callers name
// the state they believe the task is in, and a mismatch is rejected with
// ConflictError instead of being applied. Duplicate message deliveries
// collapse into harmless conflicts, so handlers upstream stay idempotent
// without their own bookkeeping.
//
// State lives in memory and is written through to an optional sqlite store
// on every applied change. A nil store gives a memory-only registry, which
// is what most tests use.
package registry

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/crewline/arbiter/pkg/models"
)

// ErrEscalationOpen is returned when a task that already has an unresolved
// escalation is escalated again.
var ErrEscalationOpen = errors.New("task already has an open escalation")

// Store is the durability layer the registry writes through to.
type Store interface {
	SaveTask(t *models.Task) error
	LoadTasks() ([]*models.Task, error)
	SaveEscalation(e *models.Escalation) error
	LoadEscalations() ([]*models.Escalation, error)
	RecordTransition(taskID string, from, to models.TaskState, reason string) error
}

// Mutator adjusts task fields as part of a transition. It runs against a
// working copy under the registry lock; returning an error abandons the
// transition with authoritative state untouched. Mutators may set owner,
// retry count, failure reason and append attempts, but the target state is
// fixed by the transition itself.
type Mutator func(t *models.Task) error

// Registry is the single writer for task and escalation state.
type Registry struct {
	mu          sync.RWMutex
	tasks       map[string]*models.Task
	escalations map[string][]*models.Escalation
	store       Store
}

// New creates a registry backed by the given store. A nil store keeps all
// state in memory.
func New(store Store) *Registry {
	return &Registry{
		tasks:       make(map[string]*models.Task),
		escalations: make(map[string][]*models.Escalation),
		store:       store,
	}
}

// Load rehydrates in-memory state from the store. Call once on startup,
// before any transitions.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}

	tasks, err := r.store.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	escalations, err := r.store.LoadEscalations()
	if err != nil {
		return fmt.Errorf("load escalations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	for _, e := range escalations {
		r.escalations[e.TaskID] = append(r.escalations[e.TaskID], e)
	}
	return nil
}

// Create registers a new task in PENDING. A missing ID is generated, a
// zero MaxRetries gets the default, and timestamps are stamped here. The
// task's ID is returned.
func (r *Registry) Create(t *models.Task) (string, error) {
	if t == nil {
		return "", fmt.Errorf("nil task")
	}
	if t.ComponentID == "" {
		return "", fmt.Errorf("task missing component_id")
	}
	if t.State != "" && t.State != models.TaskStatePending {
		return "", fmt.Errorf("new task must start pending, got %q", t.State)
	}

	stored := t.Clone()
	if stored.ID == "" {
		stored.ID = models.NewTaskID()
	}
	stored.State = models.TaskStatePending
	if stored.MaxRetries <= 0 {
		stored.MaxRetries = models.DefaultMaxRetries
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[stored.ID]; exists {
		return "", fmt.Errorf("task %s already exists", stored.ID)
	}
	if err := r.persistTask(stored); err != nil {
		return "", err
	}
	r.tasks[stored.ID] = stored
	return stored.ID, nil
}

// Get returns a copy of the task, or ErrNotFound.
func (r *Registry) Get(taskID string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	return t.Clone(), nil
}

// List returns copies of all tasks, optionally filtered by state, ordered
// by creation time.
func (r *Registry) List(state *models.TaskState) []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Task
	for _, t := range r.tasks {
		if state != nil && t.State != *state {
			continue
		}
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out
}

// Transition applies the sole mutation path for tasks. It compares the
// task's current state against expected, rejects a mismatch with
// ConflictError, checks the state machine allows expected -> next, runs
// the mutator on a working copy, enforces invariants, then commits the
// copy with a bumped version. The committed task is returned as a copy.
func (r *Registry) Transition(taskID string, expected, next models.TaskState, mutate Mutator) (*models.Task, error) {
	if !expected.Valid() {
		return nil, fmt.Errorf("unknown expected state %q", expected)
	}
	if !next.Valid() {
		return nil, fmt.Errorf("unknown target state %q", next)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if current.State != expected {
		return nil, &models.ConflictError{TaskID: taskID, Expected: expected, Actual: current.State}
	}
	if !current.State.CanTransitionTo(next) {
		return nil, fmt.Errorf("task %s: transition %s -> %s not permitted", taskID, current.State, next)
	}

	work := current.Clone()
	if mutate != nil {
		if err := mutate(work); err != nil {
			return nil, fmt.Errorf("task %s: %w", taskID, err)
		}
	}
	work.State = next
	if !next.HoldsOwner() {
		work.OwnerAgentID = ""
	}
	if err := checkInvariants(current, work); err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}

	work.Version = current.Version + 1
	work.UpdatedAt = time.Now().UTC()

	if err := r.persistTask(work); err != nil {
		return nil, err
	}
	if r.store != nil {
		if err := r.store.RecordTransition(taskID, current.State, next, work.FailureReason); err != nil {
			// The audit trail is best-effort; the task row already committed.
			log.Printf("[registry] record transition for %s: %v", taskID, err)
		}
	}
	r.tasks[taskID] = work
	return work.Clone(), nil
}

// checkInvariants rejects mutations that would corrupt task state.
func checkInvariants(before, after *models.Task) error {
	if after.RetryCount < 0 {
		return fmt.Errorf("retry_count %d below zero", after.RetryCount)
	}
	if !after.State.Terminal() && after.RetryCount > after.MaxRetries {
		return fmt.Errorf("retry_count %d exceeds max_retries %d", after.RetryCount, after.MaxRetries)
	}
	if after.State.HoldsOwner() && after.OwnerAgentID == "" {
		return fmt.Errorf("state %s requires an owner agent", after.State)
	}
	if len(after.Attempts) < len(before.Attempts) {
		return fmt.Errorf("attempt history shrank from %d to %d", len(before.Attempts), len(after.Attempts))
	}
	return nil
}

// persistTask writes through to the store. Caller holds the lock.
func (r *Registry) persistTask(t *models.Task) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveTask(t); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Summary reports pipeline-level counts.
func (r *Registry) Summary() *models.PipelineSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &models.PipelineSummary{ByState: make(map[models.TaskState]int)}
	for _, t := range r.tasks {
		s.Total++
		s.ByState[t.State]++
	}
	for _, escs := range r.escalations {
		for _, e := range escs {
			if e.Status == models.EscalationStatusOpen {
				s.OpenEscalations++
			}
		}
	}
	return s
}

// OpenEscalation records a new escalation for a task. At most one OPEN
// escalation may exist per task; a second is rejected with
// ErrEscalationOpen until the first resolves.
func (r *Registry) OpenEscalation(e *models.Escalation) error {
	if e == nil {
		return fmt.Errorf("nil escalation")
	}
	if !e.Reason.Valid() {
		return fmt.Errorf("unknown escalation reason %q", e.Reason)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[e.TaskID]; !ok {
		return fmt.Errorf("task %s: %w", e.TaskID, models.ErrNotFound)
	}
	for _, existing := range r.escalations[e.TaskID] {
		if existing.Status == models.EscalationStatusOpen {
			return fmt.Errorf("task %s: %w", e.TaskID, ErrEscalationOpen)
		}
	}

	stored := *e
	if stored.ID == "" {
		stored.ID = models.NewEscalationID()
	}
	stored.Status = models.EscalationStatusOpen
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if r.store != nil {
		if err := r.store.SaveEscalation(&stored); err != nil {
			return fmt.Errorf("persist escalation %s: %w", stored.ID, err)
		}
	}
	r.escalations[e.TaskID] = append(r.escalations[e.TaskID], &stored)
	e.ID = stored.ID
	e.Status = stored.Status
	e.CreatedAt = stored.CreatedAt
	return nil
}

// ResolveEscalation marks the task's open escalation resolved with the
// given resolution. Exactly one resolution wins; later calls get
// AlreadyResolvedError carrying the resolution that was applied.
func (r *Registry) ResolveEscalation(taskID string, res models.Resolution, note string) (*models.Escalation, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("unknown resolution %q", res)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	escs := r.escalations[taskID]
	if len(escs) == 0 {
		return nil, fmt.Errorf("no escalation for task %s: %w", taskID, models.ErrNotFound)
	}

	latest := escs[len(escs)-1]
	if latest.Status == models.EscalationStatusResolved {
		return nil, &models.AlreadyResolvedError{
			TaskID:       taskID,
			EscalationID: latest.ID,
			Resolution:   latest.Resolution,
		}
	}

	resolved := *latest
	resolved.Status = models.EscalationStatusResolved
	resolved.Resolution = res
	resolved.Note = note
	now := time.Now().UTC()
	resolved.ResolvedAt = &now

	if r.store != nil {
		if err := r.store.SaveEscalation(&resolved); err != nil {
			return nil, fmt.Errorf("persist escalation %s: %w", resolved.ID, err)
		}
	}
	*latest = resolved
	out := resolved
	return &out, nil
}

// GetEscalation returns the most recent escalation for a task, or
// ErrNotFound if the task was never escalated.
func (r *Registry) GetEscalation(taskID string) (*models.Escalation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	escs := r.escalations[taskID]
	if len(escs) == 0 {
		return nil, fmt.Errorf("no escalation for task %s: %w", taskID, models.ErrNotFound)
	}
	out := *escs[len(escs)-1]
	return &out, nil
}

// ListEscalations returns all escalations, optionally filtered by status,
// oldest first.
func (r *Registry) ListEscalations(status *models.EscalationStatus) []*models.Escalation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Escalation
	for _, escs := range r.escalations {
		for _, e := range escs {
			if status != nil && e.Status != *status {
				continue
			}
			copied := *e
			out = append(out, &copied)
		}
	}
	sortEscalations(out)
	return out
}

func sortTasks(tasks []*models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func sortEscalations(escs []*models.Escalation) {
	sort.Slice(escs, func(i, j int) bool {
		if escs[i].CreatedAt.Equal(escs[j].CreatedAt) {
			return escs[i].ID < escs[j].ID
		}
		return escs[i].CreatedAt.Before(escs[j].CreatedAt)
	})
}

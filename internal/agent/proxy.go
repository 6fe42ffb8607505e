// Package agent connects proxies, the components that do and judge work,
// to the message bus. A proxy only computes; the tracked dispatcher owns
// every bus interaction on its behalf, so tracking is uniform and a proxy
// cannot opt out of it.
package agent

import (
	"context"

	"github.com/crewline/arbiter/pkg/models"
)

// Assignment is one unit of work handed to a producer proxy.
type Assignment struct {
	// TaskID identifies the task the work belongs to.
	TaskID string
	// ComponentID names the component being produced.
	ComponentID string
	// Input is the full instruction. On retries it already carries prior
	// validation feedback merged in.
	Input string
	// Criteria is the acceptance criteria the artifact will be judged by.
	Criteria string
	// AttemptNumber is the attempt this assignment opens (retry_count+1).
	AttemptNumber int
}

// Review is one artifact judgment handed to a validator proxy.
type Review struct {
	// TaskID identifies the task under judgment.
	TaskID string
	// Artifact is the work product to judge.
	Artifact models.Artifact
	// Criteria is the acceptance criteria to judge against.
	Criteria string
	// AttemptNumber is the attempt being validated.
	AttemptNumber int
	// History carries every prior attempt so the validator can confirm
	// earlier complaints were addressed.
	History []models.ValidationAttempt
}

// ProgressFunc reports free-form progress while an assignment runs. The
// dispatcher turns each call into a StateUpdate message, which doubles as
// the liveness signal the engine's watchdog watches for.
type ProgressFunc func(note string)

// Proxy is implemented by every agent in the pipeline. Proxies never touch
// the bus or the registry directly; they receive work, compute, and return.
type Proxy interface {
	// ID returns the agent's unique identifier.
	ID() string
	// Role returns the part this agent plays.
	Role() models.AgentRole
	// Capabilities lists the skills the agent advertises for matching.
	Capabilities() []string

	// HandleTaskAssignment performs the work and returns the artifact.
	// It may run for a long time; the dispatcher invokes it on its own
	// goroutine and the context is cancelled on shutdown.
	HandleTaskAssignment(ctx context.Context, a Assignment, progress ProgressFunc) (models.Artifact, error)

	// HandleValidationRequest judges an artifact against its criteria.
	// Pure judgment: no task-state side effects.
	HandleValidationRequest(ctx context.Context, r Review) (models.ValidationOutcome, error)
}

// Info returns the registry view of a proxy.
func Info(p Proxy) models.AgentInfo {
	return models.AgentInfo{
		ID:           p.ID(),
		Role:         p.Role(),
		Capabilities: p.Capabilities(),
	}
}

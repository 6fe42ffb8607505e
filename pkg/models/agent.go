package models

import "time"

// AgentRole declares what part a sender or subscriber plays in the protocol.
type AgentRole string

const (
	// RoleProducer marks agents that generate work products.
	RoleProducer AgentRole = "producer"
	// RoleValidator marks agents that judge work products.
	RoleValidator AgentRole = "validator"
	// RoleEngine is the orchestration engine.
	RoleEngine AgentRole = "engine"
	// RoleController is the validation loop controller.
	RoleController AgentRole = "controller"
	// RoleEscalation is the escalation manager.
	RoleEscalation AgentRole = "escalation"
	// RoleHuman is the human oversight channel.
	RoleHuman AgentRole = "human"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleProducer, RoleValidator, RoleEngine, RoleController,
		RoleEscalation, RoleHuman:
		return true
	default:
		return false
	}
}

// AgentInfo describes a registered agent: identity, role and the capability
// set it declared at startup. Capability matching is plain set membership.
type AgentInfo struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Role is the part the agent plays.
	Role AgentRole `json:"role"`
	// Capabilities lists the skills the agent advertises.
	Capabilities []string `json:"capabilities"`
}

// HasCapabilities returns true if the agent declares every capability in
// requires.
func (a *AgentInfo) HasCapabilities(requires []string) bool {
	for _, want := range requires {
		found := false
		for _, have := range a.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Artifact is a producer's work product. The protocol treats it as opaque;
// only validators interpret the content.
type Artifact struct {
	// Content is the produced output.
	Content string `json:"content"`
	// ProducedBy is the agent that generated the content.
	ProducedBy string `json:"produced_by,omitempty"`
	// CreatedAt is when the artifact was produced.
	CreatedAt time.Time `json:"created_at"`
}

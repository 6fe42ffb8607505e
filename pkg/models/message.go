package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of payload a message carries.
type MessageType string

const (
	// MessageTypeTaskAssignment asks a producer agent to work on a task.
	MessageTypeTaskAssignment MessageType = "task_assignment"
	// MessageTypeTaskCompletion reports a producer's finished artifact.
	MessageTypeTaskCompletion MessageType = "task_completion"
	// MessageTypeValidationRequest asks a validator to judge an artifact.
	MessageTypeValidationRequest MessageType = "validation_request"
	// MessageTypeValidationResult carries a validator's verdict.
	MessageTypeValidationResult MessageType = "validation_result"
	// MessageTypeEscalationRequest signals that a task exhausted its retries.
	MessageTypeEscalationRequest MessageType = "escalation_request"
	// MessageTypeQueryRequest asks the engine for task or pipeline state.
	MessageTypeQueryRequest MessageType = "query_request"
	// MessageTypeQueryResponse answers a query request.
	MessageTypeQueryResponse MessageType = "query_response"
	// MessageTypeStateUpdate reports agent progress on a task.
	MessageTypeStateUpdate MessageType = "state_update"
	// MessageTypeErrorReport reports an agent-level failure.
	MessageTypeErrorReport MessageType = "error_report"
	// MessageTypeHumanApprovalRequest asks a human to resolve an escalation.
	MessageTypeHumanApprovalRequest MessageType = "human_approval_request"
	// MessageTypeCancelTask aborts a task from outside the loop.
	MessageTypeCancelTask MessageType = "cancel_task"
)

// Valid returns true if the type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeTaskAssignment, MessageTypeTaskCompletion,
		MessageTypeValidationRequest, MessageTypeValidationResult,
		MessageTypeEscalationRequest, MessageTypeQueryRequest,
		MessageTypeQueryResponse, MessageTypeStateUpdate,
		MessageTypeErrorReport, MessageTypeHumanApprovalRequest,
		MessageTypeCancelTask:
		return true
	default:
		return false
	}
}

// taskScoped reports whether messages of this type must carry a task id.
// Query traffic is the only exception: a summary query names no task.
func (t MessageType) taskScoped() bool {
	switch t {
	case MessageTypeQueryRequest, MessageTypeQueryResponse:
		return false
	default:
		return true
	}
}

// Payload is the typed content of a message. Every message type carries
// exactly one payload shape; Validate rejects mismatched pairings before
// the bus accepts the envelope.
type Payload interface {
	// MessageType returns the envelope type this payload belongs to.
	MessageType() MessageType
}

// Message is the immutable envelope exchanged over the bus. The bus never
// mutates a message and never interprets its payload.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Type is the kind of payload the message carries.
	Type MessageType `json:"type"`
	// SenderID identifies the component or agent that published the message.
	SenderID string `json:"sender_id"`
	// SenderRole is the declared role of the sender.
	SenderRole AgentRole `json:"sender_role"`
	// RecipientID targets a single subscriber by exact id match.
	RecipientID string `json:"recipient_id,omitempty"`
	// RecipientRole broadcasts to every subscriber of a role.
	RecipientRole AgentRole `json:"recipient_role,omitempty"`
	// TaskID correlates all messages about one task.
	TaskID string `json:"task_id,omitempty"`
	// Payload is the typed content; opaque to the bus.
	Payload Payload `json:"payload"`
	// CreatedAt is when the sender built the message.
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds an envelope around payload with a fresh id. The caller
// sets RecipientID or RecipientRole before publishing.
func NewMessage(senderID string, senderRole AgentRole, taskID string, payload Payload) *Message {
	return &Message{
		ID:         uuid.New().String(),
		Type:       payload.MessageType(),
		SenderID:   senderID,
		SenderRole: senderRole,
		TaskID:     taskID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks the envelope and the envelope/payload pairing.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.SenderID == "" {
		return errors.New("sender id is required")
	}
	if m.RecipientID == "" && m.RecipientRole == "" {
		return errors.New("message needs a recipient id or recipient role")
	}
	if m.Type.taskScoped() && m.TaskID == "" {
		return fmt.Errorf("%s message requires a task id", m.Type)
	}
	if m.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	if m.Payload == nil {
		return errors.New("message payload is required")
	}
	if got := m.Payload.MessageType(); got != m.Type {
		return fmt.Errorf("payload type %s does not match envelope type %s", got, m.Type)
	}
	return nil
}

// AssignmentPayload carries the producer's working input. On retries the
// input already has prior validation feedback merged in.
type AssignmentPayload struct {
	// ComponentID names the component the task belongs to.
	ComponentID string `json:"component_id"`
	// Input is the full instruction for the producer.
	Input string `json:"input"`
	// Criteria is forwarded so the producer knows how it will be judged.
	Criteria string `json:"criteria"`
	// AttemptNumber is the attempt this assignment opens (retry_count+1).
	AttemptNumber int `json:"attempt_number"`
}

// MessageType implements Payload.
func (*AssignmentPayload) MessageType() MessageType { return MessageTypeTaskAssignment }

// CompletionPayload carries a producer's finished artifact.
type CompletionPayload struct {
	// Artifact is the work product to be validated.
	Artifact Artifact `json:"artifact"`
	// AttemptNumber is the attempt the artifact belongs to.
	AttemptNumber int `json:"attempt_number"`
}

// MessageType implements Payload.
func (*CompletionPayload) MessageType() MessageType { return MessageTypeTaskCompletion }

// ValidationRequestPayload asks a validator for a verdict. History carries
// every prior attempt so the validator can confirm earlier complaints were
// addressed.
type ValidationRequestPayload struct {
	// Artifact is the work product under judgment.
	Artifact Artifact `json:"artifact"`
	// Criteria is the acceptance criteria to judge against.
	Criteria string `json:"criteria"`
	// AttemptNumber is the attempt being validated.
	AttemptNumber int `json:"attempt_number"`
	// History is the task's attempt history so far.
	History []ValidationAttempt `json:"history,omitempty"`
}

// MessageType implements Payload.
func (*ValidationRequestPayload) MessageType() MessageType { return MessageTypeValidationRequest }

// ValidationResultPayload carries one validator verdict for one attempt.
type ValidationResultPayload struct {
	// AttemptNumber ties the verdict to the attempt it judged. Results for
	// any other attempt than the task's current one are stale.
	AttemptNumber int `json:"attempt_number"`
	// Result is the verdict.
	Result Verdict `json:"result"`
	// Feedback explains a failure; consumed by the next attempt.
	Feedback string `json:"feedback,omitempty"`
	// ValidatorID identifies the judging agent.
	ValidatorID string `json:"validator_id"`
}

// MessageType implements Payload.
func (*ValidationResultPayload) MessageType() MessageType { return MessageTypeValidationResult }

// EscalationRequestPayload reports an exhausted retry budget.
type EscalationRequestPayload struct {
	// RejectionCount is how many validation failures the task accumulated.
	RejectionCount int `json:"rejection_count"`
	// History is the complete attempt history at escalation time.
	History []ValidationAttempt `json:"history"`
	// OwnerAgentID is the producer that owned the task when it escalated.
	OwnerAgentID string `json:"owner_agent_id,omitempty"`
	// ValidatorID is the validator that rejected the final attempt.
	ValidatorID string `json:"validator_id,omitempty"`
}

// MessageType implements Payload.
func (*EscalationRequestPayload) MessageType() MessageType { return MessageTypeEscalationRequest }

// QueryRequestPayload asks for a task snapshot, or for the pipeline summary
// when Summary is set and TaskID is empty.
type QueryRequestPayload struct {
	// TaskID selects one task.
	TaskID string `json:"task_id,omitempty"`
	// Summary requests pipeline-wide counts instead of one task.
	Summary bool `json:"summary,omitempty"`
}

// MessageType implements Payload.
func (*QueryRequestPayload) MessageType() MessageType { return MessageTypeQueryRequest }

// QueryResponsePayload answers a query. Exactly one field is set; Error
// reports an unresolvable query (unknown task id).
type QueryResponsePayload struct {
	// Task is the snapshot for a task query.
	Task *Task `json:"task,omitempty"`
	// Summary is the answer to a summary query.
	Summary *PipelineSummary `json:"summary,omitempty"`
	// Error is a human-readable reason the query could not be answered.
	Error string `json:"error,omitempty"`
}

// MessageType implements Payload.
func (*QueryResponsePayload) MessageType() MessageType { return MessageTypeQueryResponse }

// StateUpdatePayload announces progress. From/To describe the lifecycle move
// the sender is reporting; a heartbeat during long work repeats the current
// state in both fields with a note.
type StateUpdatePayload struct {
	// From is the state the sender observed before the update.
	From TaskState `json:"from"`
	// To is the state the sender is reporting.
	To TaskState `json:"to"`
	// Note is optional free-form progress detail.
	Note string `json:"note,omitempty"`
}

// MessageType implements Payload.
func (*StateUpdatePayload) MessageType() MessageType { return MessageTypeStateUpdate }

// ErrorReportPayload reports an agent-level failure. Errors travel as data;
// nothing is thrown across the bus boundary.
type ErrorReportPayload struct {
	// AgentID is the agent that failed.
	AgentID string `json:"agent_id"`
	// Reason is a human-readable description of the failure.
	Reason string `json:"reason"`
}

// MessageType implements Payload.
func (*ErrorReportPayload) MessageType() MessageType { return MessageTypeErrorReport }

// ApprovalRequestPayload asks a human to resolve an escalated task.
type ApprovalRequestPayload struct {
	// EscalationID identifies the escalation record awaiting resolution.
	EscalationID string `json:"escalation_id"`
	// ComponentID names the component the task builds, for display.
	ComponentID string `json:"component_id,omitempty"`
	// Reason is the escalation classification (advisory, not a behavior
	// branch; the same resolutions are offered either way).
	Reason EscalationReason `json:"reason"`
	// RejectionCount is how many attempts were rejected.
	RejectionCount int `json:"rejection_count"`
	// History is the attempt history backing the request.
	History []ValidationAttempt `json:"history"`
	// Summary is a short human-readable account of the failure pattern.
	Summary string `json:"summary,omitempty"`
}

// MessageType implements Payload.
func (*ApprovalRequestPayload) MessageType() MessageType { return MessageTypeHumanApprovalRequest }

// CancelPayload aborts a task from outside the validation loop.
type CancelPayload struct {
	// Reason is recorded as the task's failure reason.
	Reason string `json:"reason"`
}

// MessageType implements Payload.
func (*CancelPayload) MessageType() MessageType { return MessageTypeCancelTask }

// DecodePayload unmarshals raw JSON into the payload shape registered for t.
// Used when envelopes cross a serialization boundary (journal, wire).
func DecodePayload(t MessageType, data []byte) (Payload, error) {
	var p Payload
	switch t {
	case MessageTypeTaskAssignment:
		p = &AssignmentPayload{}
	case MessageTypeTaskCompletion:
		p = &CompletionPayload{}
	case MessageTypeValidationRequest:
		p = &ValidationRequestPayload{}
	case MessageTypeValidationResult:
		p = &ValidationResultPayload{}
	case MessageTypeEscalationRequest:
		p = &EscalationRequestPayload{}
	case MessageTypeQueryRequest:
		p = &QueryRequestPayload{}
	case MessageTypeQueryResponse:
		p = &QueryResponsePayload{}
	case MessageTypeStateUpdate:
		p = &StateUpdatePayload{}
	case MessageTypeErrorReport:
		p = &ErrorReportPayload{}
	case MessageTypeHumanApprovalRequest:
		p = &ApprovalRequestPayload{}
	case MessageTypeCancelTask:
		p = &CancelPayload{}
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

package main

import (
	"testing"

	"github.com/crewline/arbiter/internal/bus"
	"github.com/crewline/arbiter/pkg/models"
)

func TestPayloadLine(t *testing.T) {
	tests := []struct {
		name    string
		msgType models.MessageType
		payload string
		want    string
	}{
		{
			name:    "assignment",
			msgType: models.MessageTypeTaskAssignment,
			payload: `{"component_id":"auth-service","input":"build it","criteria":"tests pass","attempt_number":2}`,
			want:    "attempt 2 for auth-service",
		},
		{
			name:    "completion",
			msgType: models.MessageTypeTaskCompletion,
			payload: `{"artifact":{"content":"done","produced_by":"producer-1"},"attempt_number":1}`,
			want:    "attempt 1 artifact from producer-1",
		},
		{
			name:    "validation result with feedback",
			msgType: models.MessageTypeValidationResult,
			payload: `{"attempt_number":1,"result":"fail","feedback":"missing error handling","validator_id":"v-1"}`,
			want:    "attempt 1 fail: missing error handling",
		},
		{
			name:    "validation result pass",
			msgType: models.MessageTypeValidationResult,
			payload: `{"attempt_number":3,"result":"pass","validator_id":"v-1"}`,
			want:    "attempt 3 pass",
		},
		{
			name:    "state update without note",
			msgType: models.MessageTypeStateUpdate,
			payload: `{"from":"pending","to":"assigned"}`,
			want:    "pending -> assigned",
		},
		{
			name:    "cancel",
			msgType: models.MessageTypeCancelTask,
			payload: `{"reason":"operator said stop"}`,
			want:    "operator said stop",
		},
		{
			name:    "query request has no summary",
			msgType: models.MessageTypeQueryRequest,
			payload: `{"task_id":"task-1"}`,
			want:    "",
		},
		{
			name:    "undecodable payload",
			msgType: models.MessageTypeTaskAssignment,
			payload: `not json`,
			want:    "",
		},
	}

	for _, tt := range tests {
		entry := bus.JournalEntry{Type: tt.msgType, Payload: tt.payload}
		if got := payloadLine(entry); got != tt.want {
			t.Errorf("%s: payloadLine = %q, want %q", tt.name, got, tt.want)
		}
	}
}

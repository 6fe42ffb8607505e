package models

import "testing"

func TestEscalationReason_Valid(t *testing.T) {
	tests := []struct {
		name   string
		reason EscalationReason
		want   bool
	}{
		{"repeated_same_failure is valid", EscalationReasonRepeatedSameFailure, true},
		{"divergent_failure is valid", EscalationReasonDivergentFailure, true},
		{"timeout is valid", EscalationReasonTimeout, true},
		{"agent_unavailable is valid", EscalationReasonAgentUnavailable, true},
		{"empty is invalid", EscalationReason(""), false},
		{"unknown is invalid", EscalationReason("gave_up"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reason.Valid(); got != tt.want {
				t.Errorf("EscalationReason(%q).Valid() = %v, want %v", tt.reason, got, tt.want)
			}
		})
	}
}

func TestResolution_Valid(t *testing.T) {
	for _, r := range []Resolution{ResolutionRetryReset, ResolutionForceAccept, ResolutionAbort} {
		if !r.Valid() {
			t.Errorf("Resolution(%q).Valid() = false, want true", r)
		}
	}

	if Resolution("skip").Valid() {
		t.Error("unknown resolution should not be valid")
	}
}

func TestResolution_TargetState(t *testing.T) {
	tests := []struct {
		resolution Resolution
		want       TaskState
	}{
		{ResolutionRetryReset, TaskStateInProgress},
		{ResolutionForceAccept, TaskStateCompleted},
		{ResolutionAbort, TaskStateFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.resolution), func(t *testing.T) {
			if got := tt.resolution.TargetState(); got != tt.want {
				t.Errorf("%s.TargetState() = %s, want %s", tt.resolution, got, tt.want)
			}
		})
	}
}

func TestNewEscalationID(t *testing.T) {
	a := NewEscalationID()
	b := NewEscalationID()

	if a == b {
		t.Errorf("NewEscalationID() returned duplicate ids: %s", a)
	}
	if len(a) != len("esc-")+8 {
		t.Errorf("NewEscalationID() = %q, want esc- prefix plus 8 chars", a)
	}
}

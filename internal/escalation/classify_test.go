package escalation

import (
	"strings"
	"testing"

	"github.com/crewline/arbiter/pkg/models"
)

func fail(n int, feedback string) models.ValidationAttempt {
	return models.ValidationAttempt{
		AttemptNumber: n,
		ValidatorID:   "v1",
		Result:        models.VerdictFail,
		Feedback:      feedback,
	}
}

func pass(n int) models.ValidationAttempt {
	return models.ValidationAttempt{
		AttemptNumber: n,
		ValidatorID:   "v1",
		Result:        models.VerdictPass,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		history     []models.ValidationAttempt
		window      int
		wantReason  models.EscalationReason
		wantSummary string
	}{
		{
			name: "identical feedback deadlocks",
			history: []models.ValidationAttempt{
				fail(1, "missing error handling"),
				fail(2, "missing error handling"),
				fail(3, "missing error handling"),
			},
			window:      3,
			wantReason:  models.EscalationReasonRepeatedSameFailure,
			wantSummary: "deadlocked",
		},
		{
			name: "case and spacing differences still deadlock",
			history: []models.ValidationAttempt{
				fail(1, "Missing error handling"),
				fail(2, "  missing   ERROR handling "),
				fail(3, "missing error\thandling"),
			},
			window:      3,
			wantReason:  models.EscalationReasonRepeatedSameFailure,
			wantSummary: "deadlocked",
		},
		{
			name: "differing feedback diverges",
			history: []models.ValidationAttempt{
				fail(1, "missing error handling"),
				fail(2, "no tests"),
				fail(3, "wrong output format"),
			},
			window:      3,
			wantReason:  models.EscalationReasonDivergentFailure,
			wantSummary: "differing feedback",
		},
		{
			name: "window ignores a previous episode",
			history: []models.ValidationAttempt{
				fail(1, "no tests"),
				fail(2, "wrong output format"),
				fail(3, "missing docs"),
				fail(1, "missing error handling"),
				fail(2, "missing error handling"),
				fail(3, "missing error handling"),
			},
			window:      3,
			wantReason:  models.EscalationReasonRepeatedSameFailure,
			wantSummary: "deadlocked",
		},
		{
			name: "passes do not count against the window",
			history: []models.ValidationAttempt{
				pass(1),
				fail(2, "missing error handling"),
				fail(3, "missing error handling"),
			},
			window:      2,
			wantReason:  models.EscalationReasonRepeatedSameFailure,
			wantSummary: "deadlocked",
		},
		{
			name:        "single rejection repeats trivially",
			history:     []models.ValidationAttempt{fail(1, "missing error handling")},
			window:      1,
			wantReason:  models.EscalationReasonRepeatedSameFailure,
			wantSummary: "1 rejections",
		},
		{
			name:        "no rejections diverges",
			history:     nil,
			window:      3,
			wantReason:  models.EscalationReasonDivergentFailure,
			wantSummary: "no recorded rejections",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, summary := Classify("t-1", tt.history, tt.window)
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if !strings.Contains(summary, tt.wantSummary) {
				t.Errorf("summary %q does not contain %q", summary, tt.wantSummary)
			}
		})
	}
}

func TestNormalizeFeedback(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Missing Error Handling", "missing error handling"},
		{"  missing   error handling  ", "missing error handling"},
		{"missing\terror\nhandling", "missing error handling"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		if got := NormalizeFeedback(tt.in); got != tt.want {
			t.Errorf("NormalizeFeedback(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

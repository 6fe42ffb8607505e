package llm

import (
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantPass     bool
		wantFeedback string
	}{
		{
			name:         "pass with feedback",
			response:     "PASS: meets all the stated criteria",
			wantPass:     true,
			wantFeedback: "meets all the stated criteria",
		},
		{
			name:         "fail with feedback",
			response:     "FAIL: the summary omits the error path",
			wantPass:     false,
			wantFeedback: "the summary omits the error path",
		},
		{
			name:         "passed variant",
			response:     "PASSED - looks good",
			wantPass:     true,
			wantFeedback: "looks good",
		},
		{
			name:         "failed variant",
			response:     "FAILED: missing edge case coverage",
			wantPass:     false,
			wantFeedback: "missing edge case coverage",
		},
		{
			name:         "lowercase keyword",
			response:     "pass: acceptable",
			wantPass:     true,
			wantFeedback: "acceptable",
		},
		{
			name:         "bare pass",
			response:     "PASS",
			wantPass:     true,
			wantFeedback: "",
		},
		{
			name:         "bare fail gets placeholder feedback",
			response:     "FAIL",
			wantPass:     false,
			wantFeedback: "rejected without explanation",
		},
		{
			name:         "leading whitespace",
			response:     "  \n PASS: fine after trimming",
			wantPass:     true,
			wantFeedback: "fine after trimming",
		},
		{
			name:         "no keyword fails closed",
			response:     "The artifact looks mostly reasonable to me.",
			wantPass:     false,
			wantFeedback: "The artifact looks mostly reasonable to me.",
		},
		{
			name:         "empty response fails closed",
			response:     "",
			wantPass:     false,
			wantFeedback: "",
		},
		{
			name:         "pass mentioned mid-text does not count",
			response:     "I think this should PASS overall",
			wantPass:     false,
			wantFeedback: "I think this should PASS overall",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVerdict(tt.response)
			if got.Pass != tt.wantPass {
				t.Errorf("Pass = %v, want %v", got.Pass, tt.wantPass)
			}
			if got.Feedback != tt.wantFeedback {
				t.Errorf("Feedback = %q, want %q", got.Feedback, tt.wantFeedback)
			}
		})
	}
}

func TestParseVerdict_MultilineFeedback(t *testing.T) {
	response := "FAIL: two problems\n1. no input validation\n2. race on shutdown"

	got := ParseVerdict(response)
	if got.Pass {
		t.Error("Pass = true, want false")
	}
	if !strings.Contains(got.Feedback, "race on shutdown") {
		t.Errorf("Feedback lost later lines: %q", got.Feedback)
	}
}

func TestJudgeResponseFormat(t *testing.T) {
	format := JudgeResponseFormat()

	if !strings.Contains(format, "PASS") || !strings.Contains(format, "FAIL") {
		t.Errorf("format missing verdict keywords: %q", format)
	}
}

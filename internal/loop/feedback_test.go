package loop

import (
	"strings"
	"testing"

	"github.com/crewline/arbiter/pkg/models"
)

func TestBuildRetryInput_NoFailures(t *testing.T) {
	got := BuildRetryInput("original input", nil)
	if got != "original input" {
		t.Errorf("BuildRetryInput = %q, want the input unchanged", got)
	}

	got = BuildRetryInput("original input", []models.ValidationAttempt{
		{AttemptNumber: 1, Result: models.VerdictPass},
	})
	if got != "original input" {
		t.Errorf("BuildRetryInput with only passes = %q, want the input unchanged", got)
	}
}

func TestBuildRetryInput_MergesFailures(t *testing.T) {
	got := BuildRetryInput("implement the parser", []models.ValidationAttempt{
		{AttemptNumber: 1, Result: models.VerdictFail, Feedback: "no error handling"},
		{AttemptNumber: 2, Result: models.VerdictFail, Feedback: "tests missing"},
	})

	for _, want := range []string{
		"implement the parser",
		"Previous validation feedback",
		"attempt 1: no error handling",
		"attempt 2: tests missing",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("merged input missing %q:\n%s", want, got)
		}
	}
	if !strings.HasPrefix(got, "implement the parser") {
		t.Errorf("original input should lead the merged prompt:\n%s", got)
	}
}

func TestBuildRetryInput_SkipsPassEntries(t *testing.T) {
	// History can contain passes from before a retry-reset episode.
	got := BuildRetryInput("input", []models.ValidationAttempt{
		{AttemptNumber: 1, Result: models.VerdictFail, Feedback: "first complaint"},
		{AttemptNumber: 2, Result: models.VerdictPass, Feedback: "fine"},
	})

	if strings.Contains(got, "fine") {
		t.Errorf("pass feedback leaked into the retry input:\n%s", got)
	}
	if !strings.Contains(got, "first complaint") {
		t.Errorf("fail feedback missing from the retry input:\n%s", got)
	}
}

func TestBuildRetryInput_EmptyFeedbackPlaceholder(t *testing.T) {
	got := BuildRetryInput("input", []models.ValidationAttempt{
		{AttemptNumber: 1, Result: models.VerdictFail},
	})

	if !strings.Contains(got, "rejected without explanation") {
		t.Errorf("empty feedback should render a placeholder:\n%s", got)
	}
}

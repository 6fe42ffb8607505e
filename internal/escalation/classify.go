// Package escalation turns exhausted retry budgets into human decisions.
// The manager listens for escalation requests on the bus, opens the record,
// notifies the human role, and applies exactly one resolution per record.
package escalation

import (
	"fmt"
	"strings"

	"github.com/crewline/arbiter/pkg/models"
)

// Classify inspects the most recent window of rejections and reports whether
// they repeat one reason or diverge, plus a one-line summary for the
// approval request. A repeated reason means producer and validator are
// deadlocked; divergent reasons suggest unclear criteria. The classification
// is advisory metadata only and never changes which resolutions are offered.
func Classify(taskID string, history []models.ValidationAttempt, window int) (models.EscalationReason, string) {
	failures := lastFailures(history, window)
	if len(failures) == 0 {
		return models.EscalationReasonDivergentFailure,
			fmt.Sprintf("task %s escalated with no recorded rejections", taskID)
	}

	shared := NormalizeFeedback(failures[0].Feedback)
	for _, f := range failures[1:] {
		if NormalizeFeedback(f.Feedback) != shared {
			return models.EscalationReasonDivergentFailure,
				fmt.Sprintf("task %s: %d rejections with differing feedback", taskID, len(failures))
		}
	}

	deadlock := &models.DeadlockDetected{
		TaskID:     taskID,
		Feedback:   shared,
		Rejections: len(failures),
	}
	return models.EscalationReasonRepeatedSameFailure, deadlock.Error()
}

// NormalizeFeedback canonicalizes validator feedback for comparison:
// lowercase, trimmed, inner whitespace collapsed to single spaces.
func NormalizeFeedback(feedback string) string {
	return strings.Join(strings.Fields(strings.ToLower(feedback)), " ")
}

// lastFailures returns the trailing window of failed attempts, oldest first.
// Passed attempts never count against the window; a window of zero or less
// takes every failure. The window matters after a retry-reset, where the
// history still carries the previous episode's rejections.
func lastFailures(history []models.ValidationAttempt, window int) []models.ValidationAttempt {
	var failures []models.ValidationAttempt
	for _, a := range history {
		if a.Result == models.VerdictFail {
			failures = append(failures, a)
		}
	}
	if window > 0 && len(failures) > window {
		failures = failures[len(failures)-window:]
	}
	return failures
}

// Package loop runs the bounded validation loop: submitted artifacts go to
// a validator, rejected attempts retry with merged feedback, and an
// exhausted retry budget escalates to a human.
package loop

import (
	"fmt"
	"strings"

	"github.com/crewline/arbiter/pkg/models"
)

// BuildRetryInput merges prior validation feedback into the producer's
// original input for the next attempt. The task keeps its pristine input;
// the merge happens per assignment so feedback never compounds.
func BuildRetryInput(original string, attempts []models.ValidationAttempt) string {
	var failed []models.ValidationAttempt
	for _, a := range attempts {
		if a.Result == models.VerdictFail {
			failed = append(failed, a)
		}
	}
	if len(failed) == 0 {
		return original
	}

	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\n## Previous validation feedback\n\n")
	b.WriteString("Earlier attempts were rejected. Address every point below.\n")
	for _, a := range failed {
		feedback := a.Feedback
		if feedback == "" {
			feedback = "(rejected without explanation)"
		}
		fmt.Fprintf(&b, "\n- attempt %d: %s", a.AttemptNumber, feedback)
	}
	b.WriteString("\n")
	return b.String()
}

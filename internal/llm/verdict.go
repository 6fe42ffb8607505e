package llm

import "strings"

// Verdict is a parsed judge response.
type Verdict struct {
	// Pass reports whether the judge accepted the artifact.
	Pass bool
	// Feedback is the judge's explanation; empty on a bare PASS.
	Feedback string
}

// judgeResponseFormat is appended to every judge prompt so responses stay
// machine-parseable.
const judgeResponseFormat = `Respond with EXACTLY one of:
- PASS: [1-2 sentence summary of why it meets the criteria]
- FAIL: [specific problems that must be fixed]`

// JudgeResponseFormat returns the response-format instruction judge prompts
// must carry.
func JudgeResponseFormat() string {
	return judgeResponseFormat
}

// ParseVerdict interprets a judge response. The leading keyword decides the
// verdict; everything after the separator is feedback. A response with no
// recognizable keyword is treated as a failure with the full text as
// feedback, so a rambling judge can never silently accept work.
func ParseVerdict(response string) Verdict {
	text := strings.TrimSpace(response)

	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "PASS"):
		return Verdict{Pass: true, Feedback: trimVerdictPrefix(text)}
	case strings.HasPrefix(upper, "FAIL"):
		feedback := trimVerdictPrefix(text)
		if feedback == "" {
			feedback = "rejected without explanation"
		}
		return Verdict{Pass: false, Feedback: feedback}
	default:
		return Verdict{Pass: false, Feedback: text}
	}
}

// trimVerdictPrefix strips the verdict keyword and its separator.
func trimVerdictPrefix(text string) string {
	rest := text[4:]                    // len("PASS") == len("FAIL")
	rest = strings.TrimLeft(rest, "ED") // tolerate PASSED/FAILED
	rest = strings.TrimSpace(rest)
	rest = strings.TrimLeft(rest, ":-")
	return strings.TrimSpace(rest)
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewline/arbiter/internal/llm"
	"github.com/crewline/arbiter/pkg/models"
)

// producerSystemPrompt frames a Claude-backed producer. The protocol
// supplies all context through the assignment; the model sees one
// self-contained request per attempt.
const producerSystemPrompt = `You are a producer agent in a development pipeline.
You receive one component to produce: its instructions and the acceptance
criteria it will be judged against. Produce the complete artifact.

Respond with the artifact content only - no preamble, no commentary.`

// validatorSystemPrompt frames a Claude-backed validator.
const validatorSystemPrompt = `You are a validator agent in a development pipeline.
Judge the artifact strictly against the acceptance criteria. Reward only
criteria actually met, not effort. When prior attempts exist, confirm the
earlier complaints were addressed.`

// ClaudeConfig configures a ClaudeProxy.
type ClaudeConfig struct {
	// ID is the agent identifier.
	ID string
	// Role is the part the agent plays (producer or validator).
	Role models.AgentRole
	// Capabilities is the advertised skill set.
	Capabilities []string
	// Client is the API client to call; required.
	Client *llm.Client
	// MaxTokens caps each completion; zero uses the client default.
	MaxTokens int64
}

// ClaudeProxy is a proxy backed by the Anthropic Messages API. Producers
// turn assignments into a single completion; validators turn reviews into a
// judge call whose response is parsed into a verdict.
type ClaudeProxy struct {
	cfg ClaudeConfig
}

// NewClaudeProxy creates a Claude-backed proxy.
func NewClaudeProxy(cfg ClaudeConfig) (*ClaudeProxy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("claude proxy: id is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("claude proxy %s: client is required", cfg.ID)
	}
	return &ClaudeProxy{cfg: cfg}, nil
}

// ID implements Proxy.
func (c *ClaudeProxy) ID() string { return c.cfg.ID }

// Role implements Proxy.
func (c *ClaudeProxy) Role() models.AgentRole { return c.cfg.Role }

// Capabilities implements Proxy.
func (c *ClaudeProxy) Capabilities() []string { return c.cfg.Capabilities }

// HandleTaskAssignment implements Proxy by asking the model to produce the
// artifact in one completion.
func (c *ClaudeProxy) HandleTaskAssignment(ctx context.Context, a Assignment, progress ProgressFunc) (models.Artifact, error) {
	progress(fmt.Sprintf("attempt %d: calling %s", a.AttemptNumber, c.cfg.Client.Model()))

	content, err := c.cfg.Client.Complete(ctx, producerSystemPrompt, buildProducerPrompt(a), c.cfg.MaxTokens)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("produce %s: %w", a.ComponentID, err)
	}

	tracker := c.cfg.Client.Tracker()
	in, out := tracker.Total()
	progress(fmt.Sprintf("attempt %d: artifact ready (%d tokens in, %d out over %d calls)", a.AttemptNumber, in, out, tracker.Calls()))

	return models.Artifact{
		Content:    content,
		ProducedBy: c.cfg.ID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// HandleValidationRequest implements Proxy by asking the model for a
// PASS/FAIL judgment and parsing the response.
func (c *ClaudeProxy) HandleValidationRequest(ctx context.Context, r Review) (models.ValidationOutcome, error) {
	resp, err := c.cfg.Client.Complete(ctx, validatorSystemPrompt, buildValidatorPrompt(r), c.cfg.MaxTokens)
	if err != nil {
		return models.ValidationOutcome{}, fmt.Errorf("judge task %s: %w", r.TaskID, err)
	}

	verdict := llm.ParseVerdict(resp)
	outcome := models.ValidationOutcome{Result: models.VerdictFail, Feedback: verdict.Feedback}
	if verdict.Pass {
		outcome.Result = models.VerdictPass
	}
	return outcome, nil
}

// Verify ClaudeProxy implements Proxy at compile time.
var _ Proxy = (*ClaudeProxy)(nil)

// buildProducerPrompt renders an assignment as a single completion prompt.
func buildProducerPrompt(a Assignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Component: %s\nAttempt: %d\n\n", a.ComponentID, a.AttemptNumber)
	fmt.Fprintf(&b, "## Instructions\n\n%s\n", a.Input)
	if a.Criteria != "" {
		fmt.Fprintf(&b, "\n## Acceptance criteria\n\n%s\n", a.Criteria)
	}
	return b.String()
}

// buildValidatorPrompt renders a review as a judge prompt ending with the
// mandatory response format.
func buildValidatorPrompt(r Review) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attempt %d of task %s is ready for judgment.\n\n", r.AttemptNumber, r.TaskID)
	fmt.Fprintf(&b, "## Acceptance criteria\n\n%s\n", r.Criteria)

	if len(r.History) > 0 {
		b.WriteString("\n## Previous attempts\n\n")
		for _, attempt := range r.History {
			fmt.Fprintf(&b, "- attempt %d (%s)", attempt.AttemptNumber, attempt.Result)
			if attempt.Feedback != "" {
				fmt.Fprintf(&b, ": %s", attempt.Feedback)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n## Artifact\n\n%s\n\n", r.Artifact.Content)
	b.WriteString(llm.JudgeResponseFormat())
	return b.String()
}

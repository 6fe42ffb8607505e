package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewline/arbiter/pkg/models"
)

// StubConfig configures a StubProxy.
type StubConfig struct {
	// ID is the agent identifier.
	ID string
	// Role is the part the stub plays.
	Role models.AgentRole
	// Capabilities is the advertised skill set.
	Capabilities []string
	// WorkDelay simulates time spent on an assignment; zero is immediate.
	WorkDelay time.Duration
	// Produce overrides the default artifact builder.
	Produce func(ctx context.Context, a Assignment, progress ProgressFunc) (models.Artifact, error)
	// Judge overrides the default keyword check.
	Judge func(ctx context.Context, r Review) (models.ValidationOutcome, error)
}

// StubProxy is a scripted in-process agent for tests and demo pipelines.
// The default producer echoes its input into the artifact; the default
// validator is KeywordJudge. Either behavior can be replaced per instance.
type StubProxy struct {
	cfg StubConfig
}

// NewStub creates a stub proxy from cfg.
func NewStub(cfg StubConfig) *StubProxy {
	return &StubProxy{cfg: cfg}
}

// ID implements Proxy.
func (s *StubProxy) ID() string { return s.cfg.ID }

// Role implements Proxy.
func (s *StubProxy) Role() models.AgentRole { return s.cfg.Role }

// Capabilities implements Proxy.
func (s *StubProxy) Capabilities() []string { return s.cfg.Capabilities }

// HandleTaskAssignment implements Proxy.
func (s *StubProxy) HandleTaskAssignment(ctx context.Context, a Assignment, progress ProgressFunc) (models.Artifact, error) {
	if s.cfg.Produce != nil {
		return s.cfg.Produce(ctx, a, progress)
	}

	progress("drafting " + a.ComponentID)

	if s.cfg.WorkDelay > 0 {
		select {
		case <-time.After(s.cfg.WorkDelay):
		case <-ctx.Done():
			return models.Artifact{}, ctx.Err()
		}
	}

	content := fmt.Sprintf("%s (attempt %d)\n%s", a.ComponentID, a.AttemptNumber, a.Input)
	return models.Artifact{
		Content:    content,
		ProducedBy: s.cfg.ID,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// HandleValidationRequest implements Proxy.
func (s *StubProxy) HandleValidationRequest(ctx context.Context, r Review) (models.ValidationOutcome, error) {
	if s.cfg.Judge != nil {
		return s.cfg.Judge(ctx, r)
	}
	return KeywordJudge(r), nil
}

// Verify StubProxy implements Proxy at compile time.
var _ Proxy = (*StubProxy)(nil)

// KeywordJudge is the demo validator: the artifact passes when it mentions
// every significant word of the criteria. Words shorter than four letters
// are skipped so filler ("the", "and", "a") never fails an artifact.
func KeywordJudge(r Review) models.ValidationOutcome {
	missing := missingKeywords(r.Artifact.Content, r.Criteria)
	if len(missing) == 0 {
		return models.ValidationOutcome{Result: models.VerdictPass}
	}
	return models.ValidationOutcome{
		Result:   models.VerdictFail,
		Feedback: "artifact does not mention: " + strings.Join(missing, ", "),
	}
}

// missingKeywords returns the significant criteria words absent from
// content, deduplicated, in criteria order.
func missingKeywords(content, criteria string) []string {
	haystack := strings.ToLower(content)

	var missing []string
	reported := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(criteria)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) < 4 || reported[word] {
			continue
		}
		if !strings.Contains(haystack, word) {
			missing = append(missing, word)
			reported[word] = true
		}
	}
	return missing
}

package main

import (
	"fmt"

	"github.com/crewline/arbiter/internal/agent"
	"github.com/crewline/arbiter/internal/config"
	"github.com/crewline/arbiter/internal/llm"
	"github.com/crewline/arbiter/pkg/models"
)

// agentsExample is shown when run starts with no agents configured.
const agentsExample = `agents:
  - id: producer-1
    role: producer
    kind: claude
    model: sonnet
    capabilities: [go]
  - id: validator-1
    role: validator
    kind: claude
    model: sonnet`

// buildProxies constructs one proxy per configured agent. Claude agents
// each get their own API client so models can differ per agent.
func buildProxies(cfg *config.Config) ([]agent.Proxy, error) {
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("no agents configured; add an agents list to .arbiter.yaml, e.g.\n\n%s", agentsExample)
	}

	proxies := make([]agent.Proxy, 0, len(cfg.Agents))
	for i, ac := range cfg.Agents {
		role, err := parseAgentRole(ac.Role)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}

		id := ac.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", role, i+1)
		}

		switch ac.Kind {
		case "stub":
			proxies = append(proxies, agent.NewStub(agent.StubConfig{
				ID:           id,
				Role:         role,
				Capabilities: ac.Capabilities,
			}))
		case "", "claude":
			var apiKey string
			if !cfg.Bedrock.Enabled {
				key, err := config.GetAPIKey(cfg)
				if err != nil {
					return nil, fmt.Errorf("agent %s: %w", id, err)
				}
				apiKey = key
			}
			client, err := llm.NewClient(llm.ClientConfig{
				Model:         ac.Model,
				APIKey:        apiKey,
				UseAWSBedrock: cfg.Bedrock.Enabled,
				AWSRegion:     cfg.Bedrock.Region,
			})
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", id, err)
			}
			proxy, err := agent.NewClaudeProxy(agent.ClaudeConfig{
				ID:           id,
				Role:         role,
				Capabilities: ac.Capabilities,
				Client:       client,
			})
			if err != nil {
				return nil, err
			}
			proxies = append(proxies, proxy)
		default:
			return nil, fmt.Errorf("agent %s: unknown kind %q (stub or claude)", id, ac.Kind)
		}
	}

	if err := checkRosterShape(proxies); err != nil {
		return nil, err
	}
	return proxies, nil
}

// needsLLM reports whether any configured agent is Claude-backed and will
// therefore need API or Bedrock credentials.
func needsLLM(cfg *config.Config) bool {
	for _, ac := range cfg.Agents {
		if ac.Kind == "" || ac.Kind == "claude" {
			return true
		}
	}
	return false
}

// liveComponents maps component ids that already have a task worth keeping.
// Failed tasks do not count, so rerunning a pipeline retries its failures.
func liveComponents(tasks []*models.Task) map[string]bool {
	live := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.State != models.TaskStateFailed {
			live[t.ComponentID] = true
		}
	}
	return live
}

// parseAgentRole maps a config role string to its model constant.
func parseAgentRole(role string) (models.AgentRole, error) {
	switch role {
	case "producer":
		return models.RoleProducer, nil
	case "validator":
		return models.RoleValidator, nil
	default:
		return "", fmt.Errorf("unknown role %q (producer or validator)", role)
	}
}

// checkRosterShape rejects agent sets that can never make progress: a
// pipeline needs at least one producer and at least one validator.
func checkRosterShape(proxies []agent.Proxy) error {
	var producers, validators int
	for _, p := range proxies {
		switch p.Role() {
		case models.RoleProducer:
			producers++
		case models.RoleValidator:
			validators++
		}
	}
	if producers == 0 {
		return fmt.Errorf("no producer agents configured; nothing can build artifacts")
	}
	if validators == 0 {
		return fmt.Errorf("no validator agents configured; nothing can judge artifacts")
	}
	return nil
}

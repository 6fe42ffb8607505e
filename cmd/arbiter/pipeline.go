package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crewline/arbiter/internal/config"
	"github.com/crewline/arbiter/pkg/models"
)

// pipelineFile is the YAML shape of a pipeline definition.
type pipelineFile struct {
	Components []pipelineComponent `yaml:"components"`
}

// pipelineComponent declares one task to submit.
type pipelineComponent struct {
	// ID names the component; it becomes the task's component_id.
	ID string `yaml:"id"`
	// Class selects the timeout profile; empty uses the configured default.
	Class string `yaml:"class"`
	// Requires lists capabilities the producer must declare.
	Requires []string `yaml:"requires"`
	// Input is the instruction handed to the producer.
	Input string `yaml:"input"`
	// Criteria is what the validator judges the artifact against.
	Criteria string `yaml:"criteria"`
	// MaxRetries overrides the configured retry budget when set.
	MaxRetries *int `yaml:"max_retries"`
}

// loadPipeline reads and validates a pipeline definition file.
func loadPipeline(path string) (*pipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	pf, err := parsePipeline(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

// parsePipeline decodes and validates pipeline YAML.
func parsePipeline(data []byte) (*pipelineFile, error) {
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}

	if len(pf.Components) == 0 {
		return nil, fmt.Errorf("pipeline has no components")
	}

	seen := make(map[string]bool, len(pf.Components))
	for i, c := range pf.Components {
		if c.ID == "" {
			return nil, fmt.Errorf("component %d: id is required", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("component %s: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if c.Input == "" {
			return nil, fmt.Errorf("component %s: input is required", c.ID)
		}
		if c.Criteria == "" {
			return nil, fmt.Errorf("component %s: criteria is required", c.ID)
		}
		if c.MaxRetries != nil && *c.MaxRetries < 1 {
			return nil, fmt.Errorf("component %s: max_retries must be at least 1", c.ID)
		}
	}
	return &pf, nil
}

// buildTasks turns pipeline components into tasks, filling class and retry
// budget from the configured defaults where the component left them unset.
func buildTasks(pf *pipelineFile, defaults config.DefaultsConfig) []*models.Task {
	tasks := make([]*models.Task, 0, len(pf.Components))
	for _, c := range pf.Components {
		class := c.Class
		if class == "" {
			class = defaults.Class
		}
		maxRetries := defaults.MaxRetries
		if c.MaxRetries != nil {
			maxRetries = *c.MaxRetries
		}
		tasks = append(tasks, &models.Task{
			ComponentID: c.ID,
			Class:       class,
			Requires:    c.Requires,
			Input:       c.Input,
			Criteria:    c.Criteria,
			MaxRetries:  maxRetries,
		})
	}
	return tasks
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// TaskClass holds the liveness deadlines and retry budget for one class of
// task. Deadlines are measured from the task's last observed activity.
type TaskClass struct {
	// Name is the class name tasks reference (quick, standard, heavy).
	Name string
	// AssignedTimeout bounds how long an assignment may sit unacknowledged.
	AssignedTimeout time.Duration
	// ProgressTimeout bounds silence from the owner while work is underway.
	ProgressTimeout time.Duration
	// ValidatingTimeout bounds how long a validation verdict may take.
	ValidatingTimeout time.Duration
	// MaxRetries is the rejection budget before escalation.
	MaxRetries int
	// Model is the LLM model alias agents should use for this class.
	Model string
}

// rawTaskClass is the YAML file surface; durations arrive as strings.
type rawTaskClass struct {
	Name              string `yaml:"name"`
	AssignedTimeout   string `yaml:"assigned_timeout"`
	ProgressTimeout   string `yaml:"progress_timeout"`
	ValidatingTimeout string `yaml:"validating_timeout"`
	MaxRetries        int    `yaml:"max_retries"`
	Model             string `yaml:"model"`
}

// TaskClasses maps class names to their configuration.
type TaskClasses struct {
	classes  map[string]*TaskClass
	fallback string
}

// Get returns the class config for the given name, falling back to the
// standard class for unknown or empty names.
func (tc *TaskClasses) Get(name string) *TaskClass {
	if c, ok := tc.classes[name]; ok {
		return c
	}
	return tc.classes[tc.fallback]
}

// Names returns all configured class names, sorted.
func (tc *TaskClasses) Names() []string {
	names := make([]string, 0, len(tc.classes))
	for name := range tc.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a class with the given name is configured.
func (tc *TaskClasses) Has(name string) bool {
	_, ok := tc.classes[name]
	return ok
}

// LoadTaskClasses loads class definitions from every .yaml file in the
// given directory. Missing directories fall back to the built-in classes;
// a malformed file is an error.
func LoadTaskClasses(dir string) (*TaskClasses, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTaskClasses(), nil
		}
		return nil, fmt.Errorf("read classes directory: %w", err)
	}

	loaded := DefaultTaskClasses()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		class, err := loadTaskClass(path)
		if err != nil {
			return nil, fmt.Errorf("load class %s: %w", entry.Name(), err)
		}
		loaded.classes[class.Name] = class
	}
	return loaded, nil
}

// loadTaskClass reads and validates a single class definition.
func loadTaskClass(path string) (*TaskClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw rawTaskClass
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw.Name == "" {
		raw.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}

	class := &TaskClass{
		Name:       raw.Name,
		MaxRetries: raw.MaxRetries,
		Model:      raw.Model,
	}
	if class.MaxRetries <= 0 {
		class.MaxRetries = 3
	}

	if class.AssignedTimeout, err = parseDuration(raw.AssignedTimeout, 2*time.Minute); err != nil {
		return nil, fmt.Errorf("assigned_timeout: %w", err)
	}
	if class.ProgressTimeout, err = parseDuration(raw.ProgressTimeout, 15*time.Minute); err != nil {
		return nil, fmt.Errorf("progress_timeout: %w", err)
	}
	if class.ValidatingTimeout, err = parseDuration(raw.ValidatingTimeout, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("validating_timeout: %w", err)
	}

	return class, nil
}

// parseDuration parses a duration string, substituting a default when empty.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// DefaultTaskClasses returns the built-in class definitions, used when no
// .arbiter/classes directory exists.
func DefaultTaskClasses() *TaskClasses {
	return &TaskClasses{
		fallback: "standard",
		classes: map[string]*TaskClass{
			"quick": {
				Name:              "quick",
				AssignedTimeout:   30 * time.Second,
				ProgressTimeout:   5 * time.Minute,
				ValidatingTimeout: 2 * time.Minute,
				MaxRetries:        3,
				Model:             "haiku",
			},
			"standard": {
				Name:              "standard",
				AssignedTimeout:   2 * time.Minute,
				ProgressTimeout:   15 * time.Minute,
				ValidatingTimeout: 5 * time.Minute,
				MaxRetries:        3,
				Model:             "sonnet",
			},
			"heavy": {
				Name:              "heavy",
				AssignedTimeout:   5 * time.Minute,
				ProgressTimeout:   30 * time.Minute,
				ValidatingTimeout: 10 * time.Minute,
				MaxRetries:        2,
				Model:             "opus",
			},
		},
	}
}

// ProjectClassesDir returns the conventional per-project class directory.
func ProjectClassesDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".arbiter", "classes")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.Class != "standard" {
		t.Errorf("expected default class 'standard', got %q", cfg.Defaults.Class)
	}

	if cfg.Defaults.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Defaults.MaxRetries)
	}

	if cfg.Bus.RedeliveryLimit != 3 {
		t.Errorf("expected redelivery limit 3, got %d", cfg.Bus.RedeliveryLimit)
	}

	if cfg.Bus.RetryBackoff != 50*time.Millisecond {
		t.Errorf("expected retry backoff 50ms, got %v", cfg.Bus.RetryBackoff)
	}

	if cfg.Watchdog.Interval != 5*time.Second {
		t.Errorf("expected watchdog interval 5s, got %v", cfg.Watchdog.Interval)
	}

	if cfg.Escalation.ResponseTimeout != 0 {
		t.Errorf("expected escalation response timeout 0 (wait forever), got %v", cfg.Escalation.ResponseTimeout)
	}

	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}

	if cfg.Bedrock.Enabled {
		t.Error("expected bedrock disabled by default")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
bedrock:
  enabled: true
  region: us-west-2
defaults:
  class: heavy
  max_retries: 5
bus:
  redelivery_limit: 2
  retry_backoff: 10ms
watchdog:
  interval: 1s
escalation:
  response_timeout: 30m
agents:
  - id: builder-1
    role: producer
    kind: claude
    model: sonnet
    capabilities: [go, sql]
  - role: validator
    kind: stub
    capabilities: [go]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}

	if !cfg.Bedrock.Enabled || cfg.Bedrock.Region != "us-west-2" {
		t.Errorf("expected bedrock enabled in us-west-2, got %+v", cfg.Bedrock)
	}

	if cfg.Defaults.Class != "heavy" {
		t.Errorf("expected class 'heavy', got %q", cfg.Defaults.Class)
	}

	if cfg.Defaults.MaxRetries != 5 {
		t.Errorf("expected max_retries 5, got %d", cfg.Defaults.MaxRetries)
	}

	if cfg.Bus.RedeliveryLimit != 2 {
		t.Errorf("expected redelivery limit 2, got %d", cfg.Bus.RedeliveryLimit)
	}

	if cfg.Bus.RetryBackoff != 10*time.Millisecond {
		t.Errorf("expected retry backoff 10ms, got %v", cfg.Bus.RetryBackoff)
	}

	if cfg.Escalation.ResponseTimeout != 30*time.Minute {
		t.Errorf("expected escalation response timeout 30m, got %v", cfg.Escalation.ResponseTimeout)
	}

	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}

	first := cfg.Agents[0]
	if first.ID != "builder-1" || first.Role != "producer" || first.Kind != "claude" || first.Model != "sonnet" {
		t.Errorf("first agent = %+v, want builder-1/producer/claude/sonnet", first)
	}
	if len(first.Capabilities) != 2 || first.Capabilities[1] != "sql" {
		t.Errorf("first agent capabilities = %v, want [go sql]", first.Capabilities)
	}

	second := cfg.Agents[1]
	if second.ID != "" || second.Kind != "stub" {
		t.Errorf("second agent = %+v, want generated id and stub kind", second)
	}
}

func TestLoadFromPathRetainsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// A sparse file overrides only what it names.
	if err := os.WriteFile(configPath, []byte("defaults:\n  class: quick\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Defaults.Class != "quick" {
		t.Errorf("expected class 'quick', got %q", cfg.Defaults.Class)
	}
	if cfg.Defaults.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Defaults.MaxRetries)
	}
	if cfg.Bus.RedeliveryLimit != 3 {
		t.Errorf("expected default redelivery limit 3, got %d", cfg.Bus.RedeliveryLimit)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	result := expandEnv("${TEST_VAR}")
	if result != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", result)
	}

	result = expandEnv("prefix-${TEST_VAR}-suffix")
	if result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	expected := "/custom/config/arbiter"
	if dir != expected {
		t.Errorf("expected %q, got %q", expected, dir)
	}
}

func TestLoadTaskClasses(t *testing.T) {
	tmpDir := t.TempDir()

	fastContent := `
name: fast
assigned_timeout: 15s
progress_timeout: 2m
validating_timeout: 45s
max_retries: 1
model: haiku
`
	if err := os.WriteFile(filepath.Join(tmpDir, "fast.yaml"), []byte(fastContent), 0644); err != nil {
		t.Fatalf("failed to write fast.yaml: %v", err)
	}

	// Overrides an existing built-in class.
	standardContent := `
progress_timeout: 45m
`
	if err := os.WriteFile(filepath.Join(tmpDir, "standard.yaml"), []byte(standardContent), 0644); err != nil {
		t.Fatalf("failed to write standard.yaml: %v", err)
	}

	classes, err := LoadTaskClasses(tmpDir)
	if err != nil {
		t.Fatalf("LoadTaskClasses failed: %v", err)
	}

	fast := classes.Get("fast")
	if fast.Name != "fast" {
		t.Errorf("expected class 'fast', got %q", fast.Name)
	}
	if fast.AssignedTimeout != 15*time.Second {
		t.Errorf("expected assigned_timeout 15s, got %v", fast.AssignedTimeout)
	}
	if fast.ProgressTimeout != 2*time.Minute {
		t.Errorf("expected progress_timeout 2m, got %v", fast.ProgressTimeout)
	}
	if fast.MaxRetries != 1 {
		t.Errorf("expected max_retries 1, got %d", fast.MaxRetries)
	}
	if fast.Model != "haiku" {
		t.Errorf("expected model 'haiku', got %q", fast.Model)
	}

	standard := classes.Get("standard")
	if standard.ProgressTimeout != 45*time.Minute {
		t.Errorf("expected overridden progress_timeout 45m, got %v", standard.ProgressTimeout)
	}
	// Unset fields in an override file fall back to the parse defaults.
	if standard.AssignedTimeout != 2*time.Minute {
		t.Errorf("expected assigned_timeout 2m, got %v", standard.AssignedTimeout)
	}

	// Built-ins not overridden remain available.
	if classes.Get("heavy") == nil || classes.Get("heavy").Model != "opus" {
		t.Error("expected built-in heavy class to survive loading")
	}
}

func TestLoadTaskClasses_MissingDir(t *testing.T) {
	classes, err := LoadTaskClasses(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadTaskClasses on missing dir failed: %v", err)
	}

	if classes.Get("standard") == nil {
		t.Fatal("expected built-in classes when directory missing")
	}
}

func TestLoadTaskClasses_MalformedFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "broken.yaml"), []byte("assigned_timeout: [nope"), 0644); err != nil {
		t.Fatalf("failed to write broken.yaml: %v", err)
	}

	if _, err := LoadTaskClasses(tmpDir); err == nil {
		t.Error("expected error for malformed class file")
	}
}

func TestDefaultTaskClasses(t *testing.T) {
	classes := DefaultTaskClasses()

	for _, name := range []string{"quick", "standard", "heavy"} {
		if c := classes.Get(name); c == nil || c.Name != name {
			t.Errorf("expected built-in class %q", name)
		}
	}

	quick := classes.Get("quick")
	if quick.AssignedTimeout != 30*time.Second {
		t.Errorf("expected quick assigned_timeout 30s, got %v", quick.AssignedTimeout)
	}

	heavy := classes.Get("heavy")
	if heavy.MaxRetries != 2 {
		t.Errorf("expected heavy max_retries 2, got %d", heavy.MaxRetries)
	}
}

func TestTaskClassesGet_FallsBack(t *testing.T) {
	classes := DefaultTaskClasses()

	got := classes.Get("unknown")
	if got == nil || got.Name != "standard" {
		t.Errorf("Get(unknown) = %v, want the standard fallback", got)
	}

	got = classes.Get("")
	if got == nil || got.Name != "standard" {
		t.Errorf("Get(\"\") = %v, want the standard fallback", got)
	}
}

func TestTaskClassesNames_Sorted(t *testing.T) {
	classes := DefaultTaskClasses()

	names := classes.Names()
	want := []string{"heavy", "quick", "standard"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestTaskClassesHas(t *testing.T) {
	classes := DefaultTaskClasses()

	if !classes.Has("quick") {
		t.Error("Has(quick) = false, want true")
	}
	if classes.Has("unknown") {
		t.Error("Has(unknown) = true, want false")
	}
	if classes.Has("") {
		t.Error("Has(\"\") = true, want false")
	}
}

// Package config handles configuration loading and management for Arbiter.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Arbiter.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Bedrock    BedrockConfig    `mapstructure:"bedrock"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Bus        BusConfig        `mapstructure:"bus"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	TUI        TUIConfig        `mapstructure:"tui"`
	Agents     []AgentConfig    `mapstructure:"agents"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// BedrockConfig holds AWS Bedrock settings for running agents through
// Bedrock instead of the Anthropic API directly.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
}

// DefaultsConfig holds default values applied to submitted tasks.
type DefaultsConfig struct {
	Class      string `mapstructure:"class"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// BusConfig holds message bus delivery settings.
type BusConfig struct {
	RedeliveryLimit int           `mapstructure:"redelivery_limit"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// WatchdogConfig holds liveness scan settings.
type WatchdogConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// EscalationConfig holds escalation handling settings.
type EscalationConfig struct {
	// ResponseTimeout bounds how long an escalation may sit unresolved
	// before it is aborted automatically. Zero waits indefinitely.
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// AgentConfig describes one agent to register at startup.
type AgentConfig struct {
	// ID is the agent identifier; generated when empty.
	ID string `mapstructure:"id"`
	// Role is producer or validator.
	Role string `mapstructure:"role"`
	// Kind selects the proxy implementation (claude, stub).
	Kind string `mapstructure:"kind"`
	// Model is the LLM model alias for claude agents.
	Model string `mapstructure:"model"`
	// Capabilities lists what the agent can work on.
	Capabilities []string `mapstructure:"capabilities"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, ARBITER_*)
// 2. Project config (.arbiter.yaml in current directory or parent)
// 3. User config (~/.config/arbiter/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ARBITER")

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("bedrock.enabled", "ARBITER_BEDROCK")
	v.BindEnv("bedrock.region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from one explicit file, bypassing the
// usual search paths. The --config flag routes here.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("bedrock.enabled", cfg.Bedrock.Enabled)
	v.Set("bedrock.region", cfg.Bedrock.Region)
	v.Set("defaults.class", cfg.Defaults.Class)
	v.Set("defaults.max_retries", cfg.Defaults.MaxRetries)
	v.Set("bus.redelivery_limit", cfg.Bus.RedeliveryLimit)
	v.Set("bus.retry_backoff", cfg.Bus.RetryBackoff.String())
	v.Set("watchdog.interval", cfg.Watchdog.Interval.String())
	v.Set("escalation.response_timeout", cfg.Escalation.ResponseTimeout.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults seeds viper from Default so the two surfaces cannot drift.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)

	v.SetDefault("bedrock.enabled", d.Bedrock.Enabled)
	v.SetDefault("bedrock.region", d.Bedrock.Region)

	v.SetDefault("defaults.class", d.Defaults.Class)
	v.SetDefault("defaults.max_retries", d.Defaults.MaxRetries)

	v.SetDefault("bus.redelivery_limit", d.Bus.RedeliveryLimit)
	v.SetDefault("bus.retry_backoff", d.Bus.RetryBackoff.String())

	v.SetDefault("watchdog.interval", d.Watchdog.Interval.String())

	v.SetDefault("escalation.response_timeout", d.Escalation.ResponseTimeout.String())

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for Arbiter.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "arbiter")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "arbiter")
	}
	return filepath.Join(home, ".config", "arbiter")
}

// findProjectConfig searches for .arbiter.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".arbiter.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Bedrock: BedrockConfig{
			Region: "us-east-1",
		},
		Defaults: DefaultsConfig{
			Class:      "standard",
			MaxRetries: 3,
		},
		Bus: BusConfig{
			RedeliveryLimit: 3,
			RetryBackoff:    50 * time.Millisecond,
		},
		Watchdog: WatchdogConfig{
			Interval: 5 * time.Second,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

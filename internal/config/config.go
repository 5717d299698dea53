// Package config loads the Conveyor server configuration and the
// .conveyor.yaml application files that repositories carry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/resilient-vitality/conveyor/internal/logging"
)

// Config represents the main server configuration
type Config struct {
	Version      string           `yaml:"version"`
	Logging      *logging.Config  `yaml:"logging"`
	Gateway      *GatewayConfig   `yaml:"gateway"`
	GitHub       *GitHubConfig    `yaml:"github"`
	GitLab       *GitLabConfig    `yaml:"gitlab"`
	Slack        *SlackConfig     `yaml:"slack"`
	AWS          *AWSConfig       `yaml:"aws"`
	Store        *StoreConfig     `yaml:"store"`
	Scheduler    *SchedulerConfig `yaml:"scheduler"`
	Applications []*AppRef        `yaml:"applications"`
}

// GatewayConfig holds the HTTP listener settings
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GitHubConfig holds webhook verification and API access settings
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	Token         string `yaml:"token"`
}

// GitLabConfig holds the webhook token for GitLab deliveries. Leave the
// section out to disable the GitLab endpoint.
type GitLabConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// SlackConfig holds the approval and notification channel settings
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// AWSConfig holds the build and deploy substrate settings
type AWSConfig struct {
	Region           string `yaml:"region"`
	ArtifactBucket   string `yaml:"artifact_bucket"`
	CodeBuildProject string `yaml:"codebuild_project"`
}

// StoreConfig holds persistence settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds pipeline scheduling settings
type SchedulerConfig struct {
	// MaxRetries is the number of consecutive tick errors tolerated per
	// pipeline before it is cancelled.
	MaxRetries int `yaml:"max_retries"`
	// ArchiveSchedule is a cron expression for sweeping finished pipelines
	// out of the active table.
	ArchiveSchedule string `yaml:"archive_schedule"`
}

// AppRef registers one repository whose .conveyor.yaml Conveyor manages.
type AppRef struct {
	Repo string `yaml:"repo"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Logging: &logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Gateway: &GatewayConfig{
			Host: "127.0.0.1",
			Port: 9090,
		},
		GitHub: &GitHubConfig{},
		Slack:  &SlackConfig{},
		AWS: &AWSConfig{
			Region: "us-east-1",
		},
		Store: &StoreConfig{
			Path: filepath.Join(homeDir, ".conveyor", "conveyor.db"),
		},
		Scheduler: &SchedulerConfig{
			MaxRetries:      5,
			ArchiveSchedule: "@hourly",
		},
		Applications: []*AppRef{},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables so secrets stay out of the file
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Store != nil {
		config.Store.Path = expandPath(config.Store.Path)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".conveyor", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.GitHub == nil || c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github webhook secret is required")
	}
	if c.AWS == nil || c.AWS.ArtifactBucket == "" {
		return fmt.Errorf("aws artifact bucket is required")
	}
	if c.AWS.CodeBuildProject == "" {
		return fmt.Errorf("aws codebuild project is required")
	}
	if c.Scheduler != nil && c.Scheduler.MaxRetries < 1 {
		return fmt.Errorf("scheduler max_retries must be at least 1")
	}
	for i, ref := range c.Applications {
		if ref.Repo == "" {
			return fmt.Errorf("applications[%d] is missing a repo", i)
		}
	}
	return nil
}

// ABOUTME: Configuration loading and parsing for patron-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete patron-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Agent     AgentConfig     `yaml:"agent"`
	Model     ModelConfig     `yaml:"model"`
	Profile   ProfileConfig   `yaml:"profile"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AdminPasswordHash is the bcrypt hash for the dashboard operator login.
	// Generate with: patron-gateway hash-password
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// AgentConfig holds the turn-loop tuning knobs.
type AgentConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls"`
	HistoryLimit int `yaml:"history_limit"`

	ModelTimeout time.Duration `yaml:"-"`
	ToolTimeout  time.Duration `yaml:"-"`
	TurnTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ModelTimeoutRaw string `yaml:"model_timeout"`
	ToolTimeoutRaw  string `yaml:"tool_timeout"`
	TurnTimeoutRaw  string `yaml:"turn_timeout"`
}

// ProviderConfig identifies one language-model provider.
type ProviderConfig struct {
	Provider  string `yaml:"provider"` // "anthropic" or "openai"
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ModelConfig holds the primary provider and the optional single fallback.
type ModelConfig struct {
	Primary  ProviderConfig  `yaml:"primary"`
	Fallback *ProviderConfig `yaml:"fallback"`
}

// ProfileConfig points at the business profile TOML file.
type ProfileConfig struct {
	Path string `yaml:"path"`
}

// KnowledgeConfig points at the knowledge base documents directory.
type KnowledgeConfig struct {
	Dir string `yaml:"dir"`
}

// LimitsConfig holds per-sender rate limiting configuration.
type LimitsConfig struct {
	Enabled           bool `yaml:"enabled"`
	MessagesPerMinute int  `yaml:"messages_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotating JSON file output when set, alongside the console.
	File string `yaml:"file"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DashboardConfig holds the operations dashboard configuration.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the tuning knobs that have sane built-in values.
func (c *Config) applyDefaults() {
	if c.Agent.MaxToolCalls <= 0 {
		c.Agent.MaxToolCalls = 5
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 10
	}
	if c.Agent.ModelTimeout <= 0 {
		c.Agent.ModelTimeout = 60 * time.Second
	}
	if c.Agent.ToolTimeout <= 0 {
		c.Agent.ToolTimeout = 15 * time.Second
	}
	if c.Agent.TurnTimeout <= 0 {
		c.Agent.TurnTimeout = 5 * time.Minute
	}
	if c.Limits.MessagesPerMinute <= 0 {
		c.Limits.MessagesPerMinute = 20
	}
	if c.Limits.Burst <= 0 {
		c.Limits.Burst = 5
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Profile.Path == "" {
		return fmt.Errorf("profile.path is required")
	}

	if err := validateProvider("model.primary", &c.Model.Primary); err != nil {
		return err
	}
	if c.Model.Fallback != nil {
		if err := validateProvider("model.fallback", c.Model.Fallback); err != nil {
			return err
		}
	}

	return nil
}

// validateProvider checks one provider block.
func validateProvider(section string, p *ProviderConfig) error {
	switch p.Provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("%s.provider is required", section)
	default:
		return fmt.Errorf("%s.provider %q is not supported (anthropic, openai)", section, p.Provider)
	}
	if p.Model == "" {
		return fmt.Errorf("%s.model is required", section)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.ModelTimeoutRaw != "" {
		cfg.Agent.ModelTimeout, err = time.ParseDuration(cfg.Agent.ModelTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing model_timeout %q: %w", cfg.Agent.ModelTimeoutRaw, err)
		}
	}

	if cfg.Agent.ToolTimeoutRaw != "" {
		cfg.Agent.ToolTimeout, err = time.ParseDuration(cfg.Agent.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Agent.ToolTimeoutRaw, err)
		}
	}

	if cfg.Agent.TurnTimeoutRaw != "" {
		cfg.Agent.TurnTimeout, err = time.ParseDuration(cfg.Agent.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn_timeout %q: %w", cfg.Agent.TurnTimeoutRaw, err)
		}
	}

	return nil
}

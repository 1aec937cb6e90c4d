// ABOUTME: TOML configuration for the patron-matrix bridge
// ABOUTME: Resolves paths the XDG way and expands ${VAR} references before decoding

package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the bridge's whole configuration.
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Gateway GatewayConfig `toml:"gateway"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

// MatrixConfig identifies the homeserver account the bridge logs in as.
// RecoveryKey unlocks E2EE; without it the bridge runs unencrypted.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	RecoveryKey string `toml:"recovery_key"`
}

// GatewayConfig points the bridge at patron-gateway's message API. Token is
// sent as a bearer token; required when the gateway has auth.jwt_secret set.
type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// BridgeConfig tunes which room traffic becomes gateway turns.
type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load decodes the TOML file at path. ${VAR} references anywhere in the file
// are replaced with environment values before decoding, so secrets can stay
// out of the file itself.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envRefPattern.ReplaceAllStringFunc(string(raw), func(ref string) string {
		return os.Getenv(strings.Trim(ref, "${}"))
	})

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the bridge cannot start without.
func (c *Config) Validate() error {
	if err := checkURL("matrix.homeserver", c.Matrix.Homeserver, false); err != nil {
		return err
	}
	if c.Matrix.Username == "" {
		return fmt.Errorf("matrix.username is required")
	}
	if c.Matrix.Password == "" {
		return fmt.Errorf("matrix.password is required")
	}
	return checkURL("gateway.url", c.Gateway.URL, true)
}

// checkURL requires a non-empty, parseable URL; strictScheme additionally
// pins it to http or https.
func checkURL(field, value string, strictScheme bool) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if strictScheme && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// LogLevel maps the configured level name onto slog, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config handles configuration loading for patron-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PATRON_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/patron/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  primary:
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  model_timeout: "60s"
//	  tool_timeout: "15s"
//	  turn_timeout: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API, SSE observers, dashboard
//
// Database:
//
//	database:
//	  path: "/var/lib/patron/gateway.db"
//
// Language model providers (primary required, fallback optional):
//
//	model:
//	  primary:
//	    provider: "anthropic"
//	    model: "claude-sonnet-4-5"
//	    api_key: "${ANTHROPIC_API_KEY}"
//	  fallback:
//	    provider: "openai"
//	    model: "gpt-4o"
//	    api_key: "${OPENAI_API_KEY}"
//
// Turn loop:
//
//	agent:
//	  max_tool_calls: 5
//	  history_limit: 10
//	  model_timeout: "60s"
//
// Business profile and knowledge base:
//
//	profile:
//	  path: "./profile.toml"
//	knowledge:
//	  dir: "./knowledge"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "patron-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/patron/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

// ABOUTME: Entry point for the patron-gateway message server
// ABOUTME: Routes customer messages through the agent loop and business tools

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/2389/patron-gateway/internal/agent"
	"github.com/2389/patron-gateway/internal/builtins"
	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/dashboard"
	"github.com/2389/patron-gateway/internal/gateway"
	"github.com/2389/patron-gateway/internal/ids"
	"github.com/2389/patron-gateway/internal/knowledge"
	"github.com/2389/patron-gateway/internal/model"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
	"github.com/2389/patron-gateway/internal/telemetry"
	"github.com/2389/patron-gateway/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                                     _
 _ __   __ _| |_ _ __ ___  _ __        __ _  __ _| |_ _____      ____ _ _   _
| '_ \ / _' | __| '__/ _ \| '_ \ _____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | (_| | |_| | | (_) | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/ \__,_|\__|_|  \___/|_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                                    |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PATRON_CONFIG env var > XDG_CONFIG_HOME/patron/gateway.yaml > ~/.config/patron/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PATRON_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "patron", "gateway.yaml")
}

// getDataPath returns the path to the patron data directory.
// Priority: XDG_DATA_HOME/patron > ~/.local/share/patron
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "patron")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: patron-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve          Start the gateway server")
		fmt.Println("  init           Create a new config file interactively")
		fmt.Println("  hash-password  Hash a dashboard operator password")
		fmt.Println("  health         Check gateway health")
		fmt.Println("  status         Show gateway readiness and session count")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "hash-password":
		err = runHashPassword()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger and telemetry
	logger := telemetry.Setup(cfg.Logging)
	otelCleanup, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer otelCleanup()

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Profile:   %s\n", cfg.Profile.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s/%s", cfg.Model.Primary.Provider, cfg.Model.Primary.Model)
	if cfg.Model.Fallback != nil {
		gray.Printf(" (fallback %s/%s)", cfg.Model.Fallback.Provider, cfg.Model.Fallback.Model)
	}
	fmt.Println()

	if cfg.Dashboard.Enabled {
		green.Print("    ▶ ")
		fmt.Println("Dashboard: /admin/")
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting patron-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	// Durable state
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Business profile and knowledge base
	profiles, err := profile.NewHolder(cfg.Profile.Path)
	if err != nil {
		return fmt.Errorf("loading business profile: %w", err)
	}
	kb, err := knowledge.Load(cfg.Knowledge.Dir, logger)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}

	// Business tools
	dispatcher := tools.NewDispatcher()
	pack := builtins.New(builtins.Deps{
		Profiles:  profiles,
		Knowledge: kb,
		Store:     st,
		IDs:       ids.NewGenerator(),
	})
	if err := pack.RegisterAll(dispatcher); err != nil {
		return fmt.Errorf("registering business tools: %w", err)
	}

	// Agent runtime
	registry := session.NewRegistry(logger)
	prompts := agent.NewPromptBuilder(profiles, dispatcher)
	orch := agent.New(registry, buildModel(cfg.Model), dispatcher, prompts, st, cfg.Agent)

	// Message bus. The orchestrator and tool pack bind to it after
	// construction because replies and escalations flow back through it.
	bus := gateway.New(registry, orch, st, profiles, cfg.Limits)
	orch.SetResponder(bus)
	orch.SetObserver(bus)
	pack.SetNotifier(bus)

	srv, err := gateway.NewServer(cfg, bus)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.Dashboard.Enabled {
		dash, err := dashboard.New(bus, st, profiles, cfg.Auth)
		if err != nil {
			return fmt.Errorf("creating dashboard: %w", err)
		}
		dash.RegisterRoutes(srv.Mux())
	}

	runErr := srv.Run(ctx)

	// Drain in-flight turns before the bus stops accepting their replies.
	orch.Close()
	bus.Close()
	return runErr
}

// buildModel assembles the model client from config: the primary provider,
// wrapped with the single fallback when one is configured.
func buildModel(cfg config.ModelConfig) model.Client {
	primary := buildProvider(cfg.Primary)
	if cfg.Fallback == nil {
		return primary
	}
	return model.NewFallback(primary, buildProvider(*cfg.Fallback))
}

func buildProvider(p config.ProviderConfig) model.Client {
	switch p.Provider {
	case "openai":
		return model.NewOpenAI(p.APIKey, p.Model, p.MaxTokens)
	default:
		return model.NewAnthropic(p.APIKey, p.Model, p.MaxTokens)
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("health check requires server.http_addr")
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("status check requires server.http_addr")
	}

	// Make HTTP request to ready endpoint with context
	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

// runHashPassword produces the bcrypt hash for auth.admin_password_hash.
// With a terminal it prompts twice without echo; piped input reads one line.
func runHashPassword() error {
	fd := int(os.Stdin.Fd())

	var password string
	if term.IsTerminal(fd) {
		fmt.Print("Password: ")
		pw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		fmt.Print("Confirm: ")
		confirm, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		if string(pw) != string(confirm) {
			return fmt.Errorf("passwords do not match")
		}
		password = string(pw)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	fmt.Println()
	fmt.Println("Add this to the auth section of your config:")
	fmt.Printf("  admin_password_hash: \"%s\"\n", hash)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("patron-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")
	defaultProfilePath := filepath.Join(defaultDataPath, "profile.toml")
	defaultKnowledgeDir := filepath.Join(defaultDataPath, "knowledge")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !yes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Business profile
	fmt.Println("\n--- Business Profile ---")
	profilePath := prompt(reader, "Profile TOML path", defaultProfilePath)
	businessName := prompt(reader, "Business name", "My Business")
	businessKind := prompt(reader, "Business kind (restaurant/salon/shop/...)", "restaurant")
	knowledgeDir := prompt(reader, "Knowledge base directory", defaultKnowledgeDir)

	// Model provider
	fmt.Println("\n--- Model Configuration ---")
	provider := prompt(reader, "Provider (anthropic/openai)", "anthropic")
	defaultModel := "claude-sonnet-4-20250514"
	keyVar := "ANTHROPIC_API_KEY"
	if provider == "openai" {
		defaultModel = "gpt-4o"
		keyVar = "OPENAI_API_KEY"
	}
	modelName := prompt(reader, "Model", defaultModel)
	apiKey := prompt(reader, fmt.Sprintf("API key (empty reads $%s at startup)", keyVar), "")
	if apiKey == "" {
		apiKey = fmt.Sprintf("${%s}", keyVar)
	}

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := yes(enableTailscale)

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "patron-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = yes(ephemeralStr)
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS for webhooks)?", "no")
		tsFunnel = yes(funnelStr)
	}

	// Dashboard
	fmt.Println("\n--- Operations Dashboard ---")
	enableDashboard := prompt(reader, "Enable web dashboard?", "yes")
	dashboardEnabled := yes(enableDashboard)

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate random JWT secret
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# patron-gateway configuration\n")
	cfg.WriteString("# Generated by patron-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  # Run: patron-gateway hash-password\n")
	cfg.WriteString("  admin_password_hash: \"\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("model:\n")
	cfg.WriteString("  primary:\n")
	cfg.WriteString(fmt.Sprintf("    provider: \"%s\"\n", provider))
	cfg.WriteString(fmt.Sprintf("    model: \"%s\"\n", modelName))
	cfg.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", apiKey))
	cfg.WriteString("\n")

	cfg.WriteString("profile:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", profilePath))
	cfg.WriteString("\n")

	cfg.WriteString("knowledge:\n")
	cfg.WriteString(fmt.Sprintf("  dir: \"%s\"\n", knowledgeDir))
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString("  max_tool_calls: 5\n")
	cfg.WriteString("  history_limit: 10\n")
	cfg.WriteString("  model_timeout: \"60s\"\n")
	cfg.WriteString("  tool_timeout: \"15s\"\n")
	cfg.WriteString("  turn_timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("limits:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  messages_per_minute: 20\n")
	cfg.WriteString("  burst: 5\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  dir: \"logs\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("dashboard:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", dashboardEnabled))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Config carries the JWT secret, keep it private
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data and knowledge directories exist
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(knowledgeDir, 0755); err != nil {
		return fmt.Errorf("creating knowledge directory: %w", err)
	}

	// Write a starter profile unless one already exists
	if _, err := os.Stat(profilePath); os.IsNotExist(err) {
		if err := writeStarterProfile(profilePath, businessName, businessKind); err != nil {
			return err
		}
		fmt.Printf("\nStarter profile written to %s\n", profilePath)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  patron-gateway hash-password   # set the dashboard password")
	fmt.Printf("  edit %s\n", profilePath)
	fmt.Println("  patron-gateway serve")

	return nil
}

// writeStarterProfile creates a minimal valid profile the operator edits
// before going live.
func writeStarterProfile(path, name, kind string) error {
	content := fmt.Sprintf(`# Business profile for %s
# Edit freely. Apply changes with the dashboard reload button or a restart.

[business]
name = "%s"
kind = "%s"
description = ""
address = ""
phone = ""

[[hours]]
days = "mon-sun"
open = "09:00"
close = "21:00"

# [[menu]]
# name = "Masala Dosa"
# category = "mains"
# price = 8.50

[behavior]
greeting = "Thanks for reaching out!"
rules = [
  "Be brief and friendly",
  "Never invent prices or availability",
]

# Escalations are delivered to this session.
[owner]
name = ""
channel = ""
session_id = ""
`, name, name, kind)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing starter profile: %w", err)
	}
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

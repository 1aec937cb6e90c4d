// ABOUTME: Entry point for the patron-matrix bridge
// ABOUTME: Connects Matrix rooms to the patron agent via the gateway API

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
             _                                     _        _
 _ __   __ _| |_ _ __ ___  _ __        _ __ ___   __ _| |_ _ __(_)_  __
| '_ \ / _' | __| '__/ _ \| '_ \ _____| '_ ' _ \ / _' | __| '__| \ \/ /
| |_) | (_| | |_| | | (_) | | | |_____| | | | | | (_| | |_| |  | |>  <
| .__/ \__,_|\__|_|  \___/|_| |_|     |_| |_| |_|\__,_|\__|_|  |_/_/\_\
|_|
`

// configPath resolves the bridge config file location. The env var wins,
// then XDG_CONFIG_HOME, then ~/.config.
func configPath() string {
	if p := os.Getenv("PATRON_MATRIX_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "patron", "matrix-bridge.toml")
}

// dataPath resolves where the crypto store lives: XDG_DATA_HOME or
// ~/.local/share, under patron/.
func dataPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "patron")
}

func main() {
	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "init":
		err = runInit()
	case len(os.Args) > 1:
		fmt.Fprintf(os.Stderr, "Unknown command: %s (try \"init\", or no command to run the bridge)\n", os.Args[1])
		os.Exit(1)
	default:
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	cfgPath := configPath()
	cfg, err := Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}

	dataDir := dataPath()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	printStartup(cfgPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Crypto setup reads the user and device IDs off the client, so login
	// has to come first.
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, bridge.UserID(), cfg.Matrix.RecoveryKey, dataDir, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	return bridge.Run(ctx)
}

func printStartup(cfgPath string, cfg *Config) {
	arrow := color.New(color.FgGreen).SprintFunc()("    ▶ ")
	fmt.Printf("%sConfig:     %s\n", arrow, cfgPath)
	fmt.Printf("%sHomeserver: %s\n", arrow, cfg.Matrix.Homeserver)
	fmt.Printf("%sUsername:   %s\n", arrow, cfg.Matrix.Username)
	fmt.Printf("%sGateway:    %s\n", arrow, cfg.Gateway.URL)
	if cfg.Matrix.RecoveryKey != "" {
		fmt.Printf("%sEncryption: enabled\n", arrow)
	}
	if cfg.Bridge.CommandPrefix != "" {
		fmt.Printf("%sPrefix:     %q\n", arrow, cfg.Bridge.CommandPrefix)
	}
	fmt.Println()
}

// wizard collects answers for the init flow from stdin.
type wizard struct {
	reader *bufio.Reader
	green  *color.Color
}

func (w *wizard) ask(prompt, fallback string) string {
	w.green.Print("    ▶ ")
	if fallback != "" {
		fmt.Printf("%s [%s]: ", prompt, fallback)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	line, _ := w.reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	cfgPath := configPath()
	w := &wizard{reader: bufio.NewReader(os.Stdin), green: green}

	if _, err := os.Stat(cfgPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", cfgPath)
		if strings.ToLower(w.ask("Overwrite? [y/N]", "n")) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	homeserver := w.ask("Matrix homeserver URL", "https://matrix.org")
	username := w.ask("Matrix username", "")
	password := w.ask("Matrix password", "")
	recoveryKey := w.ask("Matrix recovery key (optional, for E2EE)", "")
	gatewayURL := w.ask("Gateway URL", "http://localhost:8080")
	gatewayToken := w.ask("Gateway API token (optional, for authed gateways)", "")
	prefix := w.ask("Command prefix (optional, e.g. '!patron ')", "")

	var b strings.Builder
	b.WriteString("# patron-matrix bridge configuration\n")
	b.WriteString("# Generated by patron-matrix init\n\n")
	fmt.Fprintf(&b, "[matrix]\nhomeserver = %q\nusername = %q\npassword = %q\n", homeserver, username, password)
	if recoveryKey != "" {
		fmt.Fprintf(&b, "recovery_key = %q\n", recoveryKey)
	}
	fmt.Fprintf(&b, "\n[gateway]\nurl = %q\n", gatewayURL)
	if gatewayToken != "" {
		b.WriteString("# Mint tokens with: patron-admin token\n")
		fmt.Fprintf(&b, "token = %q\n", gatewayToken)
	}
	b.WriteString("\n[bridge]\n")
	b.WriteString("# Only respond in these rooms (empty = all joined rooms)\n")
	b.WriteString("allowed_rooms = []\n")
	b.WriteString("# Require messages start with this prefix (empty = respond to all)\n")
	fmt.Fprintf(&b, "command_prefix = %q\n", prefix)
	b.WriteString("# Send typing indicator while the agent works\n")
	b.WriteString("typing_indicator = true\n")
	b.WriteString("\n[logging]\nlevel = \"info\"\n")

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", cfgPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: patron-matrix")
	fmt.Println()
	return nil
}

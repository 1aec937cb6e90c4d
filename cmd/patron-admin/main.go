// ABOUTME: Admin CLI for patron-gateway operators
// ABOUTME: Inspects sessions, tails live events, injects replies, and mints API tokens

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/patron-gateway/internal/auth"
	"github.com/2389/patron-gateway/internal/config"
)

const banner = `
             _                               _           _
 _ __   __ _| |_ _ __ ___  _ __         __ _| |_ __ ___ (_)_ __
| '_ \ / _' | __| '__/ _ \| '_ \ _____ / _' | | '_ ' _ \| | '_ \
| |_) | (_| | |_| | | (_) | | | |_____| (_| | | | | | | | | | | |
| .__/ \__,_|\__|_|  \___/|_| |_|      \__,_|_|_| |_| |_|_|_| |_|
|_|
`

func main() {
	gateway := flag.String("gateway", getEnv("PATRON_GATEWAY_URL", "http://localhost:8080"), "Gateway HTTP URL")
	tokenFlag := flag.String("token", "", "Bearer token (default: PATRON_TOKEN or ~/.config/patron/token)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	baseURL := strings.TrimSuffix(*gateway, "/")
	token := *tokenFlag
	if token == "" {
		token = getToken()
	}

	cmd := args[0]
	args = args[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL, token)
	case "sessions":
		err = cmdSessions(baseURL, token, args)
	case "inject":
		err = cmdInject(baseURL, token, args)
	case "reload":
		err = cmdReload(baseURL, token)
	case "tail":
		err = cmdTail(baseURL, token)
	case "chat":
		err = cmdChat(baseURL, token, args)
	case "token":
		err = cmdToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: patron-admin [flags] <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                     Show gateway health and session counts")
	fmt.Println("  sessions                   List active sessions")
	fmt.Println("  sessions list              List active sessions")
	fmt.Println("  sessions show <id>         Show a session's transcript")
	fmt.Println("  inject <id> <text>         Send an operator message into a session")
	fmt.Println("  reload                     Reload the business profile and prompt")
	fmt.Println("  tail                       Follow the live event stream")
	fmt.Println("  chat <id> [msg]            Talk to the agent (REPL if no message)")
	fmt.Println("  token create               Mint an API token from the gateway config")
	fmt.Println()
	yellow.Println("Flags:")
	fmt.Println("  --gateway <url>            Gateway HTTP URL (default: http://localhost:8080)")
	fmt.Println("  --token <jwt>              Bearer token for the API")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PATRON_GATEWAY_URL         Gateway HTTP URL")
	fmt.Println("  PATRON_TOKEN               Bearer token (or put it in ~/.config/patron/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export PATRON_TOKEN=\"eyJhbG...\"")
	fmt.Println("  patron-admin sessions")
	fmt.Println("  patron-admin inject '!room:example.org' \"We close at 8pm tonight\"")
	fmt.Println("  patron-admin chat smoke-test \"Do you have oat milk?\"")
	fmt.Println("  patron-admin token create --subject ops --ttl 7")
	fmt.Println()
}

// sessionSummary mirrors the gateway's session listing rows.
type sessionSummary struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	SenderName   string    `json:"sender_name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type sessionsResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

// transcript mirrors GET /api/v1/sessions/{id}/messages.
type transcript struct {
	ID           string              `json:"id"`
	Channel      string              `json:"channel"`
	Messages     []transcriptMessage `json:"messages"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActiveAt time.Time           `json:"last_active_at"`
	Metadata     map[string]string   `json:"metadata"`
}

type transcriptMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ToolCalls   []toolCall   `json:"tool_calls"`
	ToolResults []toolResult `json:"tool_results"`
}

type toolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// firehoseEvent mirrors the observer events on GET /api/v1/events.
type firehoseEvent struct {
	Type       string           `json:"type"`
	Channel    string           `json:"channel"`
	SessionID  string           `json:"session_id"`
	SenderName string           `json:"sender_name"`
	Message    string           `json:"message"`
	Response   string           `json:"response"`
	Tool       string           `json:"tool"`
	Failed     bool             `json:"failed"`
	Detail     string           `json:"detail"`
	Sessions   []sessionSummary `json:"sessions"`
	Timestamp  time.Time        `json:"timestamp"`
}

// cmdStatus shows gateway reachability and runtime counts.
func cmdStatus(baseURL, token string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		yellow.Printf("  Gateway:    ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Gateway:    ")
	fmt.Printf("connected to %s\n", baseURL)

	var ready struct {
		Status    string `json:"status"`
		Sessions  int    `json:"sessions"`
		Observers int    `json:"observers"`
	}
	if err := apiGet(baseURL, token, "/health/ready", &ready); err != nil {
		yellow.Printf("  Ready:      ")
		color.Red("%v\n", err)
	} else {
		green.Printf("  Ready:      ")
		fmt.Println(ready.Status)
		fmt.Printf("  Sessions:   %d\n", ready.Sessions)
		fmt.Printf("  Observers:  %d\n", ready.Observers)
	}

	if token != "" {
		green.Printf("  Auth:       ")
		fmt.Println("token set")
	} else {
		yellow.Printf("  Auth:       ")
		fmt.Println("(no token - set PATRON_TOKEN)")
	}

	fmt.Println()
	return nil
}

// cmdSessions handles sessions subcommands.
func cmdSessions(baseURL, token string, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdSessionsList(baseURL, token)
	case "show":
		return cmdSessionsShow(baseURL, token, args)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s (use list, show)", subcmd)
	}
}

// cmdSessionsList lists the active sessions.
func cmdSessionsList(baseURL, token string) error {
	var resp sessionsResponse
	if err := apiGet(baseURL, token, "/api/v1/sessions", &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Sessions")
	cyan.Println("  --------")

	if len(resp.Sessions) == 0 {
		fmt.Println("  (no active sessions)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tCHANNEL\tCUSTOMER\tMSGS\tLAST ACTIVE")
	fmt.Fprintln(w, "  --\t-------\t--------\t----\t-----------")

	for _, s := range resp.Sessions {
		name := s.SenderName
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			truncate(s.ID, 28), s.Channel, truncate(name, 20),
			s.MessageCount, s.LastActiveAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdSessionsShow prints one session's transcript.
func cmdSessionsShow(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sessions show <session-id>")
	}
	sessionID := args[0]

	var sess transcript
	if err := apiGet(baseURL, token, "/api/v1/sessions/"+sessionID+"/messages", &sess); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	fmt.Println()
	cyan.Printf("  Session %s\n", sess.ID)
	fmt.Printf("  Channel:     %s\n", sess.Channel)
	fmt.Printf("  Started:     %s\n", sess.CreatedAt.Format("Jan 02 15:04"))
	fmt.Printf("  Last active: %s\n", sess.LastActiveAt.Format("Jan 02 15:04"))
	fmt.Println()

	for _, m := range sess.Messages {
		ts := m.Timestamp.Format("15:04:05")
		switch m.Role {
		case "user":
			green.Printf("  [%s] customer: ", ts)
			fmt.Println(m.Content)
		case "assistant":
			if m.Content != "" {
				cyan.Printf("  [%s] agent:    ", ts)
				fmt.Println(m.Content)
			}
			for _, tc := range m.ToolCalls {
				yellow.Printf("  [%s]   [tool: %s] ", ts, tc.Name)
				dim.Println(compactJSON(tc.Arguments))
			}
		case "tool":
			for _, tr := range m.ToolResults {
				if tr.Success {
					dim.Printf("  [%s]   = %s\n", ts, truncate(tr.Message, 100))
				} else {
					color.Red("  [%s]   ! %s\n", ts, tr.Message)
				}
			}
		default:
			dim.Printf("  [%s] %s: %s\n", ts, m.Role, m.Content)
		}
	}
	fmt.Println()

	return nil
}

// cmdInject sends an operator message into a session.
func cmdInject(baseURL, token string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: inject <session-id> <message>")
	}
	sessionID := args[0]
	text := strings.Join(args[1:], " ")

	body := map[string]string{"session_id": sessionID, "text": text}
	var resp struct {
		MessageID string `json:"message_id"`
		SessionID string `json:"session_id"`
	}
	if err := apiPost(baseURL, token, "/api/v1/admin/message", body, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Injected message %s\n", resp.MessageID)
	fmt.Printf("  Session: %s\n", resp.SessionID)

	return nil
}

// cmdReload triggers a profile and prompt reload.
func cmdReload(baseURL, token string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := apiPost(baseURL, token, "/api/v1/admin/reload", struct{}{}, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Profile and prompt reloaded")

	return nil
}

// cmdTail follows the live observer stream and pretty-prints every event.
func cmdTail(baseURL, token string) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No client timeout: the stream stays open until Ctrl+C.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	dim := color.New(color.Faint)
	dim.Println("following events (Ctrl+C to stop)")

	return readSSE(resp.Body, func(event, data string) bool {
		var ev firehoseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return true
		}
		printEvent(event, ev)
		return true
	})
}

// printEvent renders one firehose event as a single colored line.
func printEvent(eventType string, ev firehoseEvent) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	dim := color.New(color.Faint)

	ts := ev.Timestamp.Format("15:04:05")
	if ev.Timestamp.IsZero() {
		ts = time.Now().Format("15:04:05")
	}
	dim.Printf("%s ", ts)

	switch eventType {
	case "sessions":
		dim.Printf("sessions  %d active\n", len(ev.Sessions))
	case "incoming":
		green.Printf("◀ %-9s", ev.Channel)
		fmt.Printf(" %s  %s\n", truncate(ev.SessionID, 28), truncate(ev.Message, 80))
	case "outgoing":
		cyan.Printf("▶ %-9s", ev.Channel)
		fmt.Printf(" %s  %s\n", truncate(ev.SessionID, 28), truncate(ev.Response, 80))
	case "turn_started":
		dim.Printf("turn      %s\n", truncate(ev.SessionID, 28))
	case "tool_use":
		yellow.Printf("tool      ")
		fmt.Printf("%s  %s %s\n", truncate(ev.SessionID, 28), ev.Tool, truncate(ev.Detail, 60))
	case "tool_result":
		if ev.Failed {
			color.Red("tool !    %s  %s", truncate(ev.SessionID, 28), truncate(ev.Detail, 80))
			fmt.Println()
		} else {
			dim.Printf("tool =    %s  %s\n", truncate(ev.SessionID, 28), truncate(ev.Detail, 80))
		}
	case "turn_done":
		green.Printf("✓ done    ")
		fmt.Printf("%s\n", truncate(ev.SessionID, 28))
	case "turn_error":
		color.Red("✗ error   %s  %s", truncate(ev.SessionID, 28), ev.Detail)
		fmt.Println()
	default:
		fmt.Printf("%s  %s\n", eventType, truncate(ev.SessionID, 28))
	}
}

// cmdChat provides one-shot or interactive chat through the message endpoint.
func cmdChat(baseURL, token string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chat <session-id> [message]")
	}

	sessionID := args[0]

	if len(args) >= 2 {
		// One-shot mode: send message and stream response
		message := strings.Join(args[1:], " ")
		return chatSend(baseURL, token, sessionID, message)
	}

	// Interactive REPL mode
	return chatREPL(baseURL, token, sessionID)
}

// chatREPL runs an interactive read-eval-print loop.
func chatREPL(baseURL, token, sessionID string) error {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	cyan.Printf("Chat session %s (Ctrl+D to exit)\n\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024) // 1MB max input
	for {
		green.Print("> ")
		if !scanner.Scan() {
			// EOF (Ctrl+D) or error
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := chatSend(baseURL, token, sessionID, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println()
	}
}

// chatSend posts one message and renders the turn's SSE lifecycle.
func chatSend(baseURL, token, sessionID, message string) error {
	reqBody := map[string]string{
		"channel":     "cli",
		"session_id":  sessionID,
		"text":        message,
		"sender_name": getEnv("USER", "operator"),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	// A plain JSON answer means the turn never started (e.g. duplicate).
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var status struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return err
		}
		fmt.Printf("(%s)\n", status.Status)
		return nil
	}

	dim := color.New(color.Faint, color.Italic)
	yellow := color.New(color.FgYellow)

	printed := false
	var turnErr error
	err = readSSE(resp.Body, func(event, data string) bool {
		switch event {
		case "text":
			var d struct {
				Text string `json:"text"`
			}
			if json.Unmarshal([]byte(data), &d) == nil {
				fmt.Print(d.Text)
				printed = true
			}
		case "tool_use":
			var d struct {
				Name string `json:"name"`
			}
			if json.Unmarshal([]byte(data), &d) == nil {
				yellow.Printf("\n[tool: %s]\n", d.Name)
			}
		case "tool_result":
			var d struct {
				Failed  bool   `json:"failed"`
				Message string `json:"message"`
			}
			if json.Unmarshal([]byte(data), &d) == nil {
				if d.Failed {
					color.Red("  %s\n", d.Message)
				} else if d.Message != "" {
					dim.Printf("  %s\n", truncate(d.Message, 100))
				}
			}
		case "done":
			if !printed {
				var d struct {
					Text string `json:"text"`
				}
				if json.Unmarshal([]byte(data), &d) == nil {
					fmt.Print(d.Text)
				}
			}
			fmt.Println()
			return false
		case "error":
			var d struct {
				Error string `json:"error"`
			}
			if json.Unmarshal([]byte(data), &d) == nil {
				turnErr = fmt.Errorf("agent error: %s", d.Error)
			}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return turnErr
}

// cmdToken handles token subcommands.
func cmdToken(args []string) error {
	subcmd := ""
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "create":
		return cmdTokenCreate(args)
	default:
		return fmt.Errorf("usage: token create [--subject <name>] [--ttl <days>]")
	}
}

// cmdTokenCreate mints a JWT locally using the gateway's signing secret. The
// secret comes from PATRON_JWT_SECRET or the gateway config file, so this
// runs on the gateway host without any API call.
func cmdTokenCreate(args []string) error {
	subject := "operator"
	var ttlDays int64 = 30
	configPath := ""

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--subject", "-s":
			if i+1 < len(args) {
				subject = args[i+1]
				i++
			}
		case "--ttl", "-t":
			if i+1 < len(args) {
				days, err := parseIntArg(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid ttl: %w", err)
				}
				ttlDays = days
				i++
			}
		case "--config", "-c":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		}
	}

	secret := os.Getenv("PATRON_JWT_SECRET")
	if secret == "" {
		if configPath == "" {
			configPath = getGatewayConfigPath()
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading gateway config from %s: %w", configPath, err)
		}
		secret = cfg.Auth.JWTSecret
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: set auth.jwt_secret in the gateway config or PATRON_JWT_SECRET")
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return err
	}

	ttl := time.Duration(ttlDays) * 24 * time.Hour
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token created successfully")
	fmt.Println()
	cyan.Println("  Subject:    " + subject)
	cyan.Println("  Expires:    " + time.Now().Add(ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()

	return nil
}

// apiGet fetches a JSON document from the gateway API.
func apiGet(baseURL, token, path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiPost sends a JSON body to the gateway API and decodes the JSON answer.
func apiPost(baseURL, token, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError turns a non-2xx response into a readable error.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// readSSE parses an SSE stream, invoking fn per event until fn returns false
// or the stream ends. Heartbeat comments are skipped.
func readSSE(r io.Reader, fn func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				if !fn(eventType, strings.Join(dataLines, "\n")) {
					return nil
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		}
	}

	return scanner.Err()
}

// compactJSON renders raw JSON on one line for display.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return truncate(buf.String(), 80)
}

// parseIntArg parses a string to int64.
func parseIntArg(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken returns the bearer token from PATRON_TOKEN or ~/.config/patron/token.
func getToken() string {
	// Check env var first
	if token := os.Getenv("PATRON_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "patron", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// getGatewayConfigPath mirrors the gateway's config resolution.
// Priority: PATRON_CONFIG env var > XDG_CONFIG_HOME/patron/gateway.yaml > ~/.config/patron/gateway.yaml
func getGatewayConfigPath() string {
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

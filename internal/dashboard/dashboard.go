// ABOUTME: Operations dashboard: operator login, live event feed, transcripts
// ABOUTME: Cookie-authenticated HTML console with CSRF-protected actions

package dashboard

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/patron-gateway/internal/auth"
	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/gateway"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

const (
	// SessionCookieName is the name of the operator session cookie.
	SessionCookieName = "patron_admin_session"

	// CSRFCookieName is the name of the CSRF token cookie.
	CSRFCookieName = "patron_admin_csrf"

	// SessionDuration is how long operator sessions last.
	SessionDuration = 7 * 24 * time.Hour

	// heartbeatInterval paces SSE keepalive comments on the live feed.
	heartbeatInterval = 15 * time.Second
)

// Handler serves the operations dashboard: a cookie-authenticated HTML
// console over the same bus the HTTP API uses. The operator logs in with the
// configured password; each authenticated action is attributed to the name
// given at login.
type Handler struct {
	bus          *gateway.Gateway
	store        store.Store
	profiles     *profile.Holder
	verifier     *auth.JWTVerifier
	passwordHash string
	logger       *slog.Logger
}

// New builds the dashboard. It needs the operator password hash for login
// and the JWT secret for session cookies.
func New(bus *gateway.Gateway, st store.Store, profiles *profile.Holder, cfg config.AuthConfig) (*Handler, error) {
	if cfg.AdminPasswordHash == "" {
		return nil, errors.New("dashboard requires auth.admin_password_hash")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("dashboard session verifier: %w", err)
	}

	return &Handler{
		bus:          bus,
		store:        st,
		profiles:     profiles,
		verifier:     verifier,
		passwordHash: cfg.AdminPasswordHash,
		logger:       slog.Default().With("component", "dashboard"),
	}, nil
}

// RegisterRoutes registers all dashboard routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET /admin/login", h.handleLoginPage)
	mux.HandleFunc("POST /admin/login", h.handleLogin)

	// Protected routes (auth required)
	mux.HandleFunc("GET /admin", h.requireAuth(h.handleHome))
	mux.HandleFunc("GET /admin/", h.requireAuth(h.handleHome))
	mux.HandleFunc("POST /admin/logout", h.requireAuth(h.handleLogout))
	mux.HandleFunc("GET /admin/sessions/{id}", h.requireAuth(h.handleSession))
	mux.HandleFunc("POST /admin/sessions/{id}/send", h.requireAuth(h.handleSend))
	mux.HandleFunc("POST /admin/reload", h.requireAuth(h.handleReload))
	mux.HandleFunc("GET /admin/stream", h.requireAuth(h.handleStream))
	mux.HandleFunc("GET /admin/audit", h.requireAuth(h.handleAudit))

	h.logger.Info("dashboard routes registered")
}

// requireAuth wraps a handler to require a valid session cookie.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operator, err := h.operatorFromCookie(r)
		if err != nil {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		ctx := auth.WithIdentity(r.Context(), &auth.Identity{Subject: operator})
		next(w, r.WithContext(ctx))
	}
}

// operatorFromCookie verifies the session cookie and returns the operator
// name it was issued to.
func (h *Handler) operatorFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	return h.verifier.Verify(cookie.Value)
}

// operatorFrom returns the authenticated operator name from the request.
func operatorFrom(r *http.Request) string {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return id.Subject
	}
	return "operator"
}

// ensureCSRFToken returns the CSRF token to embed in forms, minting the
// cookie first when the browser does not hold one yet.
func (h *Handler) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		h.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // Will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// validateCSRF checks the CSRF token from the form against the cookie.
func (h *Handler) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	return formToken != "" && formToken == cookie.Value
}

// handleLoginPage renders the login page.
func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// Already logged in, go straight to the dashboard.
	if _, err := h.operatorFromCookie(r); err == nil {
		http.Redirect(w, r, "/admin/", http.StatusSeeOther)
		return
	}

	csrfToken := h.ensureCSRFToken(w, r)
	h.renderLogin(w, "", csrfToken)
}

// handleLogin processes the login form: the shared operator password checked
// against the configured bcrypt hash, with the given name carried on the
// session token for audit attribution.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		csrfToken := h.ensureCSRFToken(w, r)
		h.renderLogin(w, "Invalid form data", csrfToken)
		return
	}

	if !h.validateCSRF(r) {
		csrfToken := h.ensureCSRFToken(w, r)
		h.renderLogin(w, "Invalid request, please try again", csrfToken)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = "operator"
	}
	password := r.FormValue("password")
	if password == "" {
		csrfToken := h.ensureCSRFToken(w, r)
		h.renderLogin(w, "Password required", csrfToken)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(password)); err != nil {
		h.logger.Warn("dashboard login rejected", "name", name)
		csrfToken := h.ensureCSRFToken(w, r)
		h.renderLogin(w, "Invalid password", csrfToken)
		return
	}

	token, err := h.verifier.Generate(name, SessionDuration)
	if err != nil {
		h.logger.Error("failed to create session token", "error", err)
		csrfToken := h.ensureCSRFToken(w, r)
		h.renderLogin(w, "An error occurred", csrfToken)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/admin",
		Expires:  time.Now().Add(SessionDuration),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	if err := h.store.AppendAudit(r.Context(), &store.AuditEntry{
		Kind:  store.AuditLogin,
		Actor: name,
	}); err != nil {
		h.logger.Error("failed to record login", "error", err)
	}

	h.logger.Info("dashboard login successful", "name", name)
	http.Redirect(w, r, "/admin/", http.StatusSeeOther)
}

// handleLogout clears the session and CSRF cookies.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		// Don't block logout on a stale CSRF token, just note it.
		if !h.validateCSRF(r) {
			h.logger.Warn("logout request with invalid CSRF token")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// handleHome renders the dashboard: live feed plus the sessions table.
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	csrfToken := h.ensureCSRFToken(w, r)

	h.renderHome(w, homeData{
		Title:     "Dashboard",
		Business:  h.profiles.Current().Business.Name,
		Operator:  operatorFrom(r),
		CSRFToken: csrfToken,
		Sessions:  h.bus.Sessions(),
	})
}

// handleSession renders one session's transcript with the inject form.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := h.bus.SessionMessages(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	csrfToken := h.ensureCSRFToken(w, r)
	h.renderSession(w, sessionData{
		Title:     "Session " + id,
		Business:  h.profiles.Current().Business.Name,
		Operator:  operatorFrom(r),
		CSRFToken: csrfToken,
		Session:   sess,
		Messages:  h.messageViews(sess.Messages),
	})
}

// messageViews prepares a transcript for display: assistant markdown is
// rendered to HTML, tool activity becomes one line per call and result.
func (h *Handler) messageViews(msgs []session.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			Role: string(m.Role),
			Time: m.Timestamp.Local().Format("2006-01-02 15:04:05"),
		}
		if m.Role == session.RoleAssistant && m.Content != "" {
			if html, ok := h.renderMarkdown(m.Content); ok {
				v.HTML = html
			} else {
				v.Text = m.Content
			}
		} else {
			v.Text = m.Content
		}
		for _, tc := range m.ToolCalls {
			v.Tools = append(v.Tools, fmt.Sprintf("call %s %s", tc.Name, string(tc.Arguments)))
		}
		for _, tr := range m.ToolResults {
			status := "ok"
			if !tr.Success {
				status = "failed"
			}
			v.Tools = append(v.Tools, fmt.Sprintf("result %s: %s", status, tr.Message))
		}
		out = append(out, v)
	}
	return out
}

// handleSend injects an operator message into the session's conversation.
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	if !h.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	id := r.PathValue("id")
	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		http.Error(w, "Message text required", http.StatusBadRequest)
		return
	}

	if _, err := h.bus.InjectAdminMessage(r.Context(), id, text, operatorFrom(r)); err != nil {
		h.logger.Error("operator send failed", "session_id", id, "error", err)
		http.Error(w, "Failed to send message", http.StatusServiceUnavailable)
		return
	}

	http.Redirect(w, r, "/admin/sessions/"+url.PathEscape(id), http.StatusSeeOther)
}

// handleReload reloads the business profile and rebuilds the system prompt.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	if !h.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	if err := h.bus.Reload(r.Context(), operatorFrom(r)); err != nil {
		h.logger.Error("profile reload failed", "error", err)
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/admin/", http.StatusSeeOther)
}

// handleStream relays the observer firehose as SSE for the live feed.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, subID := h.bus.SubscribeEvents(r.Context())
	defer h.bus.UnsubscribeEvents(subID)

	// Push the headers out so EventSource sees the stream open right away.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.writeEvent(w, flusher, ev)
		}
	}
}

// writeEvent writes one feed event as SSE and flushes it.
func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev gateway.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshaling feed event failed", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// handleAudit renders the audit log with kind and session filters.
func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter := store.AuditFilter{Limit: 200}
	kind := r.URL.Query().Get("kind")
	if kind != "" {
		k := store.AuditKind(kind)
		filter.Kind = &k
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		filter.SessionID = &sessionID
	}

	entries, err := h.store.ListAudit(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list audit entries", "error", err)
		http.Error(w, "Failed to load audit log", http.StatusInternalServerError)
		return
	}

	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		row := auditRow{
			Time:    e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			Kind:    string(e.Kind),
			Session: e.SessionID,
			Channel: e.Channel,
			Actor:   e.Actor,
		}
		if e.Detail != nil {
			if data, err := json.Marshal(e.Detail); err == nil {
				row.Detail = string(data)
			}
		}
		rows = append(rows, row)
	}

	csrfToken := h.ensureCSRFToken(w, r)
	h.renderAudit(w, auditData{
		Title:     "Audit",
		Business:  h.profiles.Current().Business.Name,
		Operator:  operatorFrom(r),
		CSRFToken: csrfToken,
		Kind:      kind,
		SessionID: sessionID,
		Kinds:     auditKinds(),
		Entries:   rows,
	})
}

// auditKinds lists every audit kind for the filter dropdown.
func auditKinds() []string {
	return []string{
		string(store.AuditMessageIn),
		string(store.AuditMessageOut),
		string(store.AuditToolCall),
		string(store.AuditEscalation),
		string(store.AuditAdminInject),
		string(store.AuditProfileReload),
		string(store.AuditDeliveryFailure),
		string(store.AuditRateLimited),
		string(store.AuditLogin),
	}
}

// generateSecureToken returns n random bytes base64url-encoded.
func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

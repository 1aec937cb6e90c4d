// ABOUTME: Template rendering for the operations dashboard
// ABOUTME: Loads pages from the embedded filesystem and renders assistant markdown

package dashboard

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/2389/patron-gateway/internal/gateway"
	"github.com/2389/patron-gateway/internal/session"
)

type loginData struct {
	Title     string
	Error     string
	CSRFToken string
}

type homeData struct {
	Title     string
	Business  string
	Operator  string
	CSRFToken string
	Sessions  []gateway.SessionSummary
}

// messageView is one transcript message prepared for display. Assistant
// markdown is pre-rendered into HTML; everything else stays escaped text.
type messageView struct {
	Role  string
	Time  string
	Text  string
	HTML  template.HTML
	Tools []string
}

type sessionData struct {
	Title     string
	Business  string
	Operator  string
	CSRFToken string
	Session   session.Session
	Messages  []messageView
}

// auditRow is one audit entry flattened for the table.
type auditRow struct {
	Time    string
	Kind    string
	Session string
	Channel string
	Actor   string
	Detail  string
}

type auditData struct {
	Title     string
	Business  string
	Operator  string
	CSRFToken string
	Kind      string
	SessionID string
	Kinds     []string
	Entries   []auditRow
}

func (h *Handler) renderLogin(w http.ResponseWriter, errorMsg, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/login.html"))

	data := loginData{
		Title:     "Login",
		Error:     errorMsg,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render login page", "error", err)
	}
}

func (h *Handler) renderHome(w http.ResponseWriter, data homeData) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/nav.html", "templates/home.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
	}
}

func (h *Handler) renderSession(w http.ResponseWriter, data sessionData) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/nav.html", "templates/session.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render session transcript", "error", err)
	}
}

func (h *Handler) renderAudit(w http.ResponseWriter, data auditData) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/nav.html", "templates/audit.html"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render audit page", "error", err)
	}
}

// renderMarkdown converts assistant markdown to HTML for the transcript.
// On conversion failure the raw text is shown escaped instead.
func (h *Handler) renderMarkdown(md string) (template.HTML, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		h.logger.Error("failed to convert markdown", "error", err)
		return "", false
	}
	return template.HTML(buf.String()), true
}

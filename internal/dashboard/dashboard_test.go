// ABOUTME: Dashboard tests: login flow, CSRF, transcripts, inject, audit page
// ABOUTME: Drives the console through httptest with a cookie-jar client

package dashboard

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/gateway"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

const dashPassword = "open sesame"

const dashProfileTOML = `
[business]
name = "Spice Route"
description = "Family-run South Indian restaurant"
`

type fakeRunner struct {
	mu      sync.Mutex
	turns   []string
	reloads int
}

func (f *fakeRunner) HandleMessage(channel, sessionID string, msg session.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, sessionID)
	return nil
}

func (f *fakeRunner) ReloadPrompt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
}

func (f *fakeRunner) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

func (f *fakeRunner) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type fixture struct {
	handler     *Handler
	bus         *gateway.Gateway
	store       store.Store
	runner      *fakeRunner
	srv         *httptest.Server
	client      *http.Client
	profilePath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	profilePath := filepath.Join(dir, "profile.toml")
	require.NoError(t, os.WriteFile(profilePath, []byte(dashProfileTOML), 0o644))
	profiles, err := profile.NewHolder(profilePath)
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(dir, "patron.db"))
	require.NoError(t, err)

	registry := session.NewRegistry(slog.Default())
	runner := &fakeRunner{}
	bus := gateway.New(registry, runner, st, profiles, config.LimitsConfig{})
	t.Cleanup(func() {
		bus.Close()
		_ = st.Close()
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(dashPassword), bcrypt.MinCost)
	require.NoError(t, err)

	h, err := New(bus, st, profiles, config.AuthConfig{
		JWTSecret:         strings.Repeat("d", 32),
		AdminPasswordHash: string(hash),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &fixture{
		handler:     h,
		bus:         bus,
		store:       st,
		runner:      runner,
		srv:         srv,
		client:      &http.Client{Jar: jar},
		profilePath: profilePath,
	}
}

// csrfToken returns the current CSRF cookie value, fetching the login page
// first when the jar does not hold one yet.
func (f *fixture) csrfToken(t *testing.T) string {
	t.Helper()
	adminURL, err := url.Parse(f.srv.URL + "/admin/")
	require.NoError(t, err)

	for attempt := 0; attempt < 2; attempt++ {
		for _, c := range f.client.Jar.Cookies(adminURL) {
			if c.Name == CSRFCookieName {
				return c.Value
			}
		}
		resp, err := f.client.Get(f.srv.URL + "/admin/login")
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	t.Fatal("CSRF cookie never set")
	return ""
}

func (f *fixture) login(t *testing.T, name string) {
	t.Helper()
	form := url.Values{
		"name":       {name},
		"password":   {dashPassword},
		"csrf_token": {f.csrfToken(t)},
	}
	resp, err := f.client.PostForm(f.srv.URL+"/admin/login", form)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, "/admin/", resp.Request.URL.Path, "login should land on the dashboard")
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := f.client.Get(f.srv.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	return resp, string(body)
}

func (f *fixture) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := f.client.PostForm(f.srv.URL+path, form)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	return resp, string(body)
}

func TestUnauthenticatedRequestsRedirectToLogin(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/admin/", "/admin/audit", "/admin/sessions/x", "/admin/stream"} {
		resp, _ := f.get(t, path)
		assert.Equal(t, "/admin/login", resp.Request.URL.Path, "path %s", path)
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	resp, body := f.get(t, "/admin/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Spice Route")
	assert.Contains(t, body, "asha")
	assert.Contains(t, body, "No sessions yet")

	entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditLogin, entries[0].Kind)
	assert.Equal(t, "asha", entries[0].Actor)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f := newFixture(t)

	form := url.Values{
		"name":       {"asha"},
		"password":   {"not the password"},
		"csrf_token": {f.csrfToken(t)},
	}
	resp, body := f.postForm(t, "/admin/login", form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Invalid password")

	resp, _ = f.get(t, "/admin/")
	assert.Equal(t, "/admin/login", resp.Request.URL.Path)
}

func TestLoginRequiresCSRFToken(t *testing.T) {
	f := newFixture(t)
	f.csrfToken(t) // set the cookie, then submit a mismatched form value

	form := url.Values{
		"password":   {dashPassword},
		"csrf_token": {"forged"},
	}
	_, body := f.postForm(t, "/admin/login", form)
	assert.Contains(t, body, "Invalid request")
}

func TestSessionTranscriptRendersMarkdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.bus.RouteMessage(ctx, "whatsapp", "wa-1", "do you have dosa?", nil)
	require.NoError(t, err)
	require.NoError(t, f.bus.SendResponse(ctx, "whatsapp", "wa-1", "Yes, we have **six kinds** of dosa."))

	f.login(t, "asha")
	resp, body := f.get(t, "/admin/sessions/wa-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "do you have dosa?")
	assert.Contains(t, body, "<strong>six kinds</strong>")
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	resp, _ := f.get(t, "/admin/sessions/never-seen")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendInjectsOperatorMessage(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	form := url.Values{
		"text":       {"chef says the special is ready"},
		"csrf_token": {f.csrfToken(t)},
	}
	resp, body := f.postForm(t, "/admin/sessions/walkin-1/send", form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/admin/sessions/walkin-1", resp.Request.URL.Path)
	assert.Contains(t, body, "chef says the special is ready")
	assert.Equal(t, 1, f.runner.turnCount())

	kind := store.AuditAdminInject
	require.Eventually(t, func() bool {
		entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{Kind: &kind})
		return err == nil && len(entries) == 1 && entries[0].Actor == "asha"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSendRequiresCSRFToken(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	form := url.Values{"text": {"hello"}, "csrf_token": {"forged"}}
	resp, _ := f.postForm(t, "/admin/sessions/s-1/send", form)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.runner.turnCount())
}

func TestReloadRefreshesProfile(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	renamed := strings.Replace(dashProfileTOML, "Spice Route", "Chai Corner", 1)
	require.NoError(t, os.WriteFile(f.profilePath, []byte(renamed), 0o644))

	form := url.Values{"csrf_token": {f.csrfToken(t)}}
	resp, body := f.postForm(t, "/admin/reload", form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/admin/", resp.Request.URL.Path)
	assert.Contains(t, body, "Chai Corner")
	assert.Equal(t, 1, f.runner.reloadCount())
}

func TestAuditPageFiltersByKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.bus.RouteMessage(ctx, "whatsapp", "wa-1", "hello", nil)
	require.NoError(t, err)

	f.login(t, "asha")

	// The bus records message_in asynchronously; wait for it to land.
	kind := store.AuditMessageIn
	require.Eventually(t, func() bool {
		entries, err := f.store.ListAudit(ctx, store.AuditFilter{Kind: &kind})
		return err == nil && len(entries) == 1
	}, 2*time.Second, 20*time.Millisecond)

	resp, body := f.get(t, "/admin/audit")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "message_in")
	assert.Contains(t, body, ">login<")

	_, body = f.get(t, "/admin/audit?kind=login")
	assert.Contains(t, body, "asha")
	assert.NotContains(t, body, "<td>message_in</td>")
}

func TestStreamRelaysLiveEvents(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/admin/stream", nil)
	require.NoError(t, err)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = f.bus.RouteMessage(context.Background(), "webchat", "web-1", "ping", nil)
	require.NoError(t, err)

	sc := bufio.NewScanner(resp.Body)
	var sawIncoming bool
	for sc.Scan() {
		line := sc.Text()
		if line == "event: incoming" {
			sawIncoming = true
		}
		if sawIncoming && strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"web-1"`)
			return
		}
	}
	t.Fatal("stream ended without an incoming event")
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	f.login(t, "asha")

	form := url.Values{"csrf_token": {f.csrfToken(t)}}
	resp, _ := f.postForm(t, "/admin/logout", form)
	assert.Equal(t, "/admin/login", resp.Request.URL.Path)

	resp, _ = f.get(t, "/admin/")
	assert.Equal(t, "/admin/login", resp.Request.URL.Path)
}

func TestNewRequiresPasswordHash(t *testing.T) {
	f := newFixture(t)

	_, err := New(f.bus, f.store, nil, config.AuthConfig{JWTSecret: strings.Repeat("d", 32)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_password_hash")
}

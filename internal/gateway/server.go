// ABOUTME: HTTP server lifecycle around the bus, plain TCP or a tsnet node
// ABOUTME: Run serves until the context ends, then drains connections gracefully

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/patron-gateway/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server owns the HTTP listeners in front of one Gateway. With Tailscale
// enabled it joins the tailnet as its own node and serves there instead of
// binding a local TCP port.
type Server struct {
	cfg    *config.Config
	bus    *Gateway
	mux    *http.ServeMux
	http   *http.Server
	ts     *tsnet.Server
	logger *slog.Logger
}

// NewServer wires the API and health routes onto a fresh mux. Additional
// surfaces (the dashboard) mount onto Mux before Run.
func NewServer(cfg *config.Config, bus *Gateway) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		bus:    bus,
		mux:    http.NewServeMux(),
		logger: slog.Default().With("component", "server"),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/ready", s.handleReady)
	if err := bus.RegisterRoutes(s.mux, cfg.Auth); err != nil {
		return nil, err
	}

	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Mux exposes the route table so other surfaces can mount before Run.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Run serves HTTP until ctx is cancelled or a listener fails, then shuts
// down gracefully. It blocks for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	listeners, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}(ln)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		s.logger.Error("server failed", "error", err)
		_ = s.gracefulShutdown()
		return err
	}

	return s.gracefulShutdown()
}

// gracefulShutdown drains connections on a fresh background context; the
// run context is already cancelled by the time shutdown starts.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and, when present, the tsnet node. All
// close errors are collected rather than failing fast.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		errs = appendCloseError(errs, "http server", s.http.Shutdown(ctx))
	}
	if s.ts != nil {
		errs = appendCloseError(errs, "tailscale node", s.ts.Close())
	}
	return errors.Join(errs...)
}

func appendCloseError(errs []error, component string, err error) []error {
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", component, err))
	}
	return errs
}

func (s *Server) setupListeners(ctx context.Context) ([]net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		return s.setupTailscaleListeners(ctx)
	}

	addr := s.cfg.Server.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return []net.Listener{ln}, nil
}

// setupTailscaleListeners joins the tailnet and returns the node's
// listeners: plain HTTP on :80, plus :443 when HTTPS or Funnel is on.
// Funnel exposes :443 publicly with Tailscale-terminated TLS.
func (s *Server) setupTailscaleListeners(ctx context.Context) ([]net.Listener, error) {
	stateDir, err := resolveTailscaleStateDir(s.cfg.Tailscale.StateDir)
	if err != nil {
		return nil, err
	}

	s.ts = &tsnet.Server{
		Hostname:  s.cfg.Tailscale.Hostname,
		Dir:       stateDir,
		AuthKey:   resolveTailscaleAuthKey(s.cfg.Tailscale.AuthKey),
		Ephemeral: s.cfg.Tailscale.Ephemeral,
	}

	status, err := s.ts.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("bringing up tailscale node: %w", err)
	}
	s.logger.Info("tailscale node up",
		"hostname", s.cfg.Tailscale.Hostname,
		"ips", fmt.Sprintf("%v", status.TailscaleIPs))

	var listeners []net.Listener

	plain, err := s.ts.Listen("tcp", ":80")
	if err != nil {
		return nil, fmt.Errorf("tailscale listen :80: %w", err)
	}
	listeners = append(listeners, plain)

	switch {
	case s.cfg.Tailscale.Funnel:
		fn, err := s.ts.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("tailscale funnel listen :443: %w", err)
		}
		listeners = append(listeners, fn)
		s.logger.Info("tailscale funnel enabled", "addr", ":443")
	case s.cfg.Tailscale.HTTPS:
		tlsLn, err := s.createTailscaleTLSListener(":443")
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, tlsLn)
		s.logger.Info("tailscale HTTPS enabled", "addr", ":443")
	}

	return listeners, nil
}

func (s *Server) createTailscaleTLSListener(addr string) (net.Listener, error) {
	ln, err := s.ts.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tailscale listen %s: %w", addr, err)
	}
	lc, err := s.ts.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("tailscale local client: %w", err)
	}
	tlsCfg := &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// resolveTailscaleStateDir returns the configured state directory or the
// default under the user's data dir, creating it either way.
func resolveTailscaleStateDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "patron-gateway", "tailscale")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating tailscale state dir: %w", err)
	}
	return dir, nil
}

// resolveTailscaleAuthKey prefers the configured key, falling back to the
// TS_AUTHKEY environment variable the tailscale tooling conventionally uses.
func resolveTailscaleAuthKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("TS_AUTHKEY")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.bus.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"sessions":  s.bus.registry.Len(),
		"observers": s.bus.hub.SubscriberCount(),
	})
}

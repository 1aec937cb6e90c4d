// ABOUTME: Holder serves the current business profile and swaps it on reload
// ABOUTME: so a profile edit takes effect without restarting the gateway

package profile

import (
	"log/slog"
	"sync"
)

// Holder owns the live profile. Readers get a consistent snapshot; Reload
// swaps in a freshly parsed profile atomically or leaves the old one in
// place when the file is broken.
type Holder struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Profile
}

// NewHolder loads the profile at path and keeps watch over it for reloads.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{
		path:   path,
		logger: slog.Default().With("component", "profile"),
	}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the live profile. The returned pointer is never mutated
// after load, so callers may hold it across a reload safely.
func (h *Holder) Current() *Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the profile file. A parse or validation failure keeps the
// previous profile live.
func (h *Holder) Reload() error {
	p, err := Load(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.current = p
	h.mu.Unlock()
	h.logger.Info("profile loaded",
		"business", p.Business.Name,
		"menu_items", len(p.Menu))
	return nil
}

// Path returns the profile file location.
func (h *Holder) Path() string {
	return h.path
}

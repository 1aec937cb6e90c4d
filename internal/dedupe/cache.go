// ABOUTME: TTL-based ingress guard that drops redelivered channel messages.
// ABOUTME: Keys combine channel name and platform message id; eviction is O(1) via insertion order.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when a message key was first seen and its position in the
// insertion-order list.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Guard tracks recently delivered channel messages so the gateway can drop
// redeliveries. Channel adapters redeliver on reconnect and sync replay; the
// first delivery wins. A doubly-linked list maintains insertion order for
// O(1) eviction when the guard is at capacity.
type Guard struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewGuard creates a guard with the given TTL window and maximum tracked
// keys. A background goroutine periodically removes expired entries.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Seen atomically records a delivery and reports whether the same message
// was already delivered within the TTL window. Messages without a platform
// id cannot be correlated across deliveries and are never treated as
// duplicates.
func (g *Guard) Seen(channel, messageID string) bool {
	if messageID == "" {
		return false
	}

	k := channel + "\x00" + messageID

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[k]; ok && time.Since(e.seenAt) < g.ttl {
		e.seenAt = time.Now()
		g.order.MoveToBack(e.element)
		return true
	}

	g.markLocked(k)
	return false
}

// markLocked records a key, evicting the oldest entry at capacity.
// Must be called with mu held.
func (g *Guard) markLocked(k string) {
	if e, ok := g.entries[k]; ok {
		e.seenAt = time.Now()
		g.order.MoveToBack(e.element)
		return
	}

	if len(g.entries) >= g.maxSize {
		front := g.order.Front()
		if front != nil {
			old, _ := front.Value.(string)
			g.order.Remove(front)
			delete(g.entries, old)
		}
	}

	elem := g.order.PushBack(k)
	g.entries[k] = &entry{seenAt: time.Now(), element: elem}
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.removeExpired()
		case <-g.done:
			return
		}
	}
}

// removeExpired drops every entry older than the TTL window.
func (g *Guard) removeExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for k, e := range g.entries {
		if now.Sub(e.seenAt) > g.ttl {
			g.order.Remove(e.element)
			delete(g.entries, k)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}

// ABOUTME: Per-sender token bucket rate limiting for inbound messages
// ABOUTME: Lazily allocates one limiter per sender key and prunes idle entries

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an idle sender's bucket is kept before it
	// becomes eligible for pruning.
	limiterIdleTTL = 10 * time.Minute

	// limiterPruneAt is the pool size that triggers a prune pass.
	limiterPruneAt = 1024
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per sender key. Buckets refill at
// the configured per-minute rate and allow short bursts. The pool prunes
// idle entries opportunistically so a churn of one-off senders cannot grow
// it without bound.
type limiterPool struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*limiterEntry
}

func newLimiterPool(perMinute, burst int) *limiterPool {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 5
	}
	return &limiterPool{
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		byKey: make(map[string]*limiterEntry),
	}
}

// allow reports whether the sender identified by key may send another
// message now, consuming one token when it may.
func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[key]
	if !ok {
		if len(p.byKey) >= limiterPruneAt {
			p.pruneLocked()
		}
		e = &limiterEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.byKey[key] = e
	}
	e.lastSeen = time.Now()
	return e.lim.Allow()
}

// pruneLocked drops buckets idle past the TTL. Must be called with mu held.
func (p *limiterPool) pruneLocked() {
	cutoff := time.Now().Add(-limiterIdleTTL)
	for key, e := range p.byKey {
		if e.lastSeen.Before(cutoff) {
			delete(p.byKey, key)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byKey)
}

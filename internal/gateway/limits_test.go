// ABOUTME: Rate limiter pool tests: burst budgets, key isolation, idle pruning
// ABOUTME: Uses plain assertions on the pool, no clock stubbing

package gateway

import (
	"testing"
	"time"
)

func TestLimiterPoolBurstBudget(t *testing.T) {
	p := newLimiterPool(60, 2)

	if !p.allow("whatsapp:wa-1") {
		t.Fatal("first message should pass")
	}
	if !p.allow("whatsapp:wa-1") {
		t.Fatal("second message should fit in the burst")
	}
	if p.allow("whatsapp:wa-1") {
		t.Fatal("third immediate message should be limited")
	}
}

func TestLimiterPoolKeysAreIndependent(t *testing.T) {
	p := newLimiterPool(60, 1)

	if !p.allow("whatsapp:wa-1") {
		t.Fatal("first sender should pass")
	}
	if p.allow("whatsapp:wa-1") {
		t.Fatal("first sender should be limited")
	}
	if !p.allow("whatsapp:wa-2") {
		t.Fatal("second sender must not share the first sender's bucket")
	}
}

func TestLimiterPoolDefaultsWhenUnconfigured(t *testing.T) {
	p := newLimiterPool(0, 0)
	if !p.allow("k") {
		t.Fatal("defaults should allow at least one message")
	}
}

func TestLimiterPoolPrunesIdleEntries(t *testing.T) {
	p := newLimiterPool(60, 1)
	p.allow("stale")
	p.allow("fresh")

	p.mu.Lock()
	p.byKey["stale"].lastSeen = time.Now().Add(-limiterIdleTTL - time.Minute)
	p.pruneLocked()
	p.mu.Unlock()

	if got := p.size(); got != 1 {
		t.Fatalf("size = %d, want 1 after pruning the idle entry", got)
	}
}

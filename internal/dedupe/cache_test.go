// ABOUTME: Tests for the ingress dedupe guard.
// ABOUTME: Validates TTL expiration, capacity eviction, key scoping, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_FirstDeliveryWins(t *testing.T) {
	g := NewGuard(5*time.Minute, 100)
	defer g.Close()

	assert.False(t, g.Seen("matrix", "$evt123"), "first delivery is not a duplicate")
	assert.True(t, g.Seen("matrix", "$evt123"), "redelivery is a duplicate")
}

func TestGuard_KeysScopedByChannel(t *testing.T) {
	g := NewGuard(5*time.Minute, 100)
	defer g.Close()

	assert.False(t, g.Seen("matrix", "msg-1"))
	assert.False(t, g.Seen("api", "msg-1"), "same id on a different channel is a different message")
	assert.True(t, g.Seen("matrix", "msg-1"))
	assert.True(t, g.Seen("api", "msg-1"))
}

func TestGuard_EmptyIDNeverDuplicates(t *testing.T) {
	g := NewGuard(5*time.Minute, 100)
	defer g.Close()

	assert.False(t, g.Seen("api", ""))
	assert.False(t, g.Seen("api", ""), "messages without a platform id are never correlated")
}

func TestGuard_TTLExpiry(t *testing.T) {
	g := NewGuard(10*time.Millisecond, 100)
	defer g.Close()

	assert.False(t, g.Seen("matrix", "$evt"))
	assert.True(t, g.Seen("matrix", "$evt"))

	// Redelivery within the window refreshes the entry, so wait out a full TTL.
	time.Sleep(20 * time.Millisecond)

	assert.False(t, g.Seen("matrix", "$evt"), "entry expired after TTL")
}

func TestGuard_EvictsOldestAtCapacity(t *testing.T) {
	g := NewGuard(5*time.Minute, 3)
	defer g.Close()

	g.Seen("api", "first")
	time.Sleep(1 * time.Millisecond)
	g.Seen("api", "second")
	time.Sleep(1 * time.Millisecond)
	g.Seen("api", "third")
	time.Sleep(1 * time.Millisecond)

	// Fourth key evicts "first".
	g.Seen("api", "fourth")

	assert.False(t, g.Seen("api", "first"), "oldest key was evicted, so this counts as new")
	assert.True(t, g.Seen("api", "third"))
	assert.True(t, g.Seen("api", "fourth"))
}

func TestGuard_RedeliveryRefreshesOrder(t *testing.T) {
	g := NewGuard(5*time.Minute, 3)
	defer g.Close()

	g.Seen("api", "a")
	g.Seen("api", "b")
	g.Seen("api", "c")

	// Touch "a" so "b" becomes the oldest.
	g.Seen("api", "a")
	g.Seen("api", "d")

	assert.True(t, g.Seen("api", "a"), "recently touched key survives eviction")
	assert.False(t, g.Seen("api", "b"), "untouched oldest key was evicted")
}

func TestGuard_RemoveExpired(t *testing.T) {
	g := NewGuard(10*time.Millisecond, 100)
	defer g.Close()

	g.Seen("api", "x")
	g.Seen("api", "y")

	time.Sleep(20 * time.Millisecond)
	g.removeExpired()

	g.mu.Lock()
	remaining := len(g.entries)
	g.mu.Unlock()
	assert.Equal(t, 0, remaining, "expired entries are removed from the map")
}

func TestGuard_AtomicUnderContention(t *testing.T) {
	g := NewGuard(5*time.Minute, 100)
	defer g.Close()

	const numGoroutines = 100

	var winners int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !g.Seen("matrix", "contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners, "exactly one delivery wins the race")
}

func TestGuard_Concurrent(t *testing.T) {
	g := NewGuard(5*time.Minute, 1000)
	defer g.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Seen("api", fmt.Sprintf("msg-%d-%d", id%5, j%10))
			}
		}(i)
	}
	wg.Wait()

	// Still functional after the storm.
	assert.False(t, g.Seen("api", "fresh"))
	assert.True(t, g.Seen("api", "fresh"))
}

func TestGuard_CloseIsIdempotent(t *testing.T) {
	g := NewGuard(5*time.Minute, 100)

	g.Seen("api", "before-close")
	g.Close()
	g.Close()
}

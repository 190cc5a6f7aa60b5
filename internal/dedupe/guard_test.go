// ABOUTME: Tests for the replay guard used by the OAuth callback.
// ABOUTME: Validates single acceptance, TTL expiry, size bounds, sweeping and concurrency.

package dedupe

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_ClaimOnce(t *testing.T) {
	g := New(5*time.Minute, 100)
	defer g.Close()

	assert.True(t, g.Claim("state-1"))
	assert.False(t, g.Claim("state-1"))
	assert.True(t, g.Claim("state-2"))
	assert.True(t, g.Claimed("state-1"))
	assert.False(t, g.Claimed("never"))
}

func TestGuard_ExpiredClaimAcceptedAgain(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	now := time.Now()
	g.now = func() time.Time { return now }
	assert.True(t, g.Claim("state"))

	g.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.False(t, g.Claimed("state"))
	assert.True(t, g.Claim("state"))
}

func TestGuard_EvictsOldestAtCapacity(t *testing.T) {
	g := New(time.Hour, 3)
	defer g.Close()

	for i := 0; i < 4; i++ {
		assert.True(t, g.Claim(fmt.Sprintf("k%d", i)))
	}

	assert.Equal(t, 3, g.Len())
	assert.False(t, g.Claimed("k0"), "oldest entry should be evicted")
	assert.True(t, g.Claimed("k3"))
}

func TestGuard_Sweep(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	now := time.Now()
	g.now = func() time.Time { return now }
	g.Claim("old")
	g.now = func() time.Time { return now.Add(50 * time.Second) }
	g.Claim("new")

	g.now = func() time.Time { return now.Add(90 * time.Second) }
	g.sweep()

	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Claimed("new"))
}

func TestGuard_LongValues(t *testing.T) {
	g := New(time.Minute, 10)
	defer g.Close()

	long := strings.Repeat("x", 10_000)
	assert.True(t, g.Claim(long))
	assert.False(t, g.Claim(long))
	assert.True(t, g.Claim(long+"y"))
}

func TestGuard_ConcurrentClaimsAcceptOnce(t *testing.T) {
	g := New(time.Minute, 1000)
	defer g.Close()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim("shared-state") {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestGuard_CloseIdempotent(t *testing.T) {
	g := New(time.Minute, 10)
	g.Close()
	g.Close()
}

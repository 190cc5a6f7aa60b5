// ABOUTME: Thread-safe TTL guard that accepts each opaque value once.
// ABOUTME: Used by the OAuth callback to reject replayed state parameters.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// claim records when a key was first accepted.
type claim struct {
	key     string
	claimed time.Time
}

// Guard remembers claimed keys for a TTL, bounded to maxSize entries.
// Keys are hashed so arbitrarily long values cost a fixed amount of memory.
type Guard struct {
	mu      sync.Mutex
	claims  map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a guard with the given TTL and maximum size and starts a
// background sweeper for expired claims.
func New(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		claims:  make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Claim accepts value if it has not been claimed within the TTL.
// It returns true for the first claim and false for every replay.
func (g *Guard) Claim(value string) bool {
	key := hashKey(value)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, ok := g.claims[key]; ok {
		c, _ := elem.Value.(*claim)
		if now.Sub(c.claimed) < g.ttl {
			return false
		}
		g.order.Remove(elem)
		delete(g.claims, key)
	}

	if g.maxSize > 0 && len(g.claims) >= g.maxSize {
		g.evictOldestLocked()
	}

	g.claims[key] = g.order.PushBack(&claim{key: key, claimed: now})
	return true
}

// Claimed reports whether value is currently claimed.
func (g *Guard) Claimed(value string) bool {
	key := hashKey(value)

	g.mu.Lock()
	defer g.mu.Unlock()

	elem, ok := g.claims[key]
	if !ok {
		return false
	}
	c, _ := elem.Value.(*claim)
	return g.now().Sub(c.claimed) < g.ttl
}

// Len returns the number of tracked claims, expired or not.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

func (g *Guard) evictOldestLocked() {
	front := g.order.Front()
	if front == nil {
		return
	}
	c, _ := front.Value.(*claim)
	g.order.Remove(front)
	delete(g.claims, c.key)
}

func (g *Guard) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep drops expired claims. Claims are ordered by time so it stops at the
// first live one.
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		c, _ := front.Value.(*claim)
		if now.Sub(c.claimed) < g.ttl {
			return
		}
		g.order.Remove(front)
		delete(g.claims, c.key)
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}

package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"
)

// nonceSource hands out the DPoP nonce the token endpoint requires.
// The nonce rotates after lifetime; the previous nonce stays valid for one more
// lifetime so a client that was challenged just before a rotation can still retry.
type nonceSource struct {
	mu       sync.Mutex
	current  string
	previous string
	issued   time.Time
	lifetime time.Duration
	now      func() time.Time
}

func newNonceSource(lifetime time.Duration, now func() time.Time) *nonceSource {
	return &nonceSource{lifetime: lifetime, now: now}
}

// Current returns the nonce to send in a DPoP-Nonce challenge
func (n *nonceSource) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rotate()
	return n.current
}

// Valid reports whether nonce is the current or the previous nonce
func (n *nonceSource) Valid(nonce string) bool {
	if nonce == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rotate()
	for _, known := range []string{n.current, n.previous} {
		if known != "" && subtle.ConstantTimeCompare([]byte(nonce), []byte(known)) == 1 {
			return true
		}
	}
	return false
}

func (n *nonceSource) rotate() {
	now := n.now()
	if n.current != "" && now.Sub(n.issued) < n.lifetime {
		return
	}
	if n.current != "" && now.Sub(n.issued) < 2*n.lifetime {
		n.previous = n.current
	} else {
		n.previous = ""
	}
	n.current = randomToken()
	n.issued = now
}

func randomToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// replayCache remembers proof and assertion ids until they can no longer pass the iat/exp checks
type replayCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newReplayCache(window time.Duration, now func() time.Time) *replayCache {
	return &replayCache{seen: make(map[string]time.Time), window: window, now: now}
}

// Add records id and reports false if it was already recorded
func (c *replayCache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, expires := range c.seen {
		if now.After(expires) {
			delete(c.seen, k)
		}
	}

	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = now.Add(c.window)
	return true
}

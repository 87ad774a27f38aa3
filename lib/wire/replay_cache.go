package wire

import (
	"sync"
	"time"

	"github.com/go-i2p/go-wire/lib/keys"
)

const (
	// DefaultReplayTTL is how long a handshake ephemeral key is remembered.
	DefaultReplayTTL = 10 * time.Minute

	replayCleanupInterval = 30 * time.Second

	// replayMaxEntries caps memory use under a handshake flood.
	replayMaxEntries = 100000
)

// ReplayCache remembers peer handshake ephemeral keys so that a handshake
// captured from one connection cannot be replayed into another. One cache is
// typically shared by every connection a listener accepts.
type ReplayCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[keys.PublicKey]time.Time
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewReplayCache starts a cache with the given TTL (DefaultReplayTTL when
// ttl <= 0). Call Close to stop its cleanup goroutine.
func NewReplayCache(ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}
	rc := &ReplayCache{
		ttl:     ttl,
		entries: make(map[keys.PublicKey]time.Time),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go rc.cleanupLoop()
	return rc
}

// CheckAndAdd records key and reports whether it was already present and
// unexpired.
func (rc *ReplayCache) CheckAndAdd(key keys.PublicKey) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := rc.now()
	if seen, ok := rc.entries[key]; ok && now.Sub(seen) < rc.ttl {
		return true
	}

	if len(rc.entries) >= replayMaxEntries {
		rc.evictOldest(now)
	}
	rc.entries[key] = now
	return false
}

// Size returns the number of remembered keys.
func (rc *ReplayCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rc *ReplayCache) Close() {
	rc.closeOnce.Do(func() { close(rc.done) })
}

func (rc *ReplayCache) cleanupLoop() {
	ticker := time.NewTicker(replayCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.done:
			return
		case <-ticker.C:
			rc.evictExpired()
		}
	}
}

func (rc *ReplayCache) evictExpired() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	cutoff := rc.now().Add(-rc.ttl)
	for key, seen := range rc.entries {
		if seen.Before(cutoff) {
			delete(rc.entries, key)
		}
	}
}

// evictOldest drops a tenth of the entries, preferring those older than half
// the TTL. Must be called with mu held.
func (rc *ReplayCache) evictOldest(now time.Time) {
	target := len(rc.entries) / 10
	if target < 1 {
		target = 1
	}

	cutoff := now.Add(-rc.ttl / 2)
	evicted := 0
	for key, seen := range rc.entries {
		if evicted >= target {
			return
		}
		if seen.Before(cutoff) {
			delete(rc.entries, key)
			evicted++
		}
	}
	for key := range rc.entries {
		if evicted >= target {
			return
		}
		delete(rc.entries, key)
		evicted++
	}
}

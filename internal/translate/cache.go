package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// BundleCache keeps recently prepared bundles so re-fetched content inside
// the TTL window skips the models entirely.
type BundleCache struct {
	mu    sync.RWMutex
	items map[string]bundleEntry
	ttl   time.Duration
}

type bundleEntry struct {
	bundle    Bundle
	expiresAt time.Time
}

func NewBundleCache(ttl time.Duration) *BundleCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &BundleCache{
		items: make(map[string]bundleEntry),
		ttl:   ttl,
	}
}

func (c *BundleCache) Get(key string) (Bundle, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.bundle, true
}

func (c *BundleCache) Set(key string, bundle Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic cleanup instead of a background goroutine; the map stays
	// small enough that a linear pass on insert is cheap.
	now := time.Now()
	for k, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, k)
		}
	}

	c.items[key] = bundleEntry{
		bundle:    bundle,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *BundleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// bundleKey hashes the source text plus the target language set, so a config
// change never serves a stale bundle.
func bundleKey(title, content string, targets []string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(targets, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

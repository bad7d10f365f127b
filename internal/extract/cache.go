package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/you/watchpipe/internal/core"
)

const (
	// DefaultCacheTTL bounds entry age; DefaultCacheMaxEntries bounds memory.
	DefaultCacheTTL        = 12 * time.Hour
	DefaultCacheMaxEntries = 10000
)

// Fingerprint derives the cache key from normalized message text: case-folded
// and whitespace-collapsed, so identical wording from different senders shares
// a hit. Sender and timestamp are deliberately excluded.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CacheEntry is what the cache stores: the canonical result and when it was
// computed. Entries are never mutated after creation.
type CacheEntry struct {
	Result    core.ExtractionResult
	CreatedAt time.Time
}

// Cache maps message fingerprints to previously computed extraction results,
// avoiding redundant paid inference. Entries expire by age and the entry count
// is bounded: when full, results are still computed and returned, just not
// stored until expiry frees room.
type Cache struct {
	entries    *gocache.Cache
	maxEntries int
}

// NewCache builds a fingerprint cache. Non-positive arguments fall back to
// the defaults.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &Cache{
		entries:    gocache.New(ttl, ttl/2),
		maxEntries: maxEntries,
	}
}

// Get returns the cached result for a fingerprint.
func (c *Cache) Get(fingerprint string) (core.ExtractionResult, bool) {
	if c == nil {
		return core.ExtractionResult{}, false
	}
	v, ok := c.entries.Get(fingerprint)
	if !ok {
		return core.ExtractionResult{}, false
	}
	entry := v.(CacheEntry)
	return entry.Result, true
}

// Set stores a result under its fingerprint. At capacity it sweeps expired
// entries first and drops the write if the cache is still full.
func (c *Cache) Set(fingerprint string, res core.ExtractionResult) {
	if c == nil {
		return
	}
	if c.entries.ItemCount() >= c.maxEntries {
		c.entries.DeleteExpired()
		if c.entries.ItemCount() >= c.maxEntries {
			return
		}
	}
	c.entries.SetDefault(fingerprint, CacheEntry{Result: res, CreatedAt: time.Now()})
}

// Len reports the current entry count, expired entries included until swept.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.ItemCount()
}

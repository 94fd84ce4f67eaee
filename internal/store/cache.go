package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ResultCache holds serialized engine results under fingerprint keys. A
// cache never needs invalidation: any write to the inputs changes the
// fingerprint. Entries expire only to bound memory.
type ResultCache interface {
	// Get returns the cached value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key.
	Set(ctx context.Context, key string, value []byte) error
}

// Fingerprint derives the cache key for one engine run from everything
// that determines its output.
func Fingerprint(accountID, surface string, params map[string]string, rev Revision) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s\x00%d\x00%d\x00%d", accountID, surface, rev.Transactions, rev.Splits, rev.Prices)
	for _, k := range names {
		fmt.Fprintf(&b, "\x00%s=%s", k, params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("pnl:%s:%s:%s", surface, accountID, hex.EncodeToString(sum[:16]))
}

// MemoryResultCache implements ResultCache in process memory.
type MemoryResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryResultCache creates a cache whose entries live for ttl. A zero
// ttl keeps entries until the process exits.
func NewMemoryResultCache(ttl time.Duration) *MemoryResultCache {
	return &MemoryResultCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryResultCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryResultCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{value: append([]byte(nil), value...)}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	return nil
}

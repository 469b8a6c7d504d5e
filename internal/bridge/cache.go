package bridge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// fingerprintCache memoizes transform outputs keyed by a digest of the
// canonicalized input. Entries expire after a TTL and the cache holds at
// most maxEntries, evicting oldest-inserted first.
type fingerprintCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	order      []string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	payload  json.RawMessage
	dropped  int
	storedAt time.Time
}

func newFingerprintCache(ttl time.Duration, maxEntries int) *fingerprintCache {
	return &fingerprintCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// fingerprint digests the target stage together with the canonical JSON
// form of the input. Canonicalization round-trips through a generic value
// so key order in the source bytes does not matter.
func fingerprint(scope string, raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fingerprintCache) get(key string) (json.RawMessage, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, 0, false
	}
	return e.payload, e.dropped, true
}

func (c *fingerprintCache) put(key string, payload json.RawMessage, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{payload: payload, dropped: dropped, storedAt: c.now()}
	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *fingerprintCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

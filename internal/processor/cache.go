package processor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// resultCache memoizes successful tool results keyed by tool name and
// canonical argument JSON. Failures are never cached.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]any
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]any)}
}

// key hashes the tool name and canonical JSON encoding of the arguments.
// encoding/json emits map keys in sorted order, so equal argument maps
// always produce equal keys.
func (c *resultCache) key(tool string, args map[string]any) (string, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(tool + ":" + string(encoded)))
	return hex.EncodeToString(sum[:]), nil
}

func (c *resultCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *resultCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Len reports the number of cached results.
func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package checkpoint

import (
	"context"
	"sync"
)

// MemoryCache is an in-process Cache for tests and single-process
// development setups. The value is still held sealed.
type MemoryCache struct {
	mu   sync.RWMutex
	key  Key
	blob []byte
}

// NewMemoryCache returns an empty MemoryCache sealing with key.
func NewMemoryCache(key Key) *MemoryCache {
	return &MemoryCache{key: key}
}

// Read implements Cache.
func (c *MemoryCache) Read(_ context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.blob == nil {
		return "", ErrNotFound
	}
	return open(&c.key, c.blob)
}

// Write implements Cache.
func (c *MemoryCache) Write(_ context.Context, hash string) error {
	blob, err := seal(&c.key, hash)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.blob = blob
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.blob = nil
	c.mu.Unlock()
	return nil
}

// Overwrite replaces the sealed bytes verbatim, bypassing encryption.
// It exists to simulate an attacker with write access to the cache medium.
func (c *MemoryCache) Overwrite(blob []byte) {
	c.mu.Lock()
	c.blob = append([]byte(nil), blob...)
	c.mu.Unlock()
}

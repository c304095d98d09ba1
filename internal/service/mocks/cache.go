package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// MemoryCache stores JSON-encoded values in memory, mirroring the persistent stores.
type MemoryCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	SetErr   error
	SetCalls int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte)}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest any) error {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetCalls++
	if c.SetErr != nil {
		return c.SetErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

// Put stores raw bytes as-is, for seeding corrupt entries.
func (c *MemoryCache) Put(key string, raw []byte) {
	c.mu.Lock()
	c.data[key] = raw
	c.mu.Unlock()
}

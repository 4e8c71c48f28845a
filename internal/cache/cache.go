package cache

import (
	"context"
	"sync"
	"time"

	"bizledger/backend/internal/domain"
)

const AlertSnapshotKey = "bizledger:alerts:snapshot"

// AlertCache stores the last computed alert snapshot. A miss is reported
// as (nil, false, nil).
type AlertCache interface {
	Get(ctx context.Context, key string) (*domain.AlertSnapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.AlertSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopAlertCache struct{}

func (NoopAlertCache) Get(_ context.Context, _ string) (*domain.AlertSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopAlertCache) Set(_ context.Context, _ string, _ *domain.AlertSnapshot, _ time.Duration) error {
	return nil
}

func (NoopAlertCache) Delete(_ context.Context, _ string) error {
	return nil
}

// MemoryAlertCache is a process-local cache used when Redis is not
// configured.
type MemoryAlertCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     domain.AlertSnapshot
	expiresAt time.Time
}

func NewMemoryAlertCache() *MemoryAlertCache {
	return &MemoryAlertCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryAlertCache) Get(_ context.Context, key string) (*domain.AlertSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *MemoryAlertCache) Set(_ context.Context, key string, value *domain.AlertSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: *value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryAlertCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

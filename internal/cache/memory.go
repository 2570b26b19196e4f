package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is a process-local Provider for tests and single-instance
// deployments.
type MemoryProvider struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.liveItem(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items[key] = p.newItem(value, ttl)
	return nil
}

func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.liveItem(key); ok {
		return false, nil
	}
	p.items[key] = p.newItem(value, ttl)
	return true, nil
}

func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.items, key)
	return nil
}

func (p *MemoryProvider) Close() error { return nil }

// liveItem returns the item unless it is absent or past its expiry.
// Expired entries are reaped lazily. Callers must hold mu.
func (p *MemoryProvider) liveItem(key string) (memoryItem, bool) {
	item, ok := p.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && p.now().After(item.expiresAt) {
		delete(p.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (p *MemoryProvider) newItem(value []byte, ttl time.Duration) memoryItem {
	stored := make([]byte, len(value))
	copy(stored, value)

	item := memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = p.now().Add(ttl)
	}
	return item
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryItem struct {
	data       []byte
	expiration time.Time
}

// MemoryCache 进程内缓存，过期项在读取时惰性删除
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (mc *MemoryCache) Get(ctx context.Context, key string, dest any) error {
	mc.mu.RLock()
	item, ok := mc.items[key]
	mc.mu.RUnlock()
	if !ok {
		return ErrCacheMiss
	}

	if !item.expiration.IsZero() && mc.now().After(item.expiration) {
		mc.mu.Lock()
		if cur, ok := mc.items[key]; ok && cur.expiration.Equal(item.expiration) {
			delete(mc.items, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}

	if err := json.Unmarshal(item.data, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Set ttl <= 0 表示永不过期
func (mc *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	var expiration time.Time
	if ttl > 0 {
		expiration = mc.now().Add(ttl)
	}

	mc.mu.Lock()
	mc.items[key] = memoryItem{data: data, expiration: expiration}
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Close() error {
	mc.mu.Lock()
	mc.items = make(map[string]memoryItem)
	mc.mu.Unlock()
	return nil
}

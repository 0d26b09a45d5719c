package cache

import (
	"context"
	"errors"
	"time"

	"crypto-live-dashboard/internal/service"

	"go.uber.org/zap"
)

// ErrCacheMiss 键不存在或已过期
var ErrCacheMiss = errors.New("cache miss")

// Cache 带 TTL 的键值缓存，值以 JSON 存储
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Close() error
}

// New 按配置创建缓存：启用 Redis 且可连通时使用 Redis，否则退回进程内缓存
func New(cfg service.RedisConfig, logger *zap.Logger) Cache {
	if !cfg.Enabled {
		return NewMemoryCache()
	}
	rc, err := NewRedisCache(cfg)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to memory cache", zap.String("addr", cfg.Addr), zap.Error(err))
		return NewMemoryCache()
	}
	logger.Info("Redis cache connected", zap.String("addr", cfg.Addr))
	return rc
}

// Package resolver 判断币种是否有可用的实时行情交易对
package resolver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"crypto-live-dashboard/internal/cache"
	"crypto-live-dashboard/internal/fetcher"
	"crypto-live-dashboard/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL     = time.Hour
	DefaultFetchTimeout = 15 * time.Second
)

// Resolver 交易对目录按 TTL 粗粒度缓存；并发的目录拉取合并为一次
type Resolver struct {
	directory fetcher.SymbolDirectory
	cache     cache.Cache
	quote     string
	ttl       time.Duration
	// fetchTimeout 共享拉取自身的超时
	fetchTimeout time.Duration
	group        singleflight.Group
	logger       *zap.Logger
}

func New(directory fetcher.SymbolDirectory, c cache.Cache, quoteAsset string, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Resolver{
		directory:    directory,
		cache:        c,
		quote:        strings.ToUpper(quoteAsset),
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		logger:       logger,
	}
}

// FeedSymbol 按约定 (大写 symbol + 计价币) 推导交易对
func (r *Resolver) FeedSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}
	return s + r.quote
}

// Resolve 返回 (交易对, true) 当且仅当该交易对在目录中且正在交易。
// 目录拉取失败时返回 false，不向调用方传播错误。
func (r *Resolver) Resolve(ctx context.Context, symbol string) (string, bool) {
	feedSymbol := r.FeedSymbol(symbol)
	if feedSymbol == "" {
		return "", false
	}

	symbols, err := r.symbols(ctx)
	if err != nil {
		r.logger.Warn("Symbol directory unavailable, live feed disabled",
			zap.String("symbol", symbol), zap.Error(err))
		return "", false
	}

	i := sort.SearchStrings(symbols, feedSymbol)
	if i < len(symbols) && symbols[i] == feedSymbol {
		return feedSymbol, true
	}
	r.logger.Debug("No tradable pair for symbol", zap.String("symbol", symbol), zap.String("feedSymbol", feedSymbol))
	return "", false
}

func (r *Resolver) cacheKey() string {
	return "symbol-directory:" + r.quote
}

func (r *Resolver) symbols(ctx context.Context) ([]string, error) {
	var cached []string
	err := r.cache.Get(ctx, r.cacheKey(), &cached)
	if err == nil {
		service.DirectoryLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("Directory cache read failed", zap.Error(err))
	}
	service.DirectoryLookups.WithLabelValues("miss").Inc()

	// 目录拉取由所有等待者共享，不随发起者的 ctx 取消；每个调用方只按自己的 ctx 放弃等待
	ch := r.group.DoChan(r.cacheKey(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		// 上一轮拉取可能刚刚写入缓存
		var fresh []string
		if r.cache.Get(fetchCtx, r.cacheKey(), &fresh) == nil {
			return fresh, nil
		}

		symbols, err := r.directory.FetchSymbolDirectory(fetchCtx)
		if err != nil {
			return nil, err
		}
		sorted := make([]string, len(symbols))
		for i, s := range symbols {
			sorted[i] = strings.ToUpper(s)
		}
		sort.Strings(sorted)

		if err := r.cache.Set(fetchCtx, r.cacheKey(), sorted, r.ttl); err != nil {
			r.logger.Warn("Directory cache write failed", zap.Error(err))
		}
		return sorted, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			service.DirectoryLookups.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-live-dashboard/internal/api"
	"crypto-live-dashboard/internal/cache"
	"crypto-live-dashboard/internal/fetcher"
	"crypto-live-dashboard/internal/httpapi"
	"crypto-live-dashboard/internal/live"
	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/resolver"
	"crypto-live-dashboard/internal/service"
	"crypto-live-dashboard/pkg/ta"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := service.LoadConfig("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := service.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer service.Logger.Sync()
	logger := service.Logger

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.Feed.WSBaseURL == "" {
		logger.Warn("BINANCE_WS_BASE_URL not set, live feed disabled for all assets")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 交易对目录 (可选 Redis 缓存) 与解析器
	directoryCache := cache.New(cfg.Directory.Redis, logger)
	defer directoryCache.Close()
	directory := fetcher.NewBinanceDirectory(cfg.Directory, cfg.Feed.QuoteAsset, logger)
	symbolResolver := resolver.New(directory, directoryCache, cfg.Feed.QuoteAsset, cfg.Directory.CacheTTL, logger)

	// 2. 历史 K 线与快照数据源
	market := fetcher.NewCoinGeckoClient(cfg.MarketData, logger)

	// 3. 视图注册表，每个视图独占一条行情连接
	registry := live.NewRegistry(ctx, live.Options{
		Feed: api.FeedOptions{
			WSBaseURL:        cfg.Feed.WSBaseURL,
			Cadence:          cfg.Feed.DefaultCadence,
			TradeCapacity:    cfg.Feed.TradeCapacity,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		},
		DefaultPeriod: model.Period(cfg.Chart.DefaultPeriod),
		Cadences:      cfg.Feed.Cadences,
	}, live.Deps{
		Resolver: symbolResolver,
		Market:   market,
		Overlay:  ta.NewCalculator(cfg.Chart.OverlayMAPeriod, logger),
		Logger:   logger,
	})

	// 4. HTTP 接口
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := httpapi.NewServer(cfg.Server.Addr, registry, cfg.Feed.Cadences, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	registry.Close(shutdownCtx)
	logger.Info("Dashboard backend stopped")
}

// Package fetcher REST 数据源：历史 K 线、币种快照、交易对目录
package fetcher

import (
	"context"

	"crypto-live-dashboard/internal/model"
)

// HistoricalSource 按窗口拉取历史 K 线，时间戳可以是毫秒或秒
type HistoricalSource interface {
	FetchHistoricalCandles(ctx context.Context, assetID string, period model.PeriodConfig) ([]model.Candle, error)
}

// SnapshotSource 拉取币种快照，作为实时报价的回退
type SnapshotSource interface {
	FetchCoinSnapshot(ctx context.Context, assetID string) (model.CoinSnapshot, error)
}

// MarketData 同一个 REST 数据源通常同时提供两者
type MarketData interface {
	HistoricalSource
	SnapshotSource
}

// SymbolDirectory 返回当前可交易的交易对 (例如 BTCUSDT)
type SymbolDirectory interface {
	FetchSymbolDirectory(ctx context.Context) ([]string, error)
}

package model

import "fmt"

// Candle 单根 K 线 (OHLC)，Timestamp 为桶起始时间 (秒)
type Candle struct {
	Timestamp int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// Side 成交方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade 一笔成交；Value = Price × Amount，Timestamp 为毫秒
type Trade struct {
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Side      Side    `json:"side"`
}

// QuoteSource 标识报价来自实时行情还是 REST 快照
type QuoteSource string

const (
	QuoteLive     QuoteSource = "live"
	QuoteSnapshot QuoteSource = "snapshot"
)

// PriceQuote 当前报价，每个 ticker 事件整体覆盖
type PriceQuote struct {
	Coin      string      `json:"coin"`
	Price     float64     `json:"price"`
	Change24h float64     `json:"change24h"` // 24h 涨跌幅 (百分比)
	Volume24h float64     `json:"volume24h"`
	Timestamp int64       `json:"timestamp"` // 毫秒
	Source    QuoteSource `json:"source"`
}

// CoinSnapshot REST 拉取的币种快照，实时行情不可用时的回退数据
type CoinSnapshot struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	Change24h      float64 `json:"change24h"`      // 百分比
	PriceChange24h float64 `json:"priceChange24h"` // 绝对值
	Change30d      float64 `json:"change30d"`      // 百分比
	Volume24h      float64 `json:"volume24h"`
	LastUpdated    int64   `json:"lastUpdated"` // 毫秒
}

// Quote 将快照转换为回退报价
func (s CoinSnapshot) Quote() PriceQuote {
	return PriceQuote{
		Coin:      s.ID,
		Price:     s.Price,
		Change24h: s.Change24h,
		Volume24h: s.Volume24h,
		Timestamp: s.LastUpdated,
		Source:    QuoteSnapshot,
	}
}

// FeedState 实时连接状态
type FeedState string

const (
	StateIdle       FeedState = "IDLE"
	StateConnecting FeedState = "CONNECTING"
	StateOpen       FeedState = "OPEN"
	StateClosed     FeedState = "CLOSED"
	StateErrored    FeedState = "ERRORED"
)

// ConnectionStatus 连接状态及其原因；Reason 仅在 Closed/Errored 时有意义
type ConnectionStatus struct {
	State  FeedState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

func (c ConnectionStatus) String() string {
	if c.Reason == "" {
		return string(c.State)
	}
	return fmt.Sprintf("%s(%s)", c.State, c.Reason)
}

// Resolution 交易对可用性解析结果
type Resolution string

const (
	Unresolved Resolution = "unresolved"
	Eligible   Resolution = "eligible"
	Ineligible Resolution = "ineligible"
)

// AssetFeedBinding 币种到实时行情交易对的绑定
type AssetFeedBinding struct {
	AssetID    string     `json:"assetId"`
	Symbol     string     `json:"symbol"`               // 币种自身 ticker，例如 btc
	FeedSymbol string     `json:"feedSymbol,omitempty"` // 仅在可交易时存在，例如 BTCUSDT
	Resolution Resolution `json:"resolution"`
}

// Eligible 是否存在可用的实时行情
func (b AssetFeedBinding) Eligible() bool {
	return b.Resolution == Eligible && b.FeedSymbol != ""
}

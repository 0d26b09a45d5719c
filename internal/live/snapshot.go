package live

import (
	"time"

	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/view"
	"crypto-live-dashboard/pkg/ta"
)

// Snapshot 某一时刻视图状态的只读副本
type Snapshot struct {
	ViewID     string                 `json:"viewId"`
	Binding    model.AssetFeedBinding `json:"binding"`
	Connection model.ConnectionStatus `json:"connection"`
	// Error 连接错误提示；主动关闭、正常关闭和无实时行情时为空
	Error string `json:"error,omitempty"`

	// Quote 实时报价，没有实时行情时为快照报价 (Source=snapshot)
	Quote      *model.PriceQuote   `json:"quote,omitempty"`
	Coin       *model.CoinSnapshot `json:"coin,omitempty"`
	Trades     []model.Trade       `json:"trades"`
	LiveCandle *model.Candle       `json:"liveCandle,omitempty"`
	Series     []model.Candle      `json:"series"`
	Overlay    []ta.Point          `json:"overlay,omitempty"`

	Period          model.Period `json:"period"`
	Cadence         string       `json:"cadence"`
	Mode            view.Mode    `json:"mode,omitempty"`
	Loading         bool         `json:"loading"`
	HistoricalError string       `json:"historicalError,omitempty"`
	FitRevision     uint64       `json:"fitRevision"`
	DataRevision    uint64       `json:"dataRevision"`
	FullReplaces    uint64       `json:"fullReplaces"`
	Subscriptions   []string     `json:"subscriptions,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Live 是否正在使用实时报价
func (s *Snapshot) Live() bool {
	return s.Quote != nil && s.Quote.Source == model.QuoteLive
}

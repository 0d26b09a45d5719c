package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedMessages 按消息类型 (ticker/trade/kline/ack) 统计收到的行情消息
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_feed_messages_total",
		Help: "Live feed messages applied, by kind.",
	}, []string{"kind"})

	FeedParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_feed_parse_errors_total",
		Help: "Live feed messages dropped because they could not be parsed.",
	})

	// FeedStaleEvents 来自已解绑连接 (旧 epoch) 的事件，被丢弃
	FeedStaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_feed_stale_events_total",
		Help: "Events from a superseded connection that were dropped.",
	})

	FeedStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_feed_state_transitions_total",
		Help: "Feed connection state transitions, by target state.",
	}, []string{"state"})

	// HistoricalFetches 按结果 (applied/failed/abandoned) 统计历史 K 线请求
	HistoricalFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_historical_fetches_total",
		Help: "Historical candle fetch outcomes.",
	}, []string{"outcome"})

	DirectoryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_symbol_directory_lookups_total",
		Help: "Symbol directory lookups, by outcome (hit/miss/error).",
	}, []string{"outcome"})

	ActiveViews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_active_views",
		Help: "Asset views currently held by the registry.",
	})
)

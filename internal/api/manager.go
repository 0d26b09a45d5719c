package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport FeedManager 使用的连接抽象，默认实现是 *Connector
type Transport interface {
	Start(ctx context.Context)
	Send(v any) error
	Close()
}

// TransportFactory 为指定 epoch 创建连接
type TransportFactory func(url string, epoch uint64, sink EventSink) Transport

// FeedOptions FeedManager 参数
type FeedOptions struct {
	WSBaseURL        string
	Cadence          string
	TradeCapacity    int
	HandshakeTimeout time.Duration
}

// Change 一次事件处理后哪些对外状态发生了变化
type Change struct {
	State  bool
	Quote  bool
	Trades bool
	Candle bool
}

func (c Change) Any() bool {
	return c.State || c.Quote || c.Trades || c.Candle
}

// FeedManager 每个币种视图独占一个实例，只在所属 session 的事件循环中调用。
//
// 状态机: Idle -> Connecting -> Open -> {Closed | Errored}
// 每次 Connect/Disconnect 都会递增 epoch，旧连接投递的事件因 epoch 不匹配被丢弃，
// 因此主动关闭不会产生错误提示，旧币种的迟到消息也不会落到新币种上。
type FeedManager struct {
	opts    FeedOptions
	sink    EventSink
	factory TransportFactory
	logger  *zap.Logger

	epoch      uint64
	status     model.ConnectionStatus
	errMsg     string
	coin       string
	feedSymbol string
	cadence    string
	transport  Transport
	subs       *SubscriptionSet

	quote  *model.PriceQuote
	trades *model.TradeList
	live   *model.Candle
}

func NewFeedManager(opts FeedOptions, sink EventSink, logger *zap.Logger) *FeedManager {
	if opts.Cadence == "" {
		opts.Cadence = "1m"
	}
	m := &FeedManager{
		opts:    opts,
		sink:    sink,
		logger:  logger,
		status:  model.ConnectionStatus{State: model.StateIdle},
		cadence: opts.Cadence,
		trades:  model.NewTradeList(opts.TradeCapacity),
	}
	m.factory = func(url string, epoch uint64, sink EventSink) Transport {
		return NewConnector(url, epoch, opts.HandshakeTimeout, sink, logger)
	}
	return m
}

// SetTransportFactory 替换连接实现
func (m *FeedManager) SetTransportFactory(f TransportFactory) {
	m.factory = f
}

// Connect 拆除当前连接后为 feedSymbol 建立新连接。feedSymbol 为空或未配置 WS 地址时停留在 Idle。
// 对同一交易对重复调用即为重连。
func (m *FeedManager) Connect(ctx context.Context, coin, feedSymbol string) {
	m.teardown()
	m.coin = coin
	m.feedSymbol = strings.ToUpper(feedSymbol)

	if m.feedSymbol == "" {
		m.setStatus(model.StateIdle, "")
		return
	}
	if m.opts.WSBaseURL == "" {
		err := model.NewFeedError(model.ErrCodeConfigurationMissing, "feed websocket base url is not configured", nil)
		m.logger.Warn("Live feed unavailable", zap.Error(err))
		m.setStatus(model.StateIdle, "")
		return
	}

	streams := AssetStreams(m.feedSymbol, m.cadence)
	m.subs = NewSubscriptionSet(streams...)
	url := CombinedStreamURL(m.opts.WSBaseURL, streams)

	m.setStatus(model.StateConnecting, "")
	m.transport = m.factory(url, m.epoch, m.sink)
	m.transport.Start(ctx)
}

// Disconnect 主动拆除，回到 Idle，不产生错误提示
func (m *FeedManager) Disconnect() {
	m.teardown()
	m.coin = ""
	m.feedSymbol = ""
	m.setStatus(model.StateIdle, "")
}

// teardown 顺序固定: 标记旧连接为主动关闭 (递增 epoch) -> 关闭连接 -> 丢弃旧币种的全部行情状态
func (m *FeedManager) teardown() {
	m.epoch++
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.subs = nil
	m.quote = nil
	m.live = nil
	m.trades.Reset()
	m.errMsg = ""
}

// Handle 处理连接 goroutine 投递的事件
func (m *FeedManager) Handle(ev StreamEvent) Change {
	if ev.Epoch != m.epoch || m.transport == nil {
		service.FeedStaleEvents.Inc()
		m.logger.Debug("Dropping event from superseded connection",
			zap.Uint64("eventEpoch", ev.Epoch), zap.Uint64("epoch", m.epoch), zap.Stringer("kind", ev.Kind))
		return Change{}
	}

	switch ev.Kind {
	case EventOpened:
		m.errMsg = ""
		m.setStatus(model.StateOpen, "")
		// 握手期间切换过周期时，连接地址里仍是旧周期的 kline
		if err := m.syncKlineSubscription(); err != nil {
			return m.sendFailed(err)
		}
		m.logger.Info("Subscribed to combined stream", zap.Strings("streams", m.subs.Streams()))
		return Change{State: true}

	case EventMessage:
		return m.handleMessage(ev.Data)

	case EventClosed:
		m.transport = nil
		if ev.CloseCode == websocket.CloseNormalClosure {
			m.setStatus(model.StateClosed, "normal closure")
			return Change{State: true}
		}
		reason := fmt.Sprintf("connection closed by server (code %d)", ev.CloseCode)
		if ev.CloseText != "" {
			reason += ": " + ev.CloseText
		}
		m.errMsg = reason
		m.setStatus(model.StateErrored, reason)
		return Change{State: true}

	case EventFailed:
		m.transport = nil
		reason := "connection error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		m.errMsg = reason
		m.setStatus(model.StateErrored, reason)
		return Change{State: true}
	}
	return Change{}
}

func (m *FeedManager) handleMessage(data []byte) Change {
	fact, err := ParseMessage(data)
	if err != nil {
		service.FeedParseErrors.Inc()
		m.logger.Warn("Dropping unparseable feed message", zap.Error(err), zap.ByteString("raw", truncate(data, 256)))
		return Change{}
	}

	if fact.Kind == FactAck {
		service.FeedMessages.WithLabelValues(string(FactAck)).Inc()
		if fact.AckError != "" {
			m.logger.Warn("Subscription request rejected", zap.Int64("id", fact.AckID), zap.String("error", fact.AckError))
		}
		return Change{}
	}

	if fact.Symbol != m.feedSymbol {
		m.logger.Debug("Dropping fact for another symbol", zap.String("symbol", fact.Symbol))
		return Change{}
	}
	service.FeedMessages.WithLabelValues(string(fact.Kind)).Inc()

	switch fact.Kind {
	case FactTicker:
		q := *fact.Quote
		q.Coin = m.coin
		m.quote = &q
		return Change{Quote: true}
	case FactTrade:
		m.trades.Push(*fact.Trade)
		return Change{Trades: true}
	case FactKline:
		// 切换周期后旧周期的 K 线可能还在路上
		if fact.Interval != m.cadence {
			return Change{}
		}
		c := *fact.Candle
		m.live = &c
		return Change{Candle: true}
	}
	return Change{}
}

// SetCadence 切换 K 线订阅周期，不触发历史数据重新拉取。
// 连接已打开时在同一连接上 UNSUBSCRIBE 旧 kline 并 SUBSCRIBE 新 kline；
// 连接中时在 Opened 事件里补发；未连接时在下次连接时生效。
func (m *FeedManager) SetCadence(cadence string) (Change, error) {
	if cadence == "" || cadence == m.cadence {
		return Change{}, nil
	}
	old := m.cadence
	m.cadence = cadence
	m.live = nil

	if m.transport == nil || m.status.State != model.StateOpen {
		return Change{Candle: true}, nil
	}

	if err := m.syncKlineSubscription(); err != nil {
		return m.sendFailed(err), err
	}
	m.logger.Info("Kline cadence changed", zap.String("from", old), zap.String("to", cadence))
	return Change{Candle: true}, nil
}

// syncKlineSubscription 使连接上的 kline 订阅与当前周期一致，已一致时不发送任何请求
func (m *FeedManager) syncKlineSubscription() error {
	current := KlineStream(m.feedSymbol, m.cadence)
	prefix := KlineStream(m.feedSymbol, "")

	var stale []string
	for _, st := range m.subs.Streams() {
		if strings.HasPrefix(st, prefix) && st != current {
			stale = append(stale, st)
		}
	}
	if req, ok := m.subs.Unsubscribe(stale...); ok {
		if err := m.transport.Send(req); err != nil {
			return err
		}
	}
	if req, ok := m.subs.Subscribe(current); ok {
		if err := m.transport.Send(req); err != nil {
			return err
		}
	}
	return nil
}

func (m *FeedManager) sendFailed(err error) Change {
	m.errMsg = err.Error()
	m.setStatus(model.StateErrored, err.Error())
	m.transport.Close()
	m.transport = nil
	return Change{State: true, Candle: true}
}

func (m *FeedManager) setStatus(state model.FeedState, reason string) {
	next := model.ConnectionStatus{State: state, Reason: reason}
	if next == m.status {
		return
	}
	m.logger.Info("Feed state transition",
		zap.String("From", string(m.status.State)),
		zap.String("To", string(state)),
		zap.String("Reason", reason),
		zap.String("Symbol", m.feedSymbol))
	service.FeedStateTransitions.WithLabelValues(string(state)).Inc()
	m.status = next
}

func (m *FeedManager) Status() model.ConnectionStatus { return m.status }

// Error 面向用户的错误提示；主动关闭和正常关闭时为空
func (m *FeedManager) Error() string { return m.errMsg }

func (m *FeedManager) Epoch() uint64 { return m.epoch }

func (m *FeedManager) Cadence() string { return m.cadence }

func (m *FeedManager) FeedSymbol() string { return m.feedSymbol }

// Quote 最近一次 ticker 报价，没有时为 nil
func (m *FeedManager) Quote() *model.PriceQuote {
	if m.quote == nil {
		return nil
	}
	q := *m.quote
	return &q
}

func (m *FeedManager) Trades() []model.Trade {
	return m.trades.Items()
}

// LiveCandle 当前正在形成的 K 线，没有时为 nil
func (m *FeedManager) LiveCandle() *model.Candle {
	if m.live == nil {
		return nil
	}
	c := *m.live
	return &c
}

// Subscriptions 当前连接订阅的 stream
func (m *FeedManager) Subscriptions() []string {
	if m.subs == nil {
		return nil
	}
	return m.subs.Streams()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// Package live 每个币种视图的运行时：在单一事件循环上协调实时行情、历史数据和图表同步
package live

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"crypto-live-dashboard/internal/api"
	"crypto-live-dashboard/internal/fetcher"
	"crypto-live-dashboard/internal/model"
	"crypto-live-dashboard/internal/service"
	"crypto-live-dashboard/internal/view"
	"crypto-live-dashboard/pkg/ta"

	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotBound      = errors.New("no asset bound")
)

// SymbolResolver 判断币种是否有实时行情交易对
type SymbolResolver interface {
	Resolve(ctx context.Context, symbol string) (feedSymbol string, ok bool)
}

// Deps Session 依赖的外部协作者
type Deps struct {
	Resolver SymbolResolver
	Market   fetcher.MarketData
	Overlay  *ta.Calculator
	Logger   *zap.Logger
	// Transport 为空时使用 gorilla 连接
	Transport api.TransportFactory
}

// Options Session 参数
type Options struct {
	Feed          api.FeedOptions
	DefaultPeriod model.Period
	Cadences      []string
	FetchTimeout  time.Duration
	QueueSize     int
}

// Session 一个币种视图。所有状态只在 Run 所在的 goroutine 上读写，
// 命令、异步结果和连接事件都经由 events 串行进入事件循环。
// 展示层通过 Snapshot 无锁读取最近一次发布的不可变快照。
type Session struct {
	id     string
	opts   Options
	deps   Deps
	logger *zap.Logger

	events   chan func()
	done     chan struct{}
	started  atomic.Bool
	snapshot atomic.Pointer[Snapshot]

	// 以下字段只在事件循环中访问
	ctx        context.Context
	epoch      uint64
	bound      bool
	binding    model.AssetFeedBinding
	feed       *api.FeedManager
	periods    *view.PeriodController
	reconciler *model.Reconciler
	surface    *view.SeriesBuffer
	sync       *view.SyncController
	historical []model.Candle
	histErr    string
	coin       *model.CoinSnapshot
	series     []model.Candle
	overlay    []ta.Point
}

func NewSession(id string, opts Options, deps Deps) (*Session, error) {
	if deps.Market == nil || deps.Resolver == nil {
		return nil, errors.New("session requires market data and resolver")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	periods, err := view.NewPeriodController(opts.DefaultPeriod, opts.Feed.Cadence, opts.Cadences)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.With(zap.String("view", id))
	s := &Session{
		id:         id,
		opts:       opts,
		deps:       deps,
		logger:     logger,
		events:     make(chan func(), opts.QueueSize),
		done:       make(chan struct{}),
		periods:    periods,
		reconciler: model.NewReconciler(),
		surface:    view.NewSeriesBuffer(),
	}
	s.sync = view.NewSyncController(s.surface, logger)
	s.feed = api.NewFeedManager(opts.Feed, s.onStreamEvent, logger)
	if deps.Transport != nil {
		s.feed.SetTransportFactory(deps.Transport)
	}
	s.publish()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Run 事件循环，ctx 取消后拆除连接并返回
func (s *Session) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.ctx = ctx
	s.logger.Info("View session started")

	defer func() {
		s.teardown()
		close(s.done)
		s.logger.Info("View session stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// Done 事件循环退出后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot 最近一次发布的快照，调用方不得修改
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// BindAsset 绑定 (或重新绑定) 币种。返回时旧币种的连接已拆除，之后不会再有旧币种的数据被接受。
func (s *Session) BindAsset(ctx context.Context, assetID, symbol string) error {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return errors.New("asset id is required")
	}
	return s.do(ctx, func() error {
		s.bind(assetID, strings.TrimSpace(symbol))
		return nil
	})
}

// UnbindAsset 解绑当前币种，连接静默关闭
func (s *Session) UnbindAsset(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.teardown()
		s.publish()
		return nil
	})
}

// SelectPeriod 切换历史窗口并重新拉取；实时叠加保持不变
func (s *Session) SelectPeriod(ctx context.Context, period model.Period) error {
	return s.do(ctx, func() error {
		if !s.bound {
			return ErrNotBound
		}
		req, changed, err := s.periods.Select(period)
		if err != nil || !changed {
			return err
		}
		s.logger.Info("Historical period changed", zap.String("period", string(period)))
		s.fetchHistorical(req)
		s.publish()
		return nil
	})
}

// SelectLiveCadence 切换实时 K 线周期，不重新拉取历史数据
func (s *Session) SelectLiveCadence(ctx context.Context, cadence string) error {
	return s.do(ctx, func() error {
		changed, err := s.periods.SelectCadence(cadence)
		if err != nil || !changed {
			return err
		}
		ch, err := s.feed.SetCadence(cadence)
		if err != nil {
			// 发送失败已体现为连接错误提示
			s.logger.Warn("Cadence resubscribe failed", zap.Error(err))
		}
		if ch.Candle {
			s.remerge(false)
		}
		s.publish()
		return nil
	})
}

// do 把命令投递到事件循环并等待执行完成
func (s *Session) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	if !s.post(ctx, func() { errCh <- fn() }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrSessionClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) post(ctx context.Context, fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// onStreamEvent 在连接 goroutine 中调用，按到达顺序进入事件循环
func (s *Session) onStreamEvent(ev api.StreamEvent) bool {
	return s.post(context.Background(), func() {
		ch := s.feed.Handle(ev)
		if ch.Candle {
			s.remerge(false)
		}
		if ch.Any() {
			s.publish()
		}
	})
}

// async 在独立 goroutine 中执行 work，结果带着发起时的 epoch 回到事件循环；epoch 已变化则丢弃
func (s *Session) async(name string, work func(ctx context.Context) func()) {
	epoch := s.epoch
	parent := s.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, s.opts.FetchTimeout)
		defer cancel()
		apply := work(ctx)

		s.post(parent, func() {
			if epoch != s.epoch {
				s.logger.Debug("Dropping result for previous binding", zap.String("result", name))
				if name == "historical" {
					service.HistoricalFetches.WithLabelValues("abandoned").Inc()
				}
				return
			}
			apply()
			s.publish()
		})
	}()
}

func (s *Session) bind(assetID, symbol string) {
	s.teardown()

	s.bound = true
	s.binding = model.AssetFeedBinding{AssetID: assetID, Symbol: symbol, Resolution: model.Unresolved}
	s.logger.Info("Binding asset", zap.String("asset", assetID), zap.String("symbol", symbol))

	s.async("resolution", func(ctx context.Context) func() {
		feedSymbol, ok := s.deps.Resolver.Resolve(ctx, symbol)
		return func() { s.applyResolution(feedSymbol, ok) }
	})
	s.async("snapshot", func(ctx context.Context) func() {
		snap, err := s.deps.Market.FetchCoinSnapshot(ctx, assetID)
		return func() { s.applySnapshot(snap, err) }
	})
	s.fetchHistorical(s.periods.Refetch())
	s.publish()
}

// teardown 先递增 epoch 使在途结果失效，再由 FeedManager 按序关闭连接并丢弃行情状态
func (s *Session) teardown() {
	s.epoch++
	s.feed.Disconnect()
	s.periods.Invalidate()
	s.reconciler.Rebase()
	s.sync.Reset()
	s.surface.Reset()

	s.bound = false
	s.binding = model.AssetFeedBinding{}
	s.historical = nil
	s.histErr = ""
	s.coin = nil
	s.series = nil
	s.overlay = nil
}

func (s *Session) fetchHistorical(req view.FetchRequest) {
	assetID := s.binding.AssetID
	s.async("historical", func(ctx context.Context) func() {
		candles, err := s.deps.Market.FetchHistoricalCandles(ctx, assetID, req.Config)
		return func() { s.applyHistorical(req, candles, err) }
	})
}

func (s *Session) applyResolution(feedSymbol string, ok bool) {
	if !ok {
		s.binding.Resolution = model.Ineligible
		s.logger.Info("No live feed for asset, using snapshot data", zap.String("asset", s.binding.AssetID))
		s.remerge(false)
		return
	}
	s.binding.Resolution = model.Eligible
	s.binding.FeedSymbol = feedSymbol
	s.feed.Connect(s.ctx, s.binding.AssetID, feedSymbol)
	s.remerge(false)
}

func (s *Session) applySnapshot(snap model.CoinSnapshot, err error) {
	if err != nil {
		s.logger.Warn("Coin snapshot unavailable", zap.String("asset", s.binding.AssetID), zap.Error(err))
		return
	}
	s.coin = &snap
}

func (s *Session) applyHistorical(req view.FetchRequest, candles []model.Candle, err error) {
	if s.periods.Accept(req.Seq) != nil {
		service.HistoricalFetches.WithLabelValues("abandoned").Inc()
		s.logger.Debug("Dropping superseded historical result",
			zap.String("period", string(req.Config.Period)), zap.Uint64("seq", req.Seq))
		return
	}
	if err != nil {
		// 保留上一批数据 (如果有)，标记为过期
		service.HistoricalFetches.WithLabelValues("failed").Inc()
		s.histErr = err.Error()
		s.logger.Warn("Historical fetch failed",
			zap.String("period", string(req.Config.Period)), zap.String("code", string(model.CodeOf(err))), zap.Error(err))
		return
	}

	service.HistoricalFetches.WithLabelValues("applied").Inc()
	s.historical = candles
	s.histErr = ""
	s.reconciler.Rebase()
	s.remerge(true)
}

// remerge 合并历史批次与实时 K 线，并交给 SyncController 写入图表
func (s *Session) remerge(periodChanged bool) {
	res := s.reconciler.Merge(s.historical, s.feed.LiveCandle())
	s.series = res.Series
	s.overlay = s.deps.Overlay.MovingAverage(res.Series)

	d := s.sync.Apply(view.Update{
		Series:        res.Series,
		LengthChanged: res.LengthChanged,
		PeriodChanged: periodChanged,
		Mode:          s.mode(),
	})
	if d.Fit {
		s.logger.Debug("Chart fit to content", zap.Int("candles", len(res.Series)), zap.Bool("periodChanged", periodChanged))
	}
}

func (s *Session) mode() view.Mode {
	if s.binding.Eligible() {
		return view.ModeLive
	}
	return view.ModeHistorical
}

func (s *Session) publish() {
	snap := &Snapshot{
		ViewID:          s.id,
		Binding:         s.binding,
		Connection:      s.feed.Status(),
		Error:           s.feed.Error(),
		Trades:          s.feed.Trades(),
		LiveCandle:      s.feed.LiveCandle(),
		Series:          s.series,
		Overlay:         s.overlay,
		Period:          s.periods.Current(),
		Cadence:         s.periods.Cadence(),
		Mode:            s.sync.Mode(),
		Loading:         s.periods.Loading(),
		HistoricalError: s.histErr,
		FitRevision:     s.surface.FitRevision(),
		DataRevision:    s.surface.DataRevision(),
		FullReplaces:    s.surface.FullReplaces(),
		Subscriptions:   s.feed.Subscriptions(),
		UpdatedAt:       time.Now(),
	}
	if s.coin != nil {
		c := *s.coin
		snap.Coin = &c
	}
	snap.Quote = quoteWithFallback(s.feed.Quote(), s.coin)
	s.snapshot.Store(snap)
}

// quoteWithFallback 实时报价优先，没有时退回 REST 快照
func quoteWithFallback(live *model.PriceQuote, coin *model.CoinSnapshot) *model.PriceQuote {
	if live != nil {
		return live
	}
	if coin != nil {
		q := coin.Quote()
		return &q
	}
	return nil
}

package view

import (
	"crypto-live-dashboard/internal/model"

	"go.uber.org/zap"
)

// Mode 图表渲染模式
type Mode string

const (
	ModeHistorical Mode = "historical" // 只有历史数据
	ModeLive       Mode = "live"       // 叠加实时 K 线
)

// Update 一次待应用的序列更新
type Update struct {
	Series        []model.Candle
	LengthChanged bool // 来自 Reconciler 的分类
	PeriodChanged bool // 历史批次整体替换
	Mode          Mode
}

// Decision 对图表表面执行了哪些操作
type Decision struct {
	Applied     bool
	FullReplace bool
	Fit         bool
}

// SyncController 图表表面唯一的写入方。
//
// 视口重置 (fit) 的条件：
//   - 历史窗口切换
//   - 出现了新的 K 线桶 (长度变化)
//   - 渲染模式在 historical/live 之间切换，只在切换时触发一次
//
// 仅刷新最后一根 K 线时保留用户当前的缩放和平移。
type SyncController struct {
	surface ChartSurface
	logger  *zap.Logger

	mode       Mode
	modeKnown  bool
	fitPending bool
	applied    []model.Candle
}

func NewSyncController(surface ChartSurface, logger *zap.Logger) *SyncController {
	return &SyncController{surface: surface, logger: logger}
}

// Apply 先写数据，再决定是否 fit。空序列不做任何操作。
func (c *SyncController) Apply(u Update) Decision {
	modeChanged := c.transition(u.Mode)
	if modeChanged {
		c.fitPending = true
	}

	if len(u.Series) == 0 {
		return Decision{}
	}

	d := Decision{Applied: true}
	if u.PeriodChanged || modeChanged || !c.tailCompatible(u.Series) {
		c.surface.SetData(u.Series)
		d.FullReplace = true
	} else {
		c.surface.UpdateTail(u.Series[len(u.Series)-1])
	}
	c.applied = append(c.applied[:0], u.Series...)

	if u.PeriodChanged || u.LengthChanged || c.fitPending {
		c.surface.FitContent()
		c.fitPending = false
		d.Fit = true
	}
	return d
}

// Reset 绑定新币种时调用，下一次更新按首次渲染处理
func (c *SyncController) Reset() {
	c.modeKnown = false
	c.fitPending = false
	c.applied = c.applied[:0]
}

func (c *SyncController) Mode() Mode {
	return c.mode
}

// transition 首次设置模式也视为一次切换
func (c *SyncController) transition(next Mode) bool {
	if next == "" {
		next = ModeHistorical
	}
	if c.modeKnown && next == c.mode {
		return false
	}
	if c.modeKnown {
		c.logger.Info("Chart mode transition",
			zap.String("From", string(c.mode)),
			zap.String("To", string(next)))
	}
	c.mode = next
	c.modeKnown = true
	return true
}

// tailCompatible 新序列相对已应用序列只有最后一根被刷新或只追加了一根
func (c *SyncController) tailCompatible(series []model.Candle) bool {
	n, m := len(series), len(c.applied)
	if m == 0 {
		return false
	}
	switch n {
	case m:
		if series[n-1].Timestamp != c.applied[m-1].Timestamp {
			return false
		}
		return equalPrefix(series, c.applied, n-1)
	case m + 1:
		return equalPrefix(series, c.applied, m)
	}
	return false
}

func equalPrefix(a, b []model.Candle, n int) bool {
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

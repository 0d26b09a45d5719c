package view

import "crypto-live-dashboard/internal/model"

// ChartSurface 图表组件对外暴露的最小操作集
type ChartSurface interface {
	// SetData 整体替换序列
	SetData(series []model.Candle)
	// UpdateTail 刷新最后一根或追加一根
	UpdateTail(c model.Candle)
	// FitContent 可视范围重置为全部数据
	FitContent()
}

// SeriesBuffer 内存中的图表表面，记录已应用的数据和视口操作
type SeriesBuffer struct {
	data         []model.Candle
	fitRevision  uint64
	dataRevision uint64
	fullReplaces uint64
	tailUpdates  uint64
}

func NewSeriesBuffer() *SeriesBuffer {
	return &SeriesBuffer{}
}

func (b *SeriesBuffer) SetData(series []model.Candle) {
	b.data = append(b.data[:0:0], series...)
	b.fullReplaces++
	b.dataRevision++
}

func (b *SeriesBuffer) UpdateTail(c model.Candle) {
	if n := len(b.data); n > 0 && b.data[n-1].Timestamp == c.Timestamp {
		b.data[n-1] = c
	} else {
		b.data = append(b.data, c)
	}
	b.tailUpdates++
	b.dataRevision++
}

func (b *SeriesBuffer) FitContent() {
	b.fitRevision++
}

// Reset 清空数据，修订号保持递增
func (b *SeriesBuffer) Reset() {
	b.data = nil
	b.dataRevision++
}

// Data 当前数据的副本
func (b *SeriesBuffer) Data() []model.Candle {
	out := make([]model.Candle, len(b.data))
	copy(out, b.data)
	return out
}

// FitRevision 每次 FitContent 加一，展示层据此判断是否需要重置视口
func (b *SeriesBuffer) FitRevision() uint64 { return b.fitRevision }

func (b *SeriesBuffer) DataRevision() uint64 { return b.dataRevision }

func (b *SeriesBuffer) FullReplaces() uint64 { return b.fullReplaces }

func (b *SeriesBuffer) TailUpdates() uint64 { return b.tailUpdates }

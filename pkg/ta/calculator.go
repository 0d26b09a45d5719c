package ta

import (
	"crypto-live-dashboard/internal/model"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
)

// Point 叠加指标的一个点，Time 与 K 线时间戳一致 (秒)
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Calculator 在合并后的 K 线序列上计算均线叠加
type Calculator struct {
	MAPeriod int // 小于 2 表示不计算
	Logger   *zap.Logger
}

func NewCalculator(maPeriod int, logger *zap.Logger) *Calculator {
	return &Calculator{MAPeriod: maPeriod, Logger: logger}
}

// Enabled 是否计算均线叠加
func (tc *Calculator) Enabled() bool {
	return tc != nil && tc.MAPeriod >= 2
}

// MovingAverage 收盘价的简单移动平均。
// 序列短于周期时返回 nil；前 MAPeriod-1 根没有均线值，不输出。
func (tc *Calculator) MovingAverage(series []model.Candle) []Point {
	if !tc.Enabled() || len(series) < tc.MAPeriod {
		return nil
	}

	closePrices := make([]float64, len(series))
	for i, c := range series {
		closePrices[i] = c.Close
	}

	ma := talib.Sma(closePrices, tc.MAPeriod)

	out := make([]Point, 0, len(series)-tc.MAPeriod+1)
	for i := tc.MAPeriod - 1; i < len(series); i++ {
		out = append(out, Point{Time: series[i].Timestamp, Value: ma[i]})
	}

	if tc.Logger != nil {
		tc.Logger.Debug("Computed moving average overlay", zap.Int("period", tc.MAPeriod), zap.Int("points", len(out)))
	}
	return out
}

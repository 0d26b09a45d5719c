package model

import "sort"

// 大于该值的时间戳视为毫秒 (1e12 ms ≈ 2001 年；以秒计要到 33658 年才会达到)
const millisThreshold int64 = 1_000_000_000_000

// NormalizeTimestamp 将毫秒时间戳统一转换为秒，秒级时间戳原样返回
func NormalizeTimestamp(ts int64) int64 {
	if ts >= millisThreshold {
		return ts / 1000
	}
	return ts
}

// Reconcile 将历史 K 线和 (可选的) 实时 K 线合并为按时间升序、时间戳唯一的序列。
//
//  1. 历史时间戳统一为秒
//  2. 实时 K 线与最后一根历史 K 线同桶时替换它，否则追加
//  3. 稳定排序 (防御乱序到达)
//  4. 按时间戳去重，保留最后出现的那一根
//
// 不修改入参，总是返回新的切片。
func Reconcile(historical []Candle, live *Candle) []Candle {
	merged := make([]Candle, 0, len(historical)+1)
	for _, c := range historical {
		c.Timestamp = NormalizeTimestamp(c.Timestamp)
		merged = append(merged, c)
	}

	if live != nil {
		lc := *live
		lc.Timestamp = NormalizeTimestamp(lc.Timestamp)
		if n := len(merged); n > 0 && merged[n-1].Timestamp == lc.Timestamp {
			merged[n-1] = lc
		} else {
			merged = append(merged, lc)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	return dedupKeepLast(merged)
}

// dedupKeepLast 输入已按时间戳排序；相同时间戳只保留最后一根
func dedupKeepLast(sorted []Candle) []Candle {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:0]
	for i, c := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Timestamp == c.Timestamp {
			continue
		}
		out = append(out, c)
	}
	return out
}

// MergeResult 一次合并的结果及变化分类
type MergeResult struct {
	Series []Candle
	// LengthChanged 出现了新的 K 线桶 (长度与上次结果不同)
	LengthChanged bool
	// ValuesChanged 长度不变但内容不同 (当前桶被刷新)
	ValuesChanged bool
}

// Reconciler 保存上一次合并结果，用于变化分类
type Reconciler struct {
	last    []Candle
	hasLast bool
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Merge 合并并分类变化。没有上一次结果时，以历史批次本身作为比较基准。
func (r *Reconciler) Merge(historical []Candle, live *Candle) MergeResult {
	series := Reconcile(historical, live)

	baseline := r.last
	if !r.hasLast {
		baseline = Reconcile(historical, nil)
	}

	res := MergeResult{Series: series}
	if len(series) != len(baseline) {
		res.LengthChanged = true
	} else {
		res.ValuesChanged = !equalSeries(series, baseline)
	}

	r.last = series
	r.hasLast = true
	return res
}

// Rebase 历史批次被整体替换 (切换周期或币种) 时调用，下一次合并以新批次为基准
func (r *Reconciler) Rebase() {
	r.last = nil
	r.hasLast = false
}

// Last 上一次合并的结果
func (r *Reconciler) Last() []Candle {
	return r.last
}

func equalSeries(a, b []Candle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

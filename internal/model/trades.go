package model

// DefaultTradeCapacity 最近成交列表的默认容量
const DefaultTradeCapacity = 7

// TradeList 有界的最近成交列表，最新的在前，超出容量时淘汰最旧的
type TradeList struct {
	capacity int
	trades   []Trade
}

func NewTradeList(capacity int) *TradeList {
	if capacity <= 0 {
		capacity = DefaultTradeCapacity
	}
	return &TradeList{
		capacity: capacity,
		trades:   make([]Trade, 0, capacity),
	}
}

// Push 在头部插入一笔成交
func (l *TradeList) Push(t Trade) {
	if len(l.trades) < l.capacity {
		l.trades = append(l.trades, Trade{})
	}
	copy(l.trades[1:], l.trades[:len(l.trades)-1])
	l.trades[0] = t
}

// Items 返回副本，最新的在前
func (l *TradeList) Items() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *TradeList) Len() int {
	return len(l.trades)
}

func (l *TradeList) Cap() int {
	return l.capacity
}

func (l *TradeList) Reset() {
	l.trades = l.trades[:0]
}

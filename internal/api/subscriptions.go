package api

import (
	"fmt"
	"sort"
	"strings"
)

// SubscriptionRequest Binance 实时订阅/取消订阅请求
type SubscriptionRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// SubscriptionSet 一条 combined 连接上当前订阅的 stream 集合。
// 只由 FeedManager 通过 Subscribe/Unsubscribe 修改。
type SubscriptionSet struct {
	streams map[string]struct{}
	nextID  int64
}

func NewSubscriptionSet(streams ...string) *SubscriptionSet {
	s := &SubscriptionSet{streams: make(map[string]struct{}, len(streams))}
	for _, st := range streams {
		s.streams[st] = struct{}{}
	}
	return s
}

// Subscribe 返回需要发送的请求；全部已订阅时 ok=false
func (s *SubscriptionSet) Subscribe(streams ...string) (req SubscriptionRequest, ok bool) {
	var fresh []string
	for _, st := range streams {
		if _, exists := s.streams[st]; exists {
			continue
		}
		s.streams[st] = struct{}{}
		fresh = append(fresh, st)
	}
	if len(fresh) == 0 {
		return SubscriptionRequest{}, false
	}
	s.nextID++
	return SubscriptionRequest{Method: "SUBSCRIBE", Params: fresh, ID: s.nextID}, true
}

// Unsubscribe 返回需要发送的请求；全部未订阅时 ok=false
func (s *SubscriptionSet) Unsubscribe(streams ...string) (req SubscriptionRequest, ok bool) {
	var gone []string
	for _, st := range streams {
		if _, exists := s.streams[st]; !exists {
			continue
		}
		delete(s.streams, st)
		gone = append(gone, st)
	}
	if len(gone) == 0 {
		return SubscriptionRequest{}, false
	}
	s.nextID++
	return SubscriptionRequest{Method: "UNSUBSCRIBE", Params: gone, ID: s.nextID}, true
}

func (s *SubscriptionSet) Has(stream string) bool {
	_, ok := s.streams[stream]
	return ok
}

// Streams 排序后的 stream 列表
func (s *SubscriptionSet) Streams() []string {
	out := make([]string, 0, len(s.streams))
	for st := range s.streams {
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

// 一个币种订阅的三个逻辑频道
func TickerStream(feedSymbol string) string {
	return strings.ToLower(feedSymbol) + "@ticker"
}

func TradeStream(feedSymbol string) string {
	return strings.ToLower(feedSymbol) + "@trade"
}

func KlineStream(feedSymbol, cadence string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(feedSymbol), cadence)
}

// AssetStreams ticker / trade / kline 顺序与 combined URL 中一致
func AssetStreams(feedSymbol, cadence string) []string {
	return []string{TickerStream(feedSymbol), TradeStream(feedSymbol), KlineStream(feedSymbol, cadence)}
}

// CombinedStreamURL 构造 combined stream 地址；以 /ws 结尾的基础地址改写为 /stream
func CombinedStreamURL(base string, streams []string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/ws") {
		base = strings.TrimSuffix(base, "/ws") + "/stream"
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"crypto-live-dashboard/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct {
	url     string
	epoch   uint64
	started bool
	closed  bool
	sent    []any
	sendErr error
}

func (f *fakeTransport) Start(context.Context) { f.started = true }

func (f *fakeTransport) Send(v any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Close() { f.closed = true }

func newFakeManager(t *testing.T, base string) (*FeedManager, *[]*fakeTransport) {
	t.Helper()
	var transports []*fakeTransport
	m := NewFeedManager(FeedOptions{WSBaseURL: base, Cadence: "1m", TradeCapacity: 7}, nil, zaptest.NewLogger(t))
	m.SetTransportFactory(func(url string, epoch uint64, _ EventSink) Transport {
		ft := &fakeTransport{url: url, epoch: epoch}
		transports = append(transports, ft)
		return ft
	})
	return m, &transports
}

func tradeMsg(symbol, price string, ts int64) []byte {
	return []byte(`{"stream":"` + strings.ToLower(symbol) + `@trade","data":{"e":"trade","s":"` + symbol +
		`","p":"` + price + `","q":"1","T":` + itoa(ts) + `,"m":false}}`)
}

func klineMsg(symbol, interval string, startMs int64, close string) []byte {
	return []byte(`{"stream":"x","data":{"e":"kline","s":"` + symbol + `","k":{"t":` + itoa(startMs) +
		`,"s":"` + symbol + `","i":"` + interval + `","o":"1","h":"2","l":"0.5","c":"` + close + `"}}}`)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestFeedManagerWithoutEndpointStaysIdle(t *testing.T) {
	m, transports := newFakeManager(t, "")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")

	assert.Equal(t, model.StateIdle, m.Status().State)
	assert.Empty(t, m.Error())
	assert.Empty(t, *transports)
}

func TestFeedManagerWithoutSymbolStaysIdle(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "obscurecoin", "")

	assert.Equal(t, model.StateIdle, m.Status().State)
	assert.Empty(t, *transports)
}

func TestFeedManagerAppliesFacts(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "btcusdt")

	require.Len(t, *transports, 1)
	ft := (*transports)[0]
	assert.True(t, ft.started)
	assert.Equal(t, "wss://example.test/stream?streams=btcusdt@ticker/btcusdt@trade/btcusdt@kline_1m", ft.url)
	assert.Equal(t, model.StateConnecting, m.Status().State)

	ch := m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	assert.True(t, ch.State)
	assert.Equal(t, model.StateOpen, m.Status().State)

	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: []byte(tickerFrame)})
	assert.True(t, ch.Quote)
	q := m.Quote()
	require.NotNil(t, q)
	assert.Equal(t, "bitcoin", q.Coin)
	assert.Equal(t, 37512.34, q.Price)

	for i := int64(1); i <= 9; i++ {
		m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: tradeMsg("BTCUSDT", "100", i)})
	}
	trades := m.Trades()
	require.Len(t, trades, 7)
	assert.Equal(t, int64(9), trades[0].Timestamp)
	assert.Equal(t, int64(3), trades[6].Timestamp)

	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "1m", 1700000040000, "1.5")})
	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "1m", 1700000040000, "1.7")})
	assert.True(t, ch.Candle)
	live := m.LiveCandle()
	require.NotNil(t, live)
	assert.Equal(t, int64(1700000040), live.Timestamp)
	assert.Equal(t, 1.7, live.Close)
}

func TestFeedManagerDropsMalformedAndForeignMessages(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})

	ch := m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: []byte(`{garbage`)})
	assert.False(t, ch.Any())
	assert.Equal(t, model.StateOpen, m.Status().State)

	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: tradeMsg("ETHUSDT", "2000", 1)})
	assert.False(t, ch.Any())
	assert.Empty(t, m.Trades())

	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: []byte(`{"result":null,"id":1}`)})
	assert.False(t, ch.Any())
	assert.Equal(t, model.StateOpen, m.Status().State)
}

func TestFeedManagerRebindDropsLateMessages(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	a := (*transports)[0]
	m.Handle(StreamEvent{Epoch: a.epoch, Kind: EventOpened})
	m.Handle(StreamEvent{Epoch: a.epoch, Kind: EventMessage, Data: tradeMsg("BTCUSDT", "37000", 1)})
	require.Len(t, m.Trades(), 1)

	m.Connect(context.Background(), "ethereum", "ETHUSDT")
	require.Len(t, *transports, 2)
	b := (*transports)[1]

	assert.True(t, a.closed)
	assert.NotEqual(t, a.epoch, b.epoch)
	assert.Empty(t, m.Trades(), "old asset facts discarded")
	assert.Nil(t, m.Quote())
	assert.Nil(t, m.LiveCandle())

	// 旧连接的迟到消息，即使交易对相同也不能落到新绑定上
	ch := m.Handle(StreamEvent{Epoch: a.epoch, Kind: EventMessage, Data: tradeMsg("ETHUSDT", "1", 2)})
	assert.False(t, ch.Any())
	ch = m.Handle(StreamEvent{Epoch: a.epoch, Kind: EventClosed, CloseCode: websocket.CloseAbnormalClosure})
	assert.False(t, ch.Any())
	assert.Empty(t, m.Trades())
	assert.Equal(t, model.StateConnecting, m.Status().State)
	assert.Empty(t, m.Error())

	m.Handle(StreamEvent{Epoch: b.epoch, Kind: EventOpened})
	m.Handle(StreamEvent{Epoch: b.epoch, Kind: EventMessage, Data: tradeMsg("ETHUSDT", "2000", 3)})
	require.Len(t, m.Trades(), 1)
	assert.Equal(t, 2000.0, m.Trades()[0].Price)
}

func TestFeedManagerCloseClassification(t *testing.T) {
	tests := []struct {
		name      string
		event     StreamEvent
		wantState model.FeedState
		wantError string
	}{
		{"normal close", StreamEvent{Kind: EventClosed, CloseCode: websocket.CloseNormalClosure}, model.StateClosed, ""},
		{"abnormal close", StreamEvent{Kind: EventClosed, CloseCode: websocket.CloseAbnormalClosure}, model.StateErrored, "connection closed by server (code 1006)"},
		{"no status", StreamEvent{Kind: EventClosed, CloseCode: websocket.CloseNoStatusReceived}, model.StateErrored, "connection closed by server (code 1005)"},
		{"server error", StreamEvent{Kind: EventClosed, CloseCode: websocket.CloseInternalServerErr, CloseText: "bye"}, model.StateErrored, "connection closed by server (code 1011): bye"},
		{"transport failure", StreamEvent{Kind: EventFailed, Err: errors.New("dial tcp: refused")}, model.StateErrored, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transports := newFakeManager(t, "wss://example.test/ws")
			m.Connect(context.Background(), "bitcoin", "BTCUSDT")
			ft := (*transports)[0]
			m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})

			ev := tt.event
			ev.Epoch = ft.epoch
			m.Handle(ev)

			assert.Equal(t, tt.wantState, m.Status().State)
			assert.Equal(t, tt.wantError, m.Error())

			// 终态之后同一连接的事件不再生效
			ch := m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: tradeMsg("BTCUSDT", "1", 1)})
			assert.False(t, ch.Any())
		})
	}
}

func TestFeedManagerDisconnectIsSilent(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})

	m.Disconnect()
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventClosed, CloseCode: websocket.CloseGoingAway})

	assert.True(t, ft.closed)
	assert.Equal(t, model.StateIdle, m.Status().State)
	assert.Empty(t, m.Error())
}

func TestFeedManagerCadenceResubscribes(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "1m", 1700000040000, "1.5")})
	require.NotNil(t, m.LiveCandle())

	ch, err := m.SetCadence("5m")
	require.NoError(t, err)
	assert.True(t, ch.Candle)
	assert.Nil(t, m.LiveCandle())
	assert.Equal(t, "5m", m.Cadence())
	require.Len(t, ft.sent, 2)
	assert.Equal(t, SubscriptionRequest{Method: "UNSUBSCRIBE", Params: []string{"btcusdt@kline_1m"}, ID: 1}, ft.sent[0])
	assert.Equal(t, SubscriptionRequest{Method: "SUBSCRIBE", Params: []string{"btcusdt@kline_5m"}, ID: 2}, ft.sent[1])
	assert.Contains(t, m.Subscriptions(), "btcusdt@kline_5m")
	assert.NotContains(t, m.Subscriptions(), "btcusdt@kline_1m")

	// 旧周期的 K 线在途
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "1m", 1700000100000, "1.6")})
	assert.Nil(t, m.LiveCandle())

	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "5m", 1700000100000, "1.8")})
	require.NotNil(t, m.LiveCandle())
	assert.Equal(t, 1.8, m.LiveCandle().Close)

	ch, err = m.SetCadence("5m")
	require.NoError(t, err)
	assert.False(t, ch.Any())
	assert.Len(t, ft.sent, 2)
}

func TestFeedManagerCadenceSendFailure(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	ft.sendErr = model.NewFeedError(model.ErrCodeTransport, "failed to write to feed", errors.New("broken pipe"))

	_, err := m.SetCadence("15m")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeTransport, model.CodeOf(err))
	assert.Equal(t, model.StateErrored, m.Status().State)
	assert.NotEmpty(t, m.Error())
	assert.True(t, ft.closed)
}

func TestFeedManagerCadenceBeforeOpen(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	_, err := m.SetCadence("15m")
	require.NoError(t, err)

	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	assert.Contains(t, (*transports)[0].url, "btcusdt@kline_15m")
}

func TestFeedManagerCadenceWhileConnecting(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	require.Contains(t, ft.url, "btcusdt@kline_1m")

	ch, err := m.SetCadence("5m")
	require.NoError(t, err)
	assert.True(t, ch.Candle)
	assert.Empty(t, ft.sent, "nothing written before the handshake")

	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	assert.True(t, ch.State)
	assert.Equal(t, model.StateOpen, m.Status().State)
	require.Len(t, ft.sent, 2)
	assert.Equal(t, SubscriptionRequest{Method: "UNSUBSCRIBE", Params: []string{"btcusdt@kline_1m"}, ID: 1}, ft.sent[0])
	assert.Equal(t, SubscriptionRequest{Method: "SUBSCRIBE", Params: []string{"btcusdt@kline_5m"}, ID: 2}, ft.sent[1])
	assert.Equal(t, []string{"btcusdt@kline_5m", "btcusdt@ticker", "btcusdt@trade"}, m.Subscriptions())

	// 服务端处理 UNSUBSCRIBE 之前仍可能推送旧周期
	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "1m", 1700000040000, "1.5")})
	assert.False(t, ch.Candle)
	assert.Nil(t, m.LiveCandle())

	ch = m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventMessage, Data: klineMsg("BTCUSDT", "5m", 1700000100000, "1.8")})
	assert.True(t, ch.Candle)
	require.NotNil(t, m.LiveCandle())
	assert.Equal(t, 1.8, m.LiveCandle().Close)
}

func TestFeedManagerOpenWithoutCadenceChangeSendsNothing(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]

	m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	assert.Empty(t, ft.sent)
	assert.Equal(t, model.StateOpen, m.Status().State)
}

func TestFeedManagerResubscribeOnOpenFailure(t *testing.T) {
	m, transports := newFakeManager(t, "wss://example.test/ws")
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	ft := (*transports)[0]
	_, err := m.SetCadence("15m")
	require.NoError(t, err)
	ft.sendErr = model.NewFeedError(model.ErrCodeTransport, "failed to write to feed", errors.New("broken pipe"))

	ch := m.Handle(StreamEvent{Epoch: ft.epoch, Kind: EventOpened})
	assert.True(t, ch.State)
	assert.Equal(t, model.StateErrored, m.Status().State)
	assert.Contains(t, m.Error(), "broken pipe")
	assert.True(t, ft.closed)
}

// 以下用真实的 gorilla 连接验证 Connector 与 FeedManager 的配合

type wsServer struct {
	*httptest.Server
	received chan SubscriptionRequest
}

func newWSServer(t *testing.T, handler func(conn *websocket.Conn, s *wsServer)) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	s := &wsServer{received: make(chan SubscriptionRequest, 8)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" || r.URL.Query().Get("streams") == "" {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, s)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) baseURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func newLiveManager(t *testing.T, base string) (*FeedManager, chan StreamEvent) {
	events := make(chan StreamEvent, 64)
	sink := func(ev StreamEvent) bool {
		events <- ev
		return true
	}
	m := NewFeedManager(FeedOptions{WSBaseURL: base, Cadence: "1m", HandshakeTimeout: 2 * time.Second}, sink, zaptest.NewLogger(t))
	return m, events
}

// pump 把事件交给 FeedManager，直到 cond 成立
func pump(t *testing.T, m *FeedManager, events chan StreamEvent, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case ev := <-events:
			m.Handle(ev)
		case <-deadline:
			t.Fatalf("condition not reached, state=%s", m.Status())
		}
	}
}

func TestConnectorDeliversMessagesAndNormalClose(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *wsServer) {
		_ = conn.WriteMessage(websocket.TextMessage, tradeMsg("BTCUSDT", "37000", 1))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	})

	m, events := newLiveManager(t, srv.baseURL())
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")

	pump(t, m, events, func() bool { return m.Status().State == model.StateClosed })
	assert.Empty(t, m.Error())
	assert.Len(t, m.Trades(), 1)
	require.NotNil(t, m.Quote())
	assert.Equal(t, 37512.34, m.Quote().Price)
}

func TestConnectorAbnormalServerClose(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *wsServer) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"))
		_, _, _ = conn.ReadMessage()
	})

	m, events := newLiveManager(t, srv.baseURL())
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")

	pump(t, m, events, func() bool { return m.Status().State == model.StateErrored })
	assert.Equal(t, "connection closed by server (code 1013): busy", m.Error())
}

func TestConnectorDialFailure(t *testing.T) {
	srv := newWSServer(t, func(*websocket.Conn, *wsServer) {})
	// 非 /ws 结尾的地址不会被改写，服务端返回 400
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/other"

	m, events := newLiveManager(t, base)
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")

	pump(t, m, events, func() bool { return m.Status().State == model.StateErrored })
	assert.Contains(t, m.Error(), string(model.ErrCodeTransport))
}

func TestConnectorCadenceChangeOnWire(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, s *wsServer) {
		for {
			var req SubscriptionRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			s.received <- req
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":`+itoa(req.ID)+`}`))
		}
	})

	m, events := newLiveManager(t, srv.baseURL())
	m.Connect(context.Background(), "bitcoin", "BTCUSDT")
	pump(t, m, events, func() bool { return m.Status().State == model.StateOpen })

	_, err := m.SetCadence("1h")
	require.NoError(t, err)

	unsub := <-srv.received
	sub := <-srv.received
	assert.Equal(t, "UNSUBSCRIBE", unsub.Method)
	assert.Equal(t, []string{"btcusdt@kline_1m"}, unsub.Params)
	assert.Equal(t, "SUBSCRIBE", sub.Method)
	assert.Equal(t, []string{"btcusdt@kline_1h"}, sub.Params)

	m.Disconnect()
	assert.Equal(t, model.StateIdle, m.Status().State)
	assert.Empty(t, m.Error())
}

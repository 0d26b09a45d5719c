package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"crypto-live-dashboard/internal/model"

	"github.com/shopspring/decimal"
)

// FactKind 行情消息类型
type FactKind string

const (
	FactTicker FactKind = "ticker"
	FactTrade  FactKind = "trade"
	FactKline  FactKind = "kline"
	FactAck    FactKind = "ack" // SUBSCRIBE/UNSUBSCRIBE 的应答
)

// Fact 解析后的行情事实，按 Kind 只有一个载荷字段非空
type Fact struct {
	Kind     FactKind
	Stream   string // combined stream 名称，例如 btcusdt@trade
	Symbol   string // 大写交易对，例如 BTCUSDT
	Quote    *model.PriceQuote
	Trade    *model.Trade
	Candle   *model.Candle
	Interval string // 仅 kline
	AckID    int64
	AckError string
}

// combinedEnvelope combined stream 外层结构: {"stream":"...","data":{...}}
// 订阅应答: {"result":null,"id":1} 或 {"error":{...},"id":1}
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// ParseMessage 解析一条原始 WS 消息。
// Binance 载荷里同时存在 "p"/"P"、"c"/"C" 这类仅大小写不同的键，而 encoding/json 的
// 结构体匹配不区分大小写，所以载荷按 map 精确取键。
func ParseMessage(raw []byte) (Fact, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Fact{}, parseErr("invalid json envelope", err)
	}

	if env.ID != nil && len(env.Data) == 0 {
		fact := Fact{Kind: FactAck, AckID: *env.ID}
		if env.Error != nil {
			fact.AckError = fmt.Sprintf("code %d: %s", env.Error.Code, env.Error.Msg)
		}
		return fact, nil
	}

	payload := []byte(env.Data)
	if len(payload) == 0 {
		// 非 combined 连接 (/ws) 直接推送载荷
		payload = raw
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Fact{}, parseErr("invalid payload", err)
	}

	var eventType string
	if err := stringField(fields, "e", &eventType); err != nil {
		return Fact{}, err
	}

	var (
		fact Fact
		err  error
	)
	switch eventType {
	case "24hrTicker":
		fact, err = parseTicker(fields)
	case "trade":
		fact, err = parseTrade(fields)
	case "kline":
		fact, err = parseKline(fields)
	default:
		return Fact{}, parseErr(fmt.Sprintf("unsupported event type %q", eventType), nil)
	}
	if err != nil {
		return Fact{}, err
	}
	fact.Stream = env.Stream
	return fact, nil
}

func parseTicker(f map[string]json.RawMessage) (Fact, error) {
	var (
		symbol              string
		eventTime           int64
		last, pct, volume24 decimal.Decimal
	)
	if err := stringField(f, "s", &symbol); err != nil {
		return Fact{}, err
	}
	if err := intField(f, "E", &eventTime); err != nil {
		return Fact{}, err
	}
	if err := decimalField(f, "c", &last); err != nil {
		return Fact{}, err
	}
	if err := decimalField(f, "P", &pct); err != nil {
		return Fact{}, err
	}
	if err := decimalField(f, "v", &volume24); err != nil {
		return Fact{}, err
	}

	return Fact{
		Kind:   FactTicker,
		Symbol: strings.ToUpper(symbol),
		Quote: &model.PriceQuote{
			Price:     last.InexactFloat64(),
			Change24h: pct.InexactFloat64(),
			Volume24h: volume24.InexactFloat64(),
			Timestamp: eventTime,
			Source:    model.QuoteLive,
		},
	}, nil
}

func parseTrade(f map[string]json.RawMessage) (Fact, error) {
	var (
		symbol       string
		tradeTime    int64
		isBuyerMaker bool
		price, qty   decimal.Decimal
	)
	if err := stringField(f, "s", &symbol); err != nil {
		return Fact{}, err
	}
	if err := decimalField(f, "p", &price); err != nil {
		return Fact{}, err
	}
	if err := decimalField(f, "q", &qty); err != nil {
		return Fact{}, err
	}
	if err := intField(f, "T", &tradeTime); err != nil {
		return Fact{}, err
	}
	if err := boolField(f, "m", &isBuyerMaker); err != nil {
		return Fact{}, err
	}

	// 买方是 maker 说明主动方是卖方
	side := model.SideBuy
	if isBuyerMaker {
		side = model.SideSell
	}

	return Fact{
		Kind:   FactTrade,
		Symbol: strings.ToUpper(symbol),
		Trade: &model.Trade{
			Price:     price.InexactFloat64(),
			Amount:    qty.InexactFloat64(),
			Value:     price.Mul(qty).InexactFloat64(),
			Timestamp: tradeTime,
			Side:      side,
		},
	}, nil
}

func parseKline(f map[string]json.RawMessage) (Fact, error) {
	var k map[string]json.RawMessage
	raw, ok := f["k"]
	if !ok {
		return Fact{}, parseErr("missing kline data", nil)
	}
	if err := json.Unmarshal(raw, &k); err != nil {
		return Fact{}, parseErr("invalid kline data", err)
	}

	var (
		symbol, interval       string
		startTime              int64
		open, high, low, close decimal.Decimal
	)
	if err := stringField(k, "s", &symbol); err != nil {
		return Fact{}, err
	}
	if err := stringField(k, "i", &interval); err != nil {
		return Fact{}, err
	}
	if err := intField(k, "t", &startTime); err != nil {
		return Fact{}, err
	}
	if err := decimalField(k, "o", &open); err != nil {
		return Fact{}, err
	}
	if err := decimalField(k, "h", &high); err != nil {
		return Fact{}, err
	}
	if err := decimalField(k, "l", &low); err != nil {
		return Fact{}, err
	}
	if err := decimalField(k, "c", &close); err != nil {
		return Fact{}, err
	}

	return Fact{
		Kind:     FactKline,
		Symbol:   strings.ToUpper(symbol),
		Interval: interval,
		Candle: &model.Candle{
			Timestamp: model.NormalizeTimestamp(startTime),
			Open:      open.InexactFloat64(),
			High:      high.InexactFloat64(),
			Low:       low.InexactFloat64(),
			Close:     close.InexactFloat64(),
		},
	}, nil
}

func parseErr(msg string, cause error) error {
	return model.NewFeedError(model.ErrCodeParse, msg, cause)
}

func field(f map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, ok := f[key]
	if !ok || string(raw) == "null" {
		return nil, parseErr(fmt.Sprintf("missing field %q", key), nil)
	}
	return raw, nil
}

func stringField(f map[string]json.RawMessage, key string, dst *string) error {
	raw, err := field(f, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return parseErr(fmt.Sprintf("invalid field %q", key), err)
	}
	return nil
}

func intField(f map[string]json.RawMessage, key string, dst *int64) error {
	raw, err := field(f, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return parseErr(fmt.Sprintf("invalid field %q", key), err)
	}
	return nil
}

func boolField(f map[string]json.RawMessage, key string, dst *bool) error {
	raw, err := field(f, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return parseErr(fmt.Sprintf("invalid field %q", key), err)
	}
	return nil
}

// decimalField 价格/数量在 Binance 中是字符串，decimal 同时接受字符串和数字
func decimalField(f map[string]json.RawMessage, key string, dst *decimal.Decimal) error {
	raw, err := field(f, key)
	if err != nil {
		return err
	}
	if err := dst.UnmarshalJSON(raw); err != nil {
		return parseErr(fmt.Sprintf("invalid number in field %q", key), err)
	}
	return nil
}

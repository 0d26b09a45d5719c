package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"crypto-live-dashboard/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventKind 连接事件类型
type EventKind int

const (
	EventOpened  EventKind = iota // 握手成功
	EventMessage                  // 收到一条消息
	EventClosed                   // 服务端发送了 close 帧
	EventFailed                   // 拨号失败或读取失败 (无 close 帧)
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// StreamEvent 连接 goroutine 发往 session 事件循环的事件，Epoch 标识所属的绑定
type StreamEvent struct {
	Epoch     uint64
	Kind      EventKind
	Data      []byte
	CloseCode int
	CloseText string
	Err       error
}

// EventSink 投递事件；返回 false 表示接收方已停止
type EventSink func(StreamEvent) bool

// Connector 一条 combined stream 连接。
// 只负责拨号、读循环和写入，不持有任何行情状态；状态由 FeedManager 在事件循环中维护。
type Connector struct {
	url    string
	epoch  uint64
	dialer *websocket.Dialer
	sink   EventSink
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closing bool

	writeMu sync.Mutex
}

// NewConnector 创建连接器，Start 之前不会发起任何网络操作
func NewConnector(url string, epoch uint64, handshakeTimeout time.Duration, sink EventSink, logger *zap.Logger) *Connector {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Connector{
		url:    url,
		epoch:  epoch,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		sink:   sink,
		logger: logger.With(zap.Uint64("epoch", epoch)),
	}
}

// Start 在独立 goroutine 中拨号并启动读循环，立即返回
func (c *Connector) Start(ctx context.Context) {
	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(dialCtx)
}

func (c *Connector) run(ctx context.Context) {
	c.logger.Info("Dialing combined stream", zap.String("URL", c.url))

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if c.isClosing() {
			return
		}
		c.emit(StreamEvent{
			Kind: EventFailed,
			Err:  model.NewFeedError(model.ErrCodeTransport, "failed to connect to feed", err),
		})
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if !c.emit(StreamEvent{Kind: EventOpened}) {
		c.Close()
		return
	}

	c.readLoop(conn)
}

// readLoop 按到达顺序投递消息，直到连接关闭
func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.isClosing() {
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.emit(StreamEvent{Kind: EventClosed, CloseCode: closeErr.Code, CloseText: closeErr.Text})
			} else {
				c.emit(StreamEvent{
					Kind: EventFailed,
					Err:  model.NewFeedError(model.ErrCodeTransport, "feed connection lost", err),
				})
			}
			_ = conn.Close()
			return
		}

		if !c.emit(StreamEvent{Kind: EventMessage, Data: message}) {
			c.Close()
			return
		}
	}
}

func (c *Connector) emit(ev StreamEvent) bool {
	ev.Epoch = c.epoch
	return c.sink(ev)
}

// Send 以 JSON 写入一条控制消息 (SUBSCRIBE/UNSUBSCRIBE)
func (c *Connector) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return model.NewFeedError(model.ErrCodeTransport, "feed connection not open", nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return model.NewFeedError(model.ErrCodeTransport, "failed to write to feed", err)
	}
	return nil
}

// Close 主动关闭：先标记 closing (读循环随后的错误不再上报)，再取消拨号或发送正常 close 帧
func (c *Connector) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.logger.Info("Feed connection closed intentionally")
}

func (c *Connector) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-board-go/market"
)

// FeedEventKind 区分订阅流中的条目。
type FeedEventKind int

const (
	FeedUpdate FeedEventKind = iota
	FeedConnected
	FeedDisconnected
	FeedError
	FeedMalformed
)

func (k FeedEventKind) String() string {
	switch k {
	case FeedUpdate:
		return "update"
	case FeedConnected:
		return "connected"
	case FeedDisconnected:
		return "disconnected"
	case FeedError:
		return "error"
	case FeedMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FeedEvent 是订阅流中的一项：行情更新或生命周期信号，按到达顺序排列。
type FeedEvent struct {
	Kind    FeedEventKind
	Update  market.UpdateEvent
	Message string
	Err     error
}

// FeedClient 连接行情推送 WS，并以 query 参数 secret 传递访问密钥。
type FeedClient struct {
	Endpoint    string
	AccessKey   string
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration
	Logger      *zap.Logger
}

func NewFeedClient(endpoint, accessKey string) *FeedClient {
	return &FeedClient{
		Endpoint:    endpoint,
		AccessKey:   accessKey,
		Dialer:      websocket.DefaultDialer,
		ReadTimeout: 60 * time.Second,
		Logger:      zap.NewNop(),
	}
}

// FeedURL 构造带 secret 参数的 ws/wss 地址；http(s) 会被映射为 ws(s)。
func (c *FeedClient) FeedURL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse feed endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("feed endpoint host required")
	}
	if c.AccessKey != "" {
		q := u.Query()
		q.Set("secret", c.AccessKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Subscribe 建立连接并发送 request-data；返回的 Subscription 必须 Close。
func (c *FeedClient) Subscribe(ctx context.Context, symbols []string) (*Subscription, error) {
	target, err := c.FeedURL()
	if err != nil {
		return nil, err
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	req, err := EncodeRequestData(symbols)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode request-data: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send request-data: %w", err)
	}

	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sub := &Subscription{
		conn:        conn,
		events:      make(chan FeedEvent, 256),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		readTimeout: c.ReadTimeout,
		log:         log,
	}
	sub.events <- FeedEvent{Kind: FeedConnected}
	go sub.readLoop()
	if sub.readTimeout > 0 {
		go sub.pingLoop()
	}
	return sub, nil
}

// Subscription 是一次连接上的行情流；不可重启，Close 后连接即释放。
type Subscription struct {
	conn        *websocket.Conn
	events      chan FeedEvent
	done        chan struct{}
	loopDone    chan struct{}
	closeOnce   sync.Once
	readTimeout time.Duration
	log         *zap.Logger
}

// Events 按到达顺序返回行情与信号；连接结束后通道关闭。
func (s *Subscription) Events() <-chan FeedEvent { return s.events }

// Close 幂等；发送正常关闭帧后释放连接并等待读循环退出。
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
		<-s.loopDone
	})
	return err
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) emit(ev FeedEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// readLoop 读取 WS 消息并转换为 FeedEvent。
func (s *Subscription) readLoop() {
	defer close(s.loopDone)
	defer close(s.events)

	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("feed read error", zap.Error(err))
				s.emit(FeedEvent{Kind: FeedError, Message: err.Error(), Err: err})
			}
			s.emit(FeedEvent{Kind: FeedDisconnected})
			return
		}
		s.extendDeadline()
		if !s.dispatch(raw) {
			return
		}
	}
}

func (s *Subscription) dispatch(raw []byte) bool {
	msg, err := ParseFeedMessage(raw)
	if err != nil {
		return s.emit(FeedEvent{Kind: FeedMalformed, Message: string(raw), Err: err})
	}
	switch msg.Event {
	case EventMarketData:
		ev, err := DecodeUpdate(msg.Data)
		if err != nil {
			return s.emit(FeedEvent{Kind: FeedMalformed, Message: string(msg.Data), Err: err})
		}
		ev.ReceivedAt = time.Now().UTC()
		return s.emit(FeedEvent{Kind: FeedUpdate, Update: ev})
	case EventError:
		return s.emit(FeedEvent{Kind: FeedError, Message: DecodeErrorText(msg.Data)})
	default:
		s.log.Debug("ignore feed event", zap.String("event", msg.Event))
		return true
	}
}

func (s *Subscription) extendDeadline() {
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// pingLoop 定期发送 ping，让服务端的 pong 延长读超时。
func (s *Subscription) pingLoop() {
	ticker := time.NewTicker(s.readTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.loopDone:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

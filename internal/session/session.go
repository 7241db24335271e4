// Package session 管理行情订阅：同一时刻只持有一条连接，按到达顺序把事件交给 MarketService。
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-board-go/config"
	"market-board-go/gateway"
	"market-board-go/infrastructure/alert"
	"market-board-go/infrastructure/logger"
	"market-board-go/market"
	"market-board-go/metrics"
)

// Stream 是一条已建立的订阅；Events 在连接结束后关闭。
type Stream interface {
	Events() <-chan gateway.FeedEvent
	Close() error
}

// SubscribeFunc 打开一条新的订阅。
type SubscribeFunc func(ctx context.Context, symbols []string) (Stream, error)

// FromClient 把 FeedClient 适配为 SubscribeFunc。
func FromClient(c *gateway.FeedClient) SubscribeFunc {
	return func(ctx context.Context, symbols []string) (Stream, error) {
		sub, err := c.Subscribe(ctx, symbols)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// Session 持有当前订阅。Run 只能调用一次；SetSymbols 可在任意 goroutine 调用。
type Session struct {
	id        string
	endpoint  string
	subscribe SubscribeFunc
	svc       *market.Service
	handler   *gateway.FeedHandler
	log       *logger.Logger
	metrics   *metrics.Metrics

	// Limiter 与 Alerts 可选，需在 Run 之前设置。
	Limiter gateway.RateLimiter
	Alerts  *alert.Manager

	updates chan []string
	mu      sync.Mutex
	symbols []string
}

// New 创建会话；log 与 m 为 nil 时分别使用空日志器和独立指标集。
func New(endpoint string, subscribe SubscribeFunc, svc *market.Service, log *logger.Logger, m *metrics.Metrics) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.New("")
	}
	s := &Session{
		id:        uuid.NewString(),
		endpoint:  endpoint,
		subscribe: subscribe,
		svc:       svc,
		log:       log,
		metrics:   m,
		updates:   make(chan []string, 1),
	}
	s.handler = &gateway.FeedHandler{
		Svc:         svc,
		Logger:      log.Logger,
		OnApplied:   m.ObserveRecord,
		OnMalformed: s.onMalformed,
		OnFeedError: s.onFeedError,
		OnLifecycle: s.onLifecycle,
	}
	return s
}

// ID 返回本次会话的唯一标识。
func (s *Session) ID() string { return s.id }

// Symbols 返回当前订阅的品种。
func (s *Session) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// SetSymbols 提交新的品种集合；未被 Run 取走的旧请求会被覆盖。
func (s *Session) SetSymbols(symbols []string) {
	next := config.NormalizeSymbols(symbols)
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.updates:
	default:
	}
	s.updates <- next
}

// Run 订阅 initial 并消费事件，直到 ctx 结束；退出时总会释放当前连接。
func (s *Session) Run(ctx context.Context, initial []string) error {
	var stream Stream
	defer func() { s.release(stream) }()

	stream = s.resubscribe(ctx, nil, config.NormalizeSymbols(initial))
	for {
		var events <-chan gateway.FeedEvent
		if stream != nil {
			events = stream.Events()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-s.updates:
			// 没有存活连接时（例如上次建连失败）同样的集合也要重新订阅
			if stream != nil && sameSet(next, s.Symbols()) {
				continue
			}
			stream = s.resubscribe(ctx, stream, next)
		case ev, ok := <-events:
			if !ok {
				// 连接已结束；不自动重连，等待下一次品种变更
				s.release(stream)
				stream = nil
				continue
			}
			s.handler.Handle(ev)
		}
	}
}

// resubscribe 先释放旧连接再建立新连接，保证任意时刻最多一条订阅。
func (s *Session) resubscribe(ctx context.Context, prev Stream, symbols []string) Stream {
	s.release(prev)

	s.mu.Lock()
	s.symbols = symbols
	s.mu.Unlock()
	s.log.LogFeed("symbols_changed", map[string]interface{}{
		"session": s.id,
		"symbols": symbols,
	})
	if len(symbols) == 0 {
		return nil
	}

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil
		}
	}
	stream, err := s.subscribe(ctx, symbols)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		s.svc.OnDisconnect()
		s.svc.OnFeedError(market.FeedErrorMessage)
		s.onFeedError(err.Error())
		return nil
	}
	s.metrics.Resubscriptions.Inc()
	return stream
}

// release 关闭连接；仍显示已连接时补一个断开信号。
func (s *Session) release(stream Stream) {
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.log.Debug("close feed stream", zap.Error(err))
	}
	if s.svc.Connection().Status == market.Connected {
		s.handler.Handle(gateway.FeedEvent{Kind: gateway.FeedDisconnected})
	}
}

func (s *Session) onMalformed(err error) {
	s.metrics.EventsMalformed.Inc()
	s.log.LogFeed("malformed_event", map[string]interface{}{
		"session": s.id,
		"error":   err.Error(),
	})
}

func (s *Session) onFeedError(message string) {
	if message == "" {
		message = market.FeedErrorMessage
	}
	s.metrics.FeedErrors.Inc()
	s.log.LogFeed("feed_error", map[string]interface{}{
		"session": s.id,
		"message": message,
	})
	if s.Alerts != nil {
		_ = s.Alerts.SendWarning("market feed error", map[string]interface{}{
			"session": s.id,
			"detail":  message,
		})
	}
}

func (s *Session) onLifecycle(kind gateway.FeedEventKind) {
	switch kind {
	case gateway.FeedConnected:
		s.metrics.SetConnected(true)
		s.log.LogFeed("feed_connected", map[string]interface{}{
			"session":  s.id,
			"endpoint": s.endpoint,
			"symbols":  s.Symbols(),
		})
	case gateway.FeedDisconnected:
		s.metrics.SetConnected(false)
		s.log.LogFeed("feed_disconnected", map[string]interface{}{
			"session": s.id,
		})
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

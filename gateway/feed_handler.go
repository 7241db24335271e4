package gateway

import (
	"go.uber.org/zap"

	"market-board-go/market"
)

// FeedHandler 把订阅流中的条目应用到 MarketService。
type FeedHandler struct {
	Svc    *market.Service
	Logger *zap.Logger

	// OnApplied/OnMalformed/OnFeedError are optional hooks for metrics and logs.
	OnApplied   func(rec market.Record, tableLen int)
	OnMalformed func(err error)
	OnFeedError func(message string)
	OnLifecycle func(kind FeedEventKind)
}

// Handle 处理一条 FeedEvent；畸形事件被吞掉并回调 OnMalformed，不会向上传播。
func (h *FeedHandler) Handle(ev FeedEvent) {
	switch ev.Kind {
	case FeedUpdate:
		if len(ev.Update.Dropped) > 0 {
			h.logger().Debug("ignore unparseable fields",
				zap.String("symbol", ev.Update.Symbol),
				zap.Strings("fields", ev.Update.Dropped))
		}
		rec, err := h.Svc.Apply(ev.Update)
		if err != nil {
			h.malformed(err)
			return
		}
		if h.OnApplied != nil {
			h.OnApplied(rec, h.Svc.Snapshot().Len())
		}
	case FeedMalformed:
		err := ev.Err
		if err == nil {
			err = market.ErrMalformedEvent
		}
		h.malformed(err)
	case FeedError:
		h.logger().Warn("feed error notice", zap.String("detail", ev.Message))
		h.Svc.OnFeedError(market.FeedErrorMessage)
		if h.OnFeedError != nil {
			h.OnFeedError(ev.Message)
		}
	case FeedConnected:
		h.Svc.OnConnect()
		h.lifecycle(ev.Kind)
	case FeedDisconnected:
		h.Svc.OnDisconnect()
		h.lifecycle(ev.Kind)
	}
}

// OnRawMessage 可供外部调用，直接传入 ws 原始消息。
func (h *FeedHandler) OnRawMessage(raw []byte) {
	msg, err := ParseFeedMessage(raw)
	if err != nil {
		h.Handle(FeedEvent{Kind: FeedMalformed, Err: err})
		return
	}
	switch msg.Event {
	case EventMarketData:
		ev, err := DecodeUpdate(msg.Data)
		if err != nil {
			h.Handle(FeedEvent{Kind: FeedMalformed, Err: err})
			return
		}
		h.Handle(FeedEvent{Kind: FeedUpdate, Update: ev})
	case EventError:
		h.Handle(FeedEvent{Kind: FeedError, Message: DecodeErrorText(msg.Data)})
	}
}

func (h *FeedHandler) malformed(err error) {
	h.logger().Warn("drop malformed market data", zap.Error(err))
	if h.OnMalformed != nil {
		h.OnMalformed(err)
	}
}

func (h *FeedHandler) lifecycle(kind FeedEventKind) {
	if h.OnLifecycle != nil {
		h.OnLifecycle(kind)
	}
}

func (h *FeedHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"market-board-go/market"
)

// 行情推送使用的事件名。
const (
	EventMarketData  = "market-data"
	EventError       = "error"
	EventRequestData = "request-data"
)

// FeedMessage 对应推送的统一包装：{"event": "...", "data": ...}。
type FeedMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrBadEnvelope 表示消息不是合法的包装结构。
var ErrBadEnvelope = errors.New("feed message: bad envelope")

// ParseFeedMessage 解析包装层。
func ParseFeedMessage(raw []byte) (FeedMessage, error) {
	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if msg.Event == "" {
		return msg, fmt.Errorf("%w: missing event", ErrBadEnvelope)
	}
	return msg, nil
}

// DecodeUpdate 解析 market-data 的 data 部分。只有空 payload 或非对象才包装为
// market.ErrMalformedEvent；无法解析的单个字段记入 Dropped，其余字段照常生效。
// 缺少 symbol 的事件原样返回，由 reducer 拒绝。
func DecodeUpdate(data json.RawMessage) (market.UpdateEvent, error) {
	var ev market.UpdateEvent
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ev, fmt.Errorf("%w: empty payload", market.ErrMalformedEvent)
	}
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", market.ErrMalformedEvent, err)
	}
	return ev, nil
}

// DecodeErrorText 把 error 事件的 data 转成可读文本。
func DecodeErrorText(data json.RawMessage) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(trimmed)
}

// EncodeRequestData 构造订阅请求。
func EncodeRequestData(symbols []string) ([]byte, error) {
	if symbols == nil {
		symbols = []string{}
	}
	data, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	return json.Marshal(FeedMessage{Event: EventRequestData, Data: data})
}

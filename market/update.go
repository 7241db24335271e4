package market

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent 表示事件缺少 symbol；调用方记录后丢弃，表保持不变。
var ErrMalformedEvent = errors.New("malformed market event: missing symbol")

// BidChange 描述最新 bid 相对上一次记录值的方向。
type BidChange string

const (
	BidNone BidChange = "none"
	BidUp   BidChange = "up"
	BidDown BidChange = "down"
)

// UpdateEvent 是行情推送的一条部分更新，只携带发生变化的字段。
// bid/high/low 接受 JSON 数字或数字字符串。
type UpdateEvent struct {
	Symbol       string              `json:"symbol"`
	Bid          decimal.NullDecimal `json:"bid"`
	High         decimal.NullDecimal `json:"high"`
	Low          decimal.NullDecimal `json:"low"`
	MarketStatus *string             `json:"marketStatus,omitempty"`

	// ReceivedAt is stamped by the transport; zero when unknown.
	ReceivedAt time.Time `json:"-"`
	// Dropped 列出解析失败而被当作缺失的字段名。
	Dropped []string `json:"-"`
}

// UnmarshalJSON 逐字段解析：单个字段无法解析时只丢弃该字段，不影响同一事件中的其他字段。
// 只有非对象的 payload 才返回错误；缺少 symbol 留给 Apply 拒绝。
func (ev *UpdateEvent) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*ev = UpdateEvent{}
	if sym, ok := scalarText(fields["symbol"]); ok {
		ev.Symbol = sym
	}
	ev.Bid = ev.decimalField("bid", fields["bid"])
	ev.High = ev.decimalField("high", fields["high"])
	ev.Low = ev.decimalField("low", fields["low"])
	if raw, present := fields["marketStatus"]; present {
		if status, ok := scalarText(raw); ok {
			ev.MarketStatus = &status
		} else if !isNull(raw) {
			ev.Dropped = append(ev.Dropped, "marketStatus")
		}
	}
	return nil
}

func (ev *UpdateEvent) decimalField(name string, raw json.RawMessage) decimal.NullDecimal {
	if raw == nil || isNull(raw) {
		return decimal.NullDecimal{}
	}
	text, ok := scalarText(raw)
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		if !ok {
			ev.Dropped = append(ev.Dropped, name)
		}
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		ev.Dropped = append(ev.Dropped, name)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// scalarText 把 JSON 字符串、数字或布尔值转成文本；null、对象和数组返回 false。
func scalarText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return "", false
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		return string(trimmed), true
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Record 是某个 symbol 的累计快照：历次更新字段的并集，逐字段后写覆盖。
type Record struct {
	Symbol       string              `json:"symbol"`
	Bid          decimal.NullDecimal `json:"bid"`
	High         decimal.NullDecimal `json:"high"`
	Low          decimal.NullDecimal `json:"low"`
	MarketStatus *string             `json:"marketStatus"`
	BidChange    BidChange           `json:"bidChange"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	Updates      int                 `json:"updates"`
}

// Status returns the market status or "" when none has been received.
func (r Record) Status() string {
	if r.MarketStatus == nil {
		return ""
	}
	return *r.MarketStatus
}

// compareBid 计算 bidChange；没有上一条记录、新 bid 缺失或旧 bid 缺失时均为 none。
func compareBid(prior Record, hasPrior bool, next decimal.NullDecimal) BidChange {
	if !hasPrior || !next.Valid || !prior.Bid.Valid {
		return BidNone
	}
	switch next.Decimal.Cmp(prior.Bid.Decimal) {
	case 1:
		return BidUp
	case -1:
		return BidDown
	default:
		return BidNone
	}
}

// merge 以 prior 为底，覆盖 ev 中出现的字段。
func merge(prior Record, ev UpdateEvent) Record {
	rec := prior
	rec.Symbol = ev.Symbol
	if ev.Bid.Valid {
		rec.Bid = ev.Bid
	}
	if ev.High.Valid {
		rec.High = ev.High
	}
	if ev.Low.Valid {
		rec.Low = ev.Low
	}
	if ev.MarketStatus != nil {
		status := *ev.MarketStatus
		rec.MarketStatus = &status
	}
	if !ev.ReceivedAt.IsZero() {
		rec.UpdatedAt = ev.ReceivedAt
	}
	rec.Updates++
	return rec
}

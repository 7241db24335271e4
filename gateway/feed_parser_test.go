package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"market-board-go/market"
)

func TestParseMarketData(t *testing.T) {
	raw := []byte(`{
		"event":"market-data",
		"data":{"symbol":"GOLD","bid":1923.5,"high":"1930","marketStatus":"open"}
	}`)
	msg, err := ParseFeedMessage(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if msg.Event != EventMarketData {
		t.Fatalf("unexpected event %q", msg.Event)
	}
	ev, err := DecodeUpdate(msg.Data)
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if ev.Symbol != "GOLD" || ev.Bid.Decimal.String() != "1923.5" || ev.High.Decimal.String() != "1930" {
		t.Fatalf("unexpected update: %+v", ev)
	}
	if ev.Low.Valid {
		t.Fatalf("low should be absent")
	}
}

func TestParseRejectsBadEnvelope(t *testing.T) {
	for _, raw := range []string{`not json`, `{"data":{}}`, `[]`} {
		if _, err := ParseFeedMessage([]byte(raw)); !errors.Is(err, ErrBadEnvelope) {
			t.Fatalf("%s: expected ErrBadEnvelope, got %v", raw, err)
		}
	}
}

func TestDecodeUpdateMalformed(t *testing.T) {
	for _, data := range []string{``, `null`, `"GOLD"`, `[1,2]`} {
		if _, err := DecodeUpdate(json.RawMessage(data)); !errors.Is(err, market.ErrMalformedEvent) {
			t.Fatalf("%q: expected ErrMalformedEvent, got %v", data, err)
		}
	}
	ev, err := DecodeUpdate(json.RawMessage(`{"bid":18}`))
	if err != nil {
		t.Fatalf("missing symbol should decode, got %v", err)
	}
	if ev.Symbol != "" {
		t.Fatalf("unexpected symbol %q", ev.Symbol)
	}
}

func TestDecodeUpdateDropsOnlyBadFields(t *testing.T) {
	ev, err := DecodeUpdate(json.RawMessage(`{"symbol":"GOLD","bid":105,"high":"N/A","marketStatus":1}`))
	if err != nil {
		t.Fatalf("event with symbol should decode, got %v", err)
	}
	if ev.Symbol != "GOLD" || !ev.Bid.Valid || ev.Bid.Decimal.String() != "105" {
		t.Fatalf("bid lost: %+v", ev)
	}
	if ev.High.Valid {
		t.Fatalf("unparseable high should be absent")
	}
	if ev.MarketStatus == nil || *ev.MarketStatus != "1" {
		t.Fatalf("numeric marketStatus should be kept as text, got %v", ev.MarketStatus)
	}
	if len(ev.Dropped) != 1 || ev.Dropped[0] != "high" {
		t.Fatalf("unexpected dropped fields %v", ev.Dropped)
	}
}

func TestDecodeErrorText(t *testing.T) {
	cases := map[string]string{
		`"unauthorized"`:          "unauthorized",
		`{"message":"rate limit"}`: "rate limit",
		`{"code":42}`:              `{"code":42}`,
		`null`:                     "",
	}
	for in, want := range cases {
		if got := DecodeErrorText(json.RawMessage(in)); got != want {
			t.Fatalf("DecodeErrorText(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeRequestData(t *testing.T) {
	raw, err := EncodeRequestData([]string{"GOLD", "SILVER"})
	if err != nil {
		t.Fatalf("encode err: %v", err)
	}
	if string(raw) != `{"event":"request-data","data":["GOLD","SILVER"]}` {
		t.Fatalf("unexpected payload %s", raw)
	}
}

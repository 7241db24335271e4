package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-board-go/gateway"
	"market-board-go/infrastructure/alert"
	"market-board-go/market"
	"market-board-go/metrics"
)

type fakeStream struct {
	symbols []string
	events  chan gateway.FeedEvent
	done    chan struct{}
	once    sync.Once
	// 打开时之前的订阅是否都已关闭
	prevClosed bool
}

func (f *fakeStream) Events() <-chan gateway.FeedEvent { return f.events }

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	opened  chan *fakeStream
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{opened: make(chan *fakeStream, 8)}
}

func (f *fakeFeed) subscribe(_ context.Context, symbols []string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := &fakeStream{
		symbols:    symbols,
		events:     make(chan gateway.FeedEvent, 16),
		done:       make(chan struct{}),
		prevClosed: true,
	}
	for _, prev := range f.streams {
		if !prev.isClosed() {
			st.prevClosed = false
		}
	}
	f.streams = append(f.streams, st)
	f.opened <- st
	return st, nil
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func waitOpened(t *testing.T, f *fakeFeed) *fakeStream {
	t.Helper()
	select {
	case st := <-f.opened:
		return st
	case <-time.After(2 * time.Second):
		t.Fatalf("no subscription opened")
		return nil
	}
}

func update(symbol, bid string) gateway.FeedEvent {
	return gateway.FeedEvent{Kind: gateway.FeedUpdate, Update: market.UpdateEvent{
		Symbol: symbol,
		Bid:    decimal.NewNullDecimal(decimal.RequireFromString(bid)),
	}}
}

func startSession(t *testing.T, feed *fakeFeed, initial ...string) (*Session, *market.Service, *metrics.Metrics, context.CancelFunc, <-chan error) {
	t.Helper()
	svc := market.NewService(nil)
	m := metrics.New("test")
	s := New("wss://feed.test", feed.subscribe, svc, nil, m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, initial) }()
	t.Cleanup(cancel)
	return s, svc, m, cancel, done
}

func TestRunAppliesEventsInOrderAndReleasesOnCancel(t *testing.T) {
	feed := newFakeFeed()
	s, svc, m, cancel, done := startSession(t, feed, " GOLD", "GOLD ")

	st := waitOpened(t, feed)
	assert.Equal(t, []string{"GOLD"}, st.symbols)
	assert.NotEmpty(t, s.ID())

	st.events <- gateway.FeedEvent{Kind: gateway.FeedConnected}
	st.events <- update("GOLD", "100")
	st.events <- update("GOLD", "99.5")

	require.Eventually(t, func() bool {
		rec, ok := svc.Record("GOLD")
		return ok && rec.Updates == 2
	}, 2*time.Second, 10*time.Millisecond)
	rec, _ := svc.Record("GOLD")
	assert.Equal(t, market.BidDown, rec.BidChange)
	assert.Equal(t, market.Connected, svc.Connection().Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	assert.True(t, st.isClosed())
	assert.Equal(t, market.Disconnected, svc.Connection().Status)
}

func TestSetSymbolsReleasesPreviousSubscription(t *testing.T) {
	feed := newFakeFeed()
	s, svc, m, _, _ := startSession(t, feed, "GOLD")

	first := waitOpened(t, feed)
	first.events <- update("GOLD", "100")
	require.Eventually(t, func() bool { return svc.Snapshot().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.SetSymbols([]string{"SILVER", "GOLD"})
	second := waitOpened(t, feed)

	assert.True(t, first.isClosed())
	assert.True(t, second.prevClosed, "previous subscription must be closed before a new one opens")
	assert.Equal(t, []string{"SILVER", "GOLD"}, second.symbols)
	assert.Equal(t, []string{"SILVER", "GOLD"}, s.Symbols())

	// 表格在重新订阅后保留
	rec, ok := svc.Record("GOLD")
	require.True(t, ok)
	assert.Equal(t, "100", rec.Bid.Decimal.String())

	second.events <- update("SILVER", "20")
	require.Eventually(t, func() bool { return svc.Snapshot().Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Resubscriptions))
}

func TestSetSymbolsIgnoresSameSet(t *testing.T) {
	feed := newFakeFeed()
	s, _, _, _, _ := startSession(t, feed, "GOLD", "SILVER")
	waitOpened(t, feed)

	s.SetSymbols([]string{"SILVER", " GOLD "})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, feed.count())

	s.SetSymbols([]string{"PLATINUM"})
	st := waitOpened(t, feed)
	assert.Equal(t, []string{"PLATINUM"}, st.symbols)
	assert.Equal(t, 2, feed.count())
}

func TestMalformedEventsAreCountedNotFatal(t *testing.T) {
	feed := newFakeFeed()
	_, svc, m, _, _ := startSession(t, feed, "GOLD")
	st := waitOpened(t, feed)

	st.events <- update("", "18")
	st.events <- gateway.FeedEvent{Kind: gateway.FeedMalformed, Err: market.ErrMalformedEvent}
	st.events <- update("GOLD", "1")

	require.Eventually(t, func() bool { return svc.Snapshot().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsMalformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsApplied))
}

func TestFeedErrorKeepsTable(t *testing.T) {
	feed := newFakeFeed()
	_, svc, m, _, _ := startSession(t, feed, "GOLD")
	st := waitOpened(t, feed)

	st.events <- gateway.FeedEvent{Kind: gateway.FeedConnected}
	st.events <- update("GOLD", "5")
	st.events <- gateway.FeedEvent{Kind: gateway.FeedError, Message: "unauthorized"}

	require.Eventually(t, func() bool {
		return svc.Connection().LastError == market.FeedErrorMessage
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, svc.Snapshot().Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedErrors))
}

func TestSubscribeFailureSurfacesError(t *testing.T) {
	feed := newFakeFeed()
	feed.err = errors.New("connection refused")
	_, svc, m, _, _ := startSession(t, feed, "GOLD")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FeedErrors) == 1
	}, 2*time.Second, 10*time.Millisecond)
	conn := svc.Connection()
	assert.Equal(t, market.Disconnected, conn.Status)
	assert.Equal(t, market.FeedErrorMessage, conn.LastError)
}

func TestSymbolCasePassesThroughToFeed(t *testing.T) {
	feed := newFakeFeed()
	s, _, _, _, _ := startSession(t, feed, "xauUsd", "Gold", "xauUsd")

	st := waitOpened(t, feed)
	assert.Equal(t, []string{"xauUsd", "Gold"}, st.symbols)

	// 只有大小写不同也是不同的 symbol
	s.SetSymbols([]string{"XAUUSD", "Gold"})
	st = waitOpened(t, feed)
	assert.Equal(t, []string{"XAUUSD", "Gold"}, st.symbols)
}

func TestSameSymbolsRetryAfterFailedSubscribe(t *testing.T) {
	feed := newFakeFeed()
	feed.err = errors.New("connection refused")
	s, svc, m, _, _ := startSession(t, feed, "GOLD")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FeedErrors) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, feed.count())

	feed.setErr(nil)
	s.SetSymbols([]string{"GOLD"})
	st := waitOpened(t, feed)
	assert.Equal(t, []string{"GOLD"}, st.symbols)

	st.events <- gateway.FeedEvent{Kind: gateway.FeedConnected}
	require.Eventually(t, func() bool {
		return svc.Connection().Status == market.Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamEndReleasesConnection(t *testing.T) {
	feed := newFakeFeed()
	_, svc, _, _, _ := startSession(t, feed, "GOLD")
	st := waitOpened(t, feed)

	st.events <- gateway.FeedEvent{Kind: gateway.FeedConnected}
	st.events <- gateway.FeedEvent{Kind: gateway.FeedDisconnected}
	close(st.events)

	require.Eventually(t, st.isClosed, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, market.Disconnected, svc.Connection().Status)
	assert.Equal(t, 1, feed.count())
}

func TestFeedErrorsAlertWithThrottle(t *testing.T) {
	feed := newFakeFeed()
	svc := market.NewService(nil)
	s := New("wss://feed.test", feed.subscribe, svc, nil, nil)
	mock := alert.NewMockChannel("mock")
	s.Alerts = alert.NewManager([]alert.Channel{mock}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx, []string{"GOLD"}) }()
	st := waitOpened(t, feed)

	st.events <- gateway.FeedEvent{Kind: gateway.FeedError, Message: "timeout"}
	st.events <- gateway.FeedEvent{Kind: gateway.FeedError, Message: "timeout"}
	st.events <- update("GOLD", "1")
	require.Eventually(t, func() bool { return svc.Snapshot().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	alerts := mock.GetAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "WARNING", alerts[0].Level)
	assert.Equal(t, "timeout", alerts[0].Fields["detail"])
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"A", "B"}, []string{"B", "A"}))
	assert.False(t, sameSet([]string{"A"}, []string{"A", "B"}))
	assert.False(t, sameSet([]string{"A", "C"}, []string{"A", "B"}))
	assert.True(t, sameSet(nil, []string{}))
}

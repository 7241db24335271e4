// Package metrics provides Prometheus metrics for the market board
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-board-go/market"
)

// Metrics 行情看板指标，使用独立 registry 便于测试。
type Metrics struct {
	registry *prometheus.Registry

	EventsApplied   prometheus.Counter
	EventsMalformed prometheus.Counter
	FeedErrors      prometheus.Counter
	Resubscriptions prometheus.Counter
	BidChanges      *prometheus.CounterVec

	Connected      prometheus.Gauge
	SymbolsTracked prometheus.Gauge
}

// New 创建指标集合；namespace 为空时使用 "board"。
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "board"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		EventsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_applied_total",
			Help:      "Market updates folded into the snapshot table.",
		}),
		EventsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_malformed_total",
			Help:      "Market updates dropped for missing symbol or bad payload.",
		}),
		FeedErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "errors_total",
			Help:      "Transport level error notices.",
		}),
		Resubscriptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscriptions_total",
			Help:      "Feed subscriptions opened.",
		}),
		BidChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "bid_changes_total",
			Help:      "Bid direction tags computed per update.",
		}, []string{"direction"}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the feed socket is connected.",
		}),
		SymbolsTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "symbols",
			Help:      "Symbols present in the snapshot table.",
		}),
	}
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// ObserveRecord 记录一次成功应用的更新。
func (m *Metrics) ObserveRecord(rec market.Record, tableLen int) {
	m.EventsApplied.Inc()
	m.BidChanges.WithLabelValues(string(rec.BidChange)).Inc()
	m.SymbolsTracked.Set(float64(tableLen))
}

// SetConnected 更新连接状态指标。
func (m *Metrics) SetConnected(ok bool) {
	if ok {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

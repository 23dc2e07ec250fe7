package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "localtrader"

type Metrics struct {
	OrdersReceived *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	Cancels        prometheus.Counter
	Trades         prometheus.Counter
	TradedVolume   prometheus.Counter
	Resting        *prometheus.GaugeVec
	SubmitLatency  prometheus.Histogram
	Published      *prometheus.CounterVec
	Outbox         *prometheus.GaugeVec
	Connections    prometheus.Gauge
}

// New creates the engine collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_received_total",
			Help:      "Orders accepted into the book, by side.",
		}, []string{"side"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Commands rejected before reaching the book, by reason.",
		}, []string{"reason"}),
		Cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Cancel requests applied.",
		}),
		Trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed.",
		}),
		TradedVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_total",
			Help:      "Units traded.",
		}),
		Resting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders held in the book, cancelled ones included until compaction.",
		}, []string{"side"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Time from accepting an order to the end of matching.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_published_total",
			Help:      "Outbox publish attempts, by result.",
		}, []string{"result"}),
		Outbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_records",
			Help:      "Trade outbox records, by state.",
		}, []string{"state"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket connections.",
		}),
	}

	reg.MustRegister(
		m.OrdersReceived,
		m.OrdersRejected,
		m.Cancels,
		m.Trades,
		m.TradedVolume,
		m.Resting,
		m.SubmitLatency,
		m.Published,
		m.Outbox,
		m.Connections,
	)
	return m
}

// Discard returns collectors registered nowhere, for tests and tools.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SnapshotsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_snapshots_delivered_total",
		Help: "Order book snapshots delivered by the fetcher.",
	}, []string{"symbol", "source"})

	FetcherState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptoquant_fetcher_state",
		Help: "Current fetcher state per symbol (0 idle .. 5 stopped).",
	}, []string{"symbol"})

	FeedDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptoquant_feed_degraded",
		Help: "1 while a symbol is served by synthetic snapshots.",
	}, []string{"symbol"})

	RESTErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_rest_errors_total",
		Help: "Failed REST snapshot requests.",
	}, []string{"symbol"})

	BookRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_book_rejected_total",
		Help: "Snapshots refused by the order book store.",
	}, []string{"symbol", "reason"})

	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_signals_total",
		Help: "Signals emitted by the strategy engine.",
	}, []string{"strategy", "type"})

	Orders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_orders_total",
		Help: "Order submissions by resulting status.",
	}, []string{"symbol", "status"})

	RiskRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_risk_rejections_total",
		Help: "Orders refused by pre-flight risk checks.",
	}, []string{"reason"})

	ExchangeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptoquant_exchange_request_seconds",
		Help:    "Latency of signed exchange requests.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_http_requests_total",
		Help: "API requests by route pattern and status code.",
	}, []string{"route", "code"})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cryptoquant_ws_clients",
		Help: "Connected dashboard websocket clients.",
	})

	BusMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoquant_bus_messages_total",
		Help: "Signal bus traffic by bus, channel kind and result (published, delivered, dropped).",
	}, []string{"bus", "kind", "result"})
)

// ChannelKind maps a bus channel to a bounded label: "book:BTC_USDT" is
// "book", anything without a colon is returned unchanged.
func ChannelKind(channel string) string {
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		return channel[:i]
	}
	return channel
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SnapshotsDelivered, FetcherState, FeedDegraded, RESTErrors, BookRejected,
		Signals, Orders, RiskRejections, ExchangeLatency, HTTPRequests, WSClients,
		BusMessages,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the default gatherer in the text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ExchangeLatency observes exchange REST calls by endpoint.
	ExchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trape",
			Subsystem: "exchange",
			Name:      "request_seconds",
			Help:      "Latency of exchange REST requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// ExchangeErrors counts failed exchange calls; class is transport, rejected or server.
	ExchangeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trape",
			Subsystem: "exchange",
			Name:      "errors_total",
			Help:      "Exchange request failures by endpoint and class",
		},
		[]string{"endpoint", "class"},
	)

	// MonitorLatency observes the monitoring API handlers.
	MonitorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trape",
			Subsystem: "monitor",
			Name:      "latency_seconds",
			Help:      "Latency of monitoring endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// FeedLag observes broker-to-handler delay of ticks read from Kafka.
	FeedLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trape",
			Subsystem: "feed",
			Name:      "lag_seconds",
			Help:      "Delay between the broker timestamp of a tick and its handling",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"topic"},
	)

	MonitorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trape",
			Subsystem: "monitor",
			Name:      "errors_total",
			Help:      "Errors by monitoring endpoint",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(ExchangeLatency, ExchangeErrors, FeedLag, MonitorLatency, MonitorErrors)
	})
}

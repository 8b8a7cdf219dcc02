package metrics

import (
	"Trape/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	recommendations *prometheus.CounterVec
	indicator       *prometheus.GaugeVec
	orders          *prometheus.CounterVec
	agentFaults     *prometheus.CounterVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trape_ticks_total",
				Help: "Total number of ticks received from the market stream",
			},
			[]string{"source", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trape_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trape_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trape_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		recommendations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trape_recommendations_total",
				Help: "Recommendations produced by the analyst",
			},
			[]string{"symbol", "action"},
		),
		indicator: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trape_indicator",
				Help: "Latest trend indicator per symbol",
			},
			[]string{"symbol"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trape_orders_total",
				Help: "Orders by symbol, side and resulting status",
			},
			[]string{"symbol", "side", "status"},
		),
		agentFaults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trape_agent_faults_total",
				Help: "Trading agents that reached their fault threshold",
			},
			[]string{"symbol"},
		),
	}
}

// RecordTick records a tick received from a stream source.
func (r *Recorder) RecordTick(source, symbol string) {
	r.ticksTotal.WithLabelValues(source, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordRecommendation(symbol string, action models.Action, indicator float64) {
	r.recommendations.WithLabelValues(symbol, string(action)).Inc()
	r.indicator.WithLabelValues(symbol).Set(indicator)
}

func (r *Recorder) RecordOrder(symbol string, side models.OrderSide, status models.OrderStatus) {
	r.orders.WithLabelValues(symbol, string(side), string(status)).Inc()
}

func (r *Recorder) RecordAgentFault(symbol string) {
	r.agentFaults.WithLabelValues(symbol).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTick(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordRecommendation(string, models.Action, float64) {}
func (Nop) RecordOrder(string, models.OrderSide, models.OrderStatus) {}
func (Nop) RecordAgentFault(string) {}

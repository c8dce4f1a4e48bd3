package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics groups the observer's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	transfers        *prometheus.CounterVec
	transferred      *prometheus.CounterVec
	positionFailures *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	unresolvedDebt   *prometheus.GaugeVec
	totalEquity      prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_transfers_total",
			Help: "Executed fund movements by source pool.",
		}, []string{"source"}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_transferred_amount_total",
			Help: "Gross amount moved by asset.",
		}, []string{"asset"}),
		positionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_position_failures_total",
			Help: "Borrowed positions abandoned for the cycle because of an error.",
		}, []string{"symbol"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "observer_cycle_duration_seconds",
			Help:    "Duration of one job tick.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"job", "result"}),
		unresolvedDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "observer_unresolved_amount",
			Help: "Outstanding amount currently on the debt monitor.",
		}, []string{"symbol", "reason"}),
		totalEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "observer_total_equity_usd",
			Help: "Aggregate USD equity of the margin book at the last equity check.",
		}),
	}
	reg.MustRegister(
		m.transfers,
		m.transferred,
		m.positionFailures,
		m.cycleDuration,
		m.unresolvedDebt,
		m.totalEquity,
	)
	return m
}

func (m *Metrics) ObserveTransfer(source, asset string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(source).Inc()
	m.transferred.WithLabelValues(asset).Add(amount.InexactFloat64())
}

func (m *Metrics) ObservePositionFailure(symbol string) {
	if m == nil {
		return
	}
	m.positionFailures.WithLabelValues(symbol).Inc()
}

func (m *Metrics) ObserveCycle(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycleDuration.WithLabelValues(job, result).Observe(elapsed.Seconds())
}

// SetUnresolved tracks one monitor entry. Only one reason per symbol is live at a time.
func (m *Metrics) SetUnresolved(symbol, reason string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.unresolvedDebt.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
	m.unresolvedDebt.WithLabelValues(symbol, reason).Set(amount.InexactFloat64())
}

func (m *Metrics) ClearUnresolved(symbol string) {
	if m == nil {
		return
	}
	m.unresolvedDebt.DeletePartialMatch(prometheus.Labels{"symbol": symbol})
}

func (m *Metrics) SetTotalEquity(usd decimal.Decimal) {
	if m == nil {
		return
	}
	m.totalEquity.Set(usd.InexactFloat64())
}

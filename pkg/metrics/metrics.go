// Package metrics provides Prometheus metrics for order execution and tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ExecutionMetrics collects and exposes execution-related Prometheus metrics.
// All Record methods are safe to call on a nil receiver.
type ExecutionMetrics struct {
	registry *prometheus.Registry

	// Remote call metrics
	CallsTotal   *prometheus.CounterVec
	CallRetries  *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Order metrics
	OrdersTotal *prometheus.CounterVec
	OrderSize   *prometheus.HistogramVec

	// Strategy metrics
	RunsStarted  *prometheus.CounterVec
	RunsFinished *prometheus.CounterVec
	ActiveRuns   *prometheus.GaugeVec
	SlicesTotal  *prometheus.CounterVec
	StopPrice    *prometheus.GaugeVec
	VWAPPrice    *prometheus.GaugeVec

	// Tool metrics
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	// SaaS client metrics
	APIRequests *prometheus.CounterVec

	// Gateway event feed metrics
	GatewayEvents    *prometheus.CounterVec
	GatewayConnected prometheus.Gauge
}

// NewExecutionMetrics creates a new collector on a private registry.
func NewExecutionMetrics() *ExecutionMetrics {
	registry := prometheus.NewRegistry()

	m := &ExecutionMetrics{
		registry: registry,

		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_remote_calls_total",
				Help: "Total number of retried remote calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		CallRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_remote_call_retries_total",
				Help: "Total number of retry attempts after a failed remote call",
			},
			[]string{"op"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perp_remote_call_duration_seconds",
				Help:    "Wall time of a remote call including retries",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"op"},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_orders_total",
				Help: "Total number of orders submitted",
			},
			[]string{"source", "direction", "type", "status"},
		),
		OrderSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perp_order_size_base",
				Help:    "Order size in whole base units",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"source"},
		),

		RunsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_strategy_runs_started_total",
				Help: "Total number of strategy runs started",
			},
			[]string{"kind"},
		),
		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_strategy_runs_finished_total",
				Help: "Total number of strategy runs finished by final status",
			},
			[]string{"kind", "status"},
		),
		ActiveRuns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perp_strategy_runs_active",
				Help: "Current number of live strategy runs",
			},
			[]string{"kind"},
		),
		SlicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_strategy_slices_total",
				Help: "Total number of strategy slices or ticks by outcome",
			},
			[]string{"kind", "outcome"},
		),
		StopPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perp_trailing_stop_price",
				Help: "Current trailing stop price",
			},
			[]string{"market"},
		),
		VWAPPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perp_vwap_price",
				Help: "Current volume-weighted average price",
			},
			[]string{"market"},
		),

		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perp_tool_calls_total",
				Help: "Total number of agent tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perp_tool_duration_seconds",
				Help:    "Agent tool execution time",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
			},
			[]string{"tool"},
		),

		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askj_api_requests_total",
				Help: "Total number of ASKJIMMY API requests",
			},
			[]string{"method", "status"},
		),

		GatewayEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drift_gateway_events_total",
				Help: "Total number of gateway feed events by type",
			},
			[]string{"type"},
		),
		GatewayConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drift_gateway_connected",
				Help: "1 while the gateway event feed is connected",
			},
		),
	}

	m.registerAll()

	return m
}

func (m *ExecutionMetrics) registerAll() {
	m.registry.MustRegister(
		m.CallsTotal,
		m.CallRetries,
		m.CallDuration,
		m.OrdersTotal,
		m.OrderSize,
		m.RunsStarted,
		m.RunsFinished,
		m.ActiveRuns,
		m.SlicesTotal,
		m.StopPrice,
		m.VWAPPrice,
		m.ToolCalls,
		m.ToolDuration,
		m.APIRequests,
		m.GatewayEvents,
		m.GatewayConnected,
	)
}

// Registry returns the prometheus registry.
func (m *ExecutionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// --- Helper methods for recording metrics ---

// RecordCall records a retried remote call.
func (m *ExecutionMetrics) RecordCall(op, outcome string, retries int, durationSec float64) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(op, outcome).Inc()
	if retries > 0 {
		m.CallRetries.WithLabelValues(op).Add(float64(retries))
	}
	m.CallDuration.WithLabelValues(op).Observe(durationSec)
}

// RecordOrder records an order submission.
func (m *ExecutionMetrics) RecordOrder(source, direction, orderType, status string, sizeBase float64) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(source, direction, orderType, status).Inc()
	if sizeBase > 0 {
		m.OrderSize.WithLabelValues(source).Observe(sizeBase)
	}
}

// RunStarted records a strategy run starting.
func (m *ExecutionMetrics) RunStarted(kind string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(kind).Inc()
	m.ActiveRuns.WithLabelValues(kind).Inc()
}

// RunFinished records a strategy run exiting.
func (m *ExecutionMetrics) RunFinished(kind, status string) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(kind, status).Inc()
	m.ActiveRuns.WithLabelValues(kind).Dec()
}

// RecordSlice records one strategy slice or tick.
func (m *ExecutionMetrics) RecordSlice(kind, outcome string) {
	if m == nil {
		return
	}
	m.SlicesTotal.WithLabelValues(kind, outcome).Inc()
}

// UpdateStopPrice sets the trailing stop gauge.
func (m *ExecutionMetrics) UpdateStopPrice(market string, price decimal.Decimal) {
	if m == nil {
		return
	}
	m.StopPrice.WithLabelValues(market).Set(DecimalToFloat64(price))
}

// UpdateVWAP sets the VWAP gauge.
func (m *ExecutionMetrics) UpdateVWAP(market string, price decimal.Decimal) {
	if m == nil {
		return
	}
	m.VWAPPrice.WithLabelValues(market).Set(DecimalToFloat64(price))
}

// RecordTool records an agent tool call.
func (m *ExecutionMetrics) RecordTool(tool, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(durationSec)
}

// RecordAPIRequest records a SaaS API request.
func (m *ExecutionMetrics) RecordAPIRequest(method, status string) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, status).Inc()
}

// RecordGatewayEvent counts one gateway feed event.
func (m *ExecutionMetrics) RecordGatewayEvent(kind string) {
	if m == nil {
		return
	}
	m.GatewayEvents.WithLabelValues(kind).Inc()
}

// SetGatewayConnected sets the gateway feed connection gauge.
func (m *ExecutionMetrics) SetGatewayConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.GatewayConnected.Set(1)
	} else {
		m.GatewayConnected.Set(0)
	}
}

// --- Decimal helpers ---

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results used as the "result" label.
const (
	ResultOK                = "ok"
	ResultNotFound          = "not_found"
	ResultInvalidTransition = "invalid_transition"
	ResultInvalidOrder      = "invalid_order"
	ResultStoreUnavailable  = "store_unavailable"
	ResultError             = "error"
)

// OrderMetrics holds the repository-level metrics of the order service.
type OrderMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// NewOrderMetrics registers the metrics in the default registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer registers the metrics in registerer.
// Registering twice returns the already registered collectors.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "northwind_order_operations_total",
			Help: "Total number of order repository operations by result",
		}, []string{"operation", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "northwind_order_operation_duration_seconds",
			Help:    "Duration of order repository operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "northwind_order_transitions_total",
			Help: "Total number of committed order lifecycle changes",
		}, []string{"event"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "northwind_order_operations_in_flight",
			Help: "Number of order operations currently running",
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// OperationStarted bumps the in-flight gauge. Pair it with OperationFinished.
func (m *OrderMetrics) OperationStarted() {
	m.inFlight.Inc()
}

// OperationFinished records the outcome and latency of one operation.
func (m *OrderMetrics) OperationFinished(operation, result string, duration time.Duration) {
	m.inFlight.Dec()
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransition counts a committed lifecycle change such as "order.shipped".
func (m *OrderMetrics) RecordTransition(event string) {
	m.transitions.WithLabelValues(event).Inc()
}

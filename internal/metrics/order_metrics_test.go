package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderMetricsWithRegisterer_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	assert.Same(t, first.operations, second.operations)
	assert.Same(t, first.duration, second.duration)
	assert.Same(t, first.transitions, second.transitions)
	assert.Equal(t, first.inFlight, second.inFlight)
}

func TestOrderMetrics_OperationLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.OperationStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	m.OperationFinished("create", ResultOK, 20*time.Millisecond)
	m.OperationStarted()
	m.OperationFinished("create", ResultNotFound, time.Millisecond)

	assert.Zero(t, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", ResultNotFound)))

	histogram, err := m.duration.GetMetricWithLabelValues("create")
	require.NoError(t, err)

	metric := &dto.Metric{}
	require.NoError(t, histogram.(prometheus.Metric).Write(metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.021, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestOrderMetrics_RecordTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordTransition("order.ordered")
	m.RecordTransition("order.ordered")
	m.RecordTransition("order.shipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("order.ordered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("order.shipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.transitions))
}

func TestRegisterGauge_PanicsOnTypeClash(t *testing.T) {
	reg := prometheus.NewRegistry()
	registerCounterVec(reg, prometheus.CounterOpts{Name: "northwind_clash", Help: "x"}, []string{"a"})

	assert.Panics(t, func() {
		registerGauge(reg, prometheus.GaugeOpts{Name: "northwind_clash", Help: "x"})
	})
}

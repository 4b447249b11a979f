package router

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status labels emitted by Router calls.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusFallback = "fallback"
)

// Metrics is a thin OpenTelemetry adapter caching counter/histogram
// instruments by name, plus the router's CLOSED=0/HALF_OPEN=1/OPEN=2
// state gauge.
type Metrics struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	state      atomic.Int64
}

// NewMetrics constructs a Metrics using the global Meter provider and
// registers the circuit breaker state gauge callback.
func NewMetrics() *Metrics {
	m := &Metrics{
		meter:      otel.Meter("rag_router"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}

	gauge, err := m.meter.Int64ObservableGauge(
		"rag_router_circuit_state",
		metric.WithDescription("circuit breaker state: CLOSED=0, HALF_OPEN=1, OPEN=2"),
	)
	if err == nil {
		_, _ = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, m.state.Load())
			return nil
		}, gauge)
	}

	return m
}

// SetState publishes the breaker's current state to the gauge.
func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.state.Store(s.Int())
}

// IncCounter increments a named counter with the given labels
// (provider, model, status), creating the instrument on first use.
func (m *Metrics) IncCounter(name string, labels map[string]string) {
	if m == nil {
		return
	}
	c, ok := m.getCounter(name)
	if !ok {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

// ObserveHistogram records a value against a named histogram.
func (m *Metrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	if m == nil {
		return
	}
	h, ok := m.getHistogram(name)
	if !ok {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

func (m *Metrics) getCounter(name string) (metric.Int64Counter, bool) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c, true
	}
	ctr, err := m.meter.Int64Counter(name)
	if err != nil {
		return ctr, false
	}
	m.counters[name] = ctr
	return ctr, true
}

func (m *Metrics) getHistogram(name string) (metric.Float64Histogram, bool) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.histograms[name]; ok {
		return h, true
	}
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return hist, false
	}
	m.histograms[name] = hist
	return hist, true
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}

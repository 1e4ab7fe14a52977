// Package metrics implements the connector's monitoring surface as a
// dependency-injected service: a *Registry wrapping a prometheus.Registry,
// constructed once by the connector and handed to every app/component via
// component.Dependencies.Metrics, never reached through a package-level
// variable.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowbroker/connector/internal/message"
)

// Registry is a component.MetricsSink backed by Prometheus collectors.
type Registry struct {
	reg *prometheus.Registry

	queueDepth       *prometheus.GaugeVec
	invokeLatency    *prometheus.HistogramVec
	ackTotal         *prometheus.CounterVec
	nackTotal        *prometheus.CounterVec
	connectionStatus *prometheus.GaugeVec
	reconnectTotal   *prometheus.CounterVec
	cacheSize        prometheus.Gauge
	timerHeapDepth   prometheus.Gauge
	custom           *prometheus.GaugeVec
}

// NewRegistry builds a Registry with every collector registered against a
// fresh prometheus.Registry (never the global DefaultRegisterer, so tests
// can construct as many independent Registries as they like).
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "component_queue_depth",
		Help:      "Current depth of a component instance's input queue.",
	}, []string{"component"})

	r.invokeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connector",
		Name:      "component_invoke_seconds",
		Help:      "Latency of a component's Invoke call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"component"})

	r.ackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connector",
		Name:      "component_ack_total",
		Help:      "Number of messages acknowledged by a component.",
	}, []string{"component"})

	r.nackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connector",
		Name:      "component_nack_total",
		Help:      "Number of messages negatively acknowledged by a component, by outcome.",
	}, []string{"component", "outcome"})

	r.connectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "component_connection_status",
		Help:      "Connection status reported by a component, as a label; value is always 1.",
	}, []string{"component", "status"})

	r.reconnectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connector",
		Name:      "broker_reconnect_total",
		Help:      "Number of times a broker adapter entered the Reconnecting state.",
	}, []string{"component"})

	r.cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "cache_entries",
		Help:      "Number of live entries in the shared cache service.",
	})

	r.timerHeapDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "timer_heap_depth",
		Help:      "Number of pending timers in the TimerManager's heap.",
	})

	r.custom = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connector",
		Name:      "component_custom",
		Help:      "Component-reported custom metrics from GetMetrics(), by name.",
	}, []string{"component", "metric"})

	r.reg.MustRegister(
		r.queueDepth, r.invokeLatency, r.ackTotal, r.nackTotal,
		r.connectionStatus, r.reconnectTotal, r.cacheSize, r.timerHeapDepth, r.custom,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Registry for an HTTP handler
// to serve (see connector.Connector's metrics server).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveQueueDepth(component string, depth int) {
	r.queueDepth.WithLabelValues(component).Set(float64(depth))
}

func (r *Registry) ObserveInvokeLatency(component string, d time.Duration) {
	r.invokeLatency.WithLabelValues(component).Observe(d.Seconds())
}

func (r *Registry) IncAck(component string) {
	r.ackTotal.WithLabelValues(component).Inc()
}

func (r *Registry) IncNack(component string, outcome message.NackOutcome) {
	r.nackTotal.WithLabelValues(component, outcome.String()).Inc()
}

func (r *Registry) ObserveConnectionStatus(component string, status string) {
	r.connectionStatus.WithLabelValues(component, status).Set(1)
}

func (r *Registry) ObserveCustom(component string, metrics map[string]float64) {
	for name, v := range metrics {
		r.custom.WithLabelValues(component, name).Set(v)
	}
}

// IncReconnect records one broker adapter transition into Reconnecting.
func (r *Registry) IncReconnect(component string) {
	r.reconnectTotal.WithLabelValues(component).Inc()
}

// SetCacheSize reports the shared cache service's live entry count.
func (r *Registry) SetCacheSize(n int) { r.cacheSize.Set(float64(n)) }

// SetTimerHeapDepth reports the TimerManager heap's pending timer count.
func (r *Registry) SetTimerHeapDepth(n int) { r.timerHeapDepth.Set(float64(n)) }

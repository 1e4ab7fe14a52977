// Package component implements the flow runtime: the per-instance worker
// loop, its bounded input queue, the input-transform/invoke/output
// pipeline, and the optional capability interfaces (timer/cache-expiry
// handlers, acknowledgement callbacks, metrics, connection status) a
// concrete component may implement.
package component

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/message"
	"github.com/flowbroker/connector/internal/reqresp"
	"github.com/flowbroker/connector/internal/timersvc"
	"github.com/flowbroker/connector/internal/transform"
)

// ErrDiscard is returned by Invoke to signal discard_current_message(): the
// worker acks the message and moves on without forwarding it or treating
// the return as an error.
var ErrDiscard = errors.New("component: discard current message")

// ExceptionKind classifies an Invoke error for NackReactor. The default
// classification is "processing_error"; components that want to distinguish
// e.g. validation failures from downstream timeouts implement NackReactor.
type ExceptionKind string

const ExceptionKindGeneric ExceptionKind = "processing_error"

// Component is the contract every pipeline step implements.
type Component interface {
	// Invoke processes msg with the input_selection-resolved data and returns
	// the value to hand to the next component (message.Previous), or nil if
	// this component is a terminal sink that has taken ownership of msg's
	// acknowledgement itself (see broker output). Returning ErrDiscard
	// acks msg without forwarding it.
	Invoke(ctx context.Context, msg *message.Message, data any) (any, error)
}

// NextEventer is implemented by source components (broker input, timer
// sources) that originate events rather than reading them from an input
// queue. GetNextEvent should return (nil, nil) on an internal poll timeout
// so the worker loop can check the stop signal.
type NextEventer interface {
	GetNextEvent(ctx context.Context) (*message.Event, error)
}

// Acknowledger supplies the ack callback the worker attaches to a message
// before forwarding it downstream.
type Acknowledger interface {
	GetAcknowledgementCallback() message.AckCallback
}

// NegativeAcknowledger supplies the nack callback attached to inbound
// messages (broker input).
type NegativeAcknowledger interface {
	GetNegativeAcknowledgementCallback() message.NackCallback
}

// NackReactor overrides the default nack outcome (Rejected) for a given
// exception classification.
type NackReactor interface {
	NackReactionToException(kind ExceptionKind) message.NackOutcome
}

// TimerHandler receives Timer-typed events.
type TimerHandler interface {
	HandleTimerEvent(payload message.TimerPayload)
}

// CacheExpiryHandler receives CacheExpiry-typed events.
type CacheExpiryHandler interface {
	HandleCacheExpiryEvent(payload message.CacheExpiryPayload)
}

// Stopper is called before the worker thread exits. Idempotent.
type Stopper interface {
	StopComponent()
}

// Cleaner drains queues and releases broker/file resources. Idempotent,
// called after Stopper during the app's three-phase shutdown.
type Cleaner interface {
	Cleanup()
}

// MetricsProvider is polled by the metrics side-thread at
// monitoring.interval.
type MetricsProvider interface {
	GetMetrics() map[string]float64
}

// ConnectionStatusProvider is polled by the connection-status side-thread.
type ConnectionStatusProvider interface {
	GetConnectionStatus() string
}

// Factory builds a Component from its decoded component_config and the
// Dependencies the runtime hands every component.
type Factory func(rawConfig map[string]any, deps Dependencies) (Component, error)

var registry = map[string]Factory{}

// Register adds a built-in component factory under name (the
// component_module / component_class string used in config). Panics on
// duplicate registration.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic("component: " + name + " already registered")
	}
	registry[name] = factory
}

// Lookup finds a previously registered component factory.
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Dependencies bundles the cross-cutting services every component is
// handed at construction: timers, cache, and flow-scoped KV/lock state,
// plus the logger and metrics sink.
type Dependencies struct {
	Logger          *slog.Logger
	Timers          *timersvc.Manager
	Cache           *cache.Service
	Flow            *FlowServices
	Metrics         MetricsSink
	MonitoringEvery time.Duration

	// RequestResponse is non-nil only for components whose config carries a
	// broker_request_response block; the component's Invoke calls
	// RequestResponse.Do to issue a correlated request over the broker.
	RequestResponse *reqresp.Controller
}

// MetricsSink receives periodic metrics/connection-status samples. The
// connector wires a Prometheus-backed implementation (AMBIENT STACK); tests
// use NoopMetricsSink.
type MetricsSink interface {
	ObserveQueueDepth(component string, depth int)
	ObserveInvokeLatency(component string, d time.Duration)
	IncAck(component string)
	IncNack(component string, outcome message.NackOutcome)
	ObserveConnectionStatus(component string, status string)
	ObserveCustom(component string, metrics map[string]float64)
}

// NoopMetricsSink discards every observation.
type NoopMetricsSink struct{}

func (NoopMetricsSink) ObserveQueueDepth(string, int)              {}
func (NoopMetricsSink) ObserveInvokeLatency(string, time.Duration) {}
func (NoopMetricsSink) IncAck(string)                              {}
func (NoopMetricsSink) IncNack(string, message.NackOutcome)        {}
func (NoopMetricsSink) ObserveConnectionStatus(string, string)     {}
func (NoopMetricsSink) ObserveCustom(string, map[string]float64)   {}

// InputSelection names the expression resolved against the incoming
// Message to produce the `data` argument passed to Invoke. An empty
// Expression defaults to "previous:" (the immediately preceding
// component's output), matching how a pipeline chains data by default.
// A message that has not passed through any component yet (Previous is
// nil) resolves to its input payload instead.
type InputSelection struct {
	Expression string
}

func (s InputSelection) resolve(msg *message.Message) (any, error) {
	expr := s.Expression
	if expr == "" {
		expr = "previous:"
		if msg.Previous == nil {
			expr = "input.payload:"
		}
	}
	return message.GetData(msg, expr)
}

// buildTransformChain builds a transform.Chain from already-resolved
// transform configs; invoke targets in their processing/filter/accumulator
// function fields are resolved beforehand by the flow package.
func buildTransformChain(configs []transform.Config) (*transform.Chain, error) {
	return transform.NewChain(configs)
}

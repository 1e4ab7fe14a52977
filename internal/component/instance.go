package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowbroker/connector/internal/message"
	"github.com/flowbroker/connector/internal/transform"
)

// StopSignal is the minimal contract a worker needs from the app's combined
// stop signal: a channel that closes (or is sent to) once either the
// connector-wide or the app-local half fires. Defined here rather than
// imported from the app package to keep component free of a dependency on
// app lifecycle.
type StopSignal interface {
	Done() <-chan struct{}
}

const maxInvokeBackoff = 60 * time.Second

// newInvokeBackoff builds the exponential backoff an Instance sleeps
// through after a failed invoke, doubling from one second up to
// maxInvokeBackoff and never expiring on its own — only a successful invoke
// resets it. The same github.com/cenkalti/backoff/v4 strategy already
// drives the forever-retry broker reconnection strategy
// (internal/broker/reconnect.go); reusing it here keeps both unbounded
// post-error backoffs on one library instead of two implementations of the
// same idea.
func newInvokeBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = maxInvokeBackoff
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Group is the set of sibling instances of one component definition that
// share a single input queue. Flow wires
// Next on every group once the whole chain is instantiated.
type Group struct {
	Name         string
	Index        int
	Queue        *Queue
	Instances    []*Instance
	Next         *Group
	InstanceName string // owning component_name, for error/location records
	FlowName     string
}

// NewGroup builds numInstances sibling Instances around a freshly created
// shared Queue. build is called once per sibling: each Instance owns its
// own Component value, so stateful components (a broker input's last
// receipt, a session registry) are never mutated by more than one worker
// goroutine. Only the Queue is shared across siblings.
func NewGroup(name, flowName string, index int, queueDepth, numInstances int, build func() (Component, error), opts InstanceOptions, deps Dependencies) (*Group, error) {
	if numInstances <= 0 {
		numInstances = 1
	}
	queue := NewQueue(queueDepth)
	g := &Group{Name: name, FlowName: flowName, Index: index, Queue: queue}

	chain, err := buildTransformChain(opts.Transforms)
	if err != nil {
		return nil, err
	}

	for i := 0; i < numInstances; i++ {
		impl, err := build()
		if err != nil {
			return nil, err
		}
		g.Instances = append(g.Instances, &Instance{
			group:     g,
			ordinal:   i,
			impl:      impl,
			opts:      opts,
			transform: chain,
			deps:      deps,
		})
	}
	return g, nil
}

// InstanceOptions configures one component group's runtime knobs, decoded
// from a ComponentConfig.
type InstanceOptions struct {
	InputSelection InputSelection
	Transforms     []transform.Config
	ErrorSink      ErrorSink
	NackOverride   *message.NackOutcome // nil means use NackReactor/default
}

// Instance is one worker: one goroutine running the
// dequeue/transform/invoke/forward loop. Multiple Instances in a Group
// share the Group's Queue and thus load-balance work, with no ordering
// across siblings.
type Instance struct {
	group     *Group
	ordinal   int
	impl      Component
	opts      InstanceOptions
	transform *transform.Chain
	deps      Dependencies

	stopOnce sync.Once
	stopped  chan struct{}
}

// Start launches the worker goroutine (and, if impl supports them, the
// metrics and connection-status side-threads) and returns immediately.
func (inst *Instance) Start(ctx context.Context, stop StopSignal) {
	inst.stopped = make(chan struct{})
	go inst.run(ctx, stop)
	if _, ok := inst.impl.(MetricsProvider); ok {
		go inst.metricsLoop(stop)
	}
	if _, ok := inst.impl.(ConnectionStatusProvider); ok {
		go inst.connectionStatusLoop(stop)
	}
}

func (inst *Instance) logger() *slog.Logger {
	l := inst.deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(
		slog.String("flow", inst.group.FlowName),
		slog.String("component", inst.group.Name),
		slog.Int("instance", inst.ordinal),
	)
}

func (inst *Instance) run(ctx context.Context, stop StopSignal) {
	defer close(inst.stopped)

	b := newInvokeBackoff()

	if src, ok := inst.impl.(NextEventer); ok {
		inst.runSource(ctx, stop, src, b)
	} else {
		inst.runWorker(ctx, stop, b)
	}

	if s, ok := inst.impl.(Stopper); ok {
		s.StopComponent()
	}
}

func (inst *Instance) runSource(ctx context.Context, stop StopSignal, src NextEventer, b *backoff.ExponentialBackOff) {
	for {
		select {
		case <-stop.Done():
			return
		default:
		}

		evt, err := src.GetNextEvent(ctx)
		if err != nil {
			inst.logger().Warn("get_next_event failed", slog.String("error", err.Error()))
			continue
		}
		if evt == nil {
			continue // poll timeout, loop back around to re-check the stop signal
		}
		inst.handleEvent(ctx, *evt, b)
	}
}

func (inst *Instance) runWorker(ctx context.Context, stop StopSignal, b *backoff.ExponentialBackOff) {
	for {
		select {
		case <-stop.Done():
			return
		case evt, ok := <-inst.group.Queue.ch:
			if !ok {
				return
			}
			inst.handleEvent(ctx, evt, b)
		}
	}
}

func (inst *Instance) handleEvent(ctx context.Context, evt message.Event, b *backoff.ExponentialBackOff) {
	switch evt.Type {
	case message.EventMessage:
		inst.handleMessage(ctx, evt.Message, b)
	case message.EventTimer:
		if h, ok := inst.impl.(TimerHandler); ok {
			h.HandleTimerEvent(*evt.Timer)
		}
	case message.EventCacheExpiry:
		if h, ok := inst.impl.(CacheExpiryHandler); ok {
			h.HandleCacheExpiryEvent(*evt.CacheExpiry)
		}
	}
}

func (inst *Instance) handleMessage(ctx context.Context, msg *message.Message, b *backoff.ExponentialBackOff) {
	if inst.transform != nil {
		if err := inst.transform.Apply(msg); err != nil {
			inst.failMessage(ctx, msg, err, b)
			return
		}
	}

	data, err := inst.opts.InputSelection.resolve(msg)
	if err != nil {
		inst.failMessage(ctx, msg, err, b)
		return
	}

	start := time.Now()
	result, err := inst.safeInvoke(ctx, msg, data)
	inst.observeLatency(time.Since(start))

	if errors.Is(err, ErrDiscard) {
		msg.CallAcknowledgements()
		inst.observeAck()
		b.Reset()
		return
	}
	if err != nil {
		inst.failMessage(ctx, msg, err, b)
		return
	}

	b.Reset()

	if result == nil {
		// Terminal sink: it has taken ownership of msg's ack/nack itself.
		return
	}

	msg.Previous = result
	if acker, ok := inst.impl.(Acknowledger); ok {
		msg.AddAcknowledgement(acker.GetAcknowledgementCallback())
	}

	next := inst.group.Next
	if next == nil {
		msg.CallAcknowledgements()
		inst.observeAck()
		return
	}
	if err := next.Queue.Enqueue(ctx, message.NewMessageEvent(msg)); err != nil {
		inst.logger().Warn("enqueue to next component failed", slog.String("error", err.Error()))
	}
}

// safeInvoke converts a panicking Invoke into an ordinary error so a single
// misbehaving component never tears down its worker goroutine.
func (inst *Instance) safeInvoke(ctx context.Context, msg *message.Message, data any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invoke panicked: %v", r)
		}
	}()
	return inst.impl.Invoke(ctx, msg, data)
}

func (inst *Instance) failMessage(ctx context.Context, msg *message.Message, cause error, b *backoff.ExponentialBackOff) {
	outcome := message.NackRejected
	if reactor, ok := inst.impl.(NackReactor); ok {
		outcome = reactor.NackReactionToException(ExceptionKindGeneric)
	}
	if inst.opts.NackOverride != nil {
		outcome = *inst.opts.NackOverride
	}
	msg.CallNegativeAcknowledgements(outcome)
	inst.observeNack(outcome)

	inst.logger().Error("invoke failed", slog.String("error", cause.Error()), slog.String("outcome", outcome.String()))
	if inst.opts.ErrorSink != nil {
		inst.opts.ErrorSink.Emit(inst.buildErrorRecord(msg, cause))
	}

	inst.sleepBackoff(ctx, b)
}

func (inst *Instance) buildErrorRecord(msg *message.Message, cause error) ErrorRecord {
	var rec ErrorRecord
	rec.Error.Text = cause.Error()
	rec.Error.ExceptionKind = string(ExceptionKindGeneric)
	rec.Location.Flow = inst.group.FlowName
	rec.Location.Component = inst.group.Name
	rec.Location.ComponentIndex = inst.ordinal
	rec.Message.Payload = msg.Payload
	rec.Message.Topic = msg.Topic
	rec.Message.UserProperties = msg.UserProperties
	rec.Message.UserData = msg.UserData
	rec.Message.Previous = msg.Previous
	return rec
}

func (inst *Instance) sleepBackoff(ctx context.Context, b *backoff.ExponentialBackOff) {
	select {
	case <-time.After(b.NextBackOff()):
	case <-ctx.Done():
	}
}

func (inst *Instance) metricsLoop(stop StopSignal) {
	interval := inst.deps.MonitoringEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			return
		case <-ticker.C:
			provider := inst.impl.(MetricsProvider)
			if inst.deps.Metrics != nil {
				inst.deps.Metrics.ObserveCustom(inst.group.Name, provider.GetMetrics())
				inst.deps.Metrics.ObserveQueueDepth(inst.group.Name, inst.group.Queue.Depth())
			}
		}
	}
}

func (inst *Instance) connectionStatusLoop(stop StopSignal) {
	interval := inst.deps.MonitoringEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			return
		case <-ticker.C:
			provider := inst.impl.(ConnectionStatusProvider)
			if inst.deps.Metrics != nil {
				inst.deps.Metrics.ObserveConnectionStatus(inst.group.Name, provider.GetConnectionStatus())
			}
		}
	}
}

func (inst *Instance) observeAck() {
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.IncAck(inst.group.Name)
	}
}

func (inst *Instance) observeNack(outcome message.NackOutcome) {
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.IncNack(inst.group.Name, outcome)
	}
}

func (inst *Instance) observeLatency(d time.Duration) {
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.ObserveInvokeLatency(inst.group.Name, d)
	}
}

// Cleanup calls the component's Cleanup hook (if any) exactly once.
// Idempotent. It does not drain the group's shared queue; the flow's
// Cleanup does that.
func (inst *Instance) Cleanup() {
	inst.stopOnce.Do(func() {
		if c, ok := inst.impl.(Cleaner); ok {
			c.Cleanup()
		}
	})
}

// Stopped reports whether this instance's worker goroutine has exited.
func (inst *Instance) Stopped() <-chan struct{} {
	return inst.stopped
}

// Impl exposes the underlying Component, letting callers (the app's
// management surface) type-assert for optional capability interfaces
// defined outside this package.
func (inst *Instance) Impl() Component {
	return inst.impl
}

// Enqueue pushes evt onto the group's shared queue, blocking until room or
// ctx cancellation.
func (g *Group) Enqueue(ctx context.Context, evt message.Event) error {
	return g.Queue.Enqueue(ctx, evt)
}

// Package flow implements the ordered chain of component groups that
// makes up one pipeline: construction wires each group's shared queue and
// sets next-pointers once every group exists, and the flow owns the
// lock-manager/KV-store pair shared by every component instance in it.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/codec"
	"github.com/flowbroker/connector/internal/component"
	"github.com/flowbroker/connector/internal/configvalue"
	"github.com/flowbroker/connector/internal/message"
	"github.com/flowbroker/connector/internal/reqresp"
	"github.com/flowbroker/connector/internal/timersvc"
	"github.com/flowbroker/connector/internal/transform"
)

// Flow is an ordered list of component groups, each a sibling pool sharing
// one input queue. Group 0's queue is the flow-input queue.
type Flow struct {
	Name     string
	Groups   []*component.Group
	Services *component.FlowServices

	errorSink component.ErrorSink
}

// BuildContext bundles the process-wide services every component
// Dependencies needs, threaded in from the connector/app layer.
type BuildContext struct {
	Logger          *slog.Logger
	Timers          *timersvc.Manager
	Cache           *cache.Service
	Metrics         component.MetricsSink
	MonitoringEvery time.Duration
	ErrorSink       component.ErrorSink

	// Resolve looks up a component factory by component_module or
	// component_class. The connector registers built-ins via
	// internal/component.Register; Resolve lets the caller layer in
	// app-specific factories (e.g. a pre-built broker_input/output) ahead of
	// the global registry.
	Resolve func(name string) (component.Factory, bool)

	// Adapter is the shared broker connection used to build a per-component
	// request/response controller when a component declares
	// broker_request_response. Flows with no such component never
	// touch it.
	Adapter broker.Adapter
}

// Build constructs a Flow from config: instantiate every group, then wire
// next-pointers once all groups exist.
func Build(cfg config.FlowConfig, bc BuildContext) (*Flow, error) {
	services := component.NewFlowServices()
	f := &Flow{Name: cfg.Name, Services: services, errorSink: bc.ErrorSink}
	if !cfg.PutErrorsInErrorQueue {
		f.errorSink = nil
	}

	for i, compCfg := range cfg.Components {
		group, err := BuildGroup(cfg.Name, i, compCfg, services, bc, f.errorSink)
		if err != nil {
			return nil, fmt.Errorf("flow %s: component %d (%s): %w", cfg.Name, i, compCfg.ComponentName, err)
		}
		f.Groups = append(f.Groups, group)
	}

	for i := 0; i < len(f.Groups)-1; i++ {
		f.Groups[i].Next = f.Groups[i+1]
	}

	return f, nil
}

// BuildGroup constructs a single component group from its config, resolving
// the factory, dependencies, and input transforms. Exported so the app
// package's simplified-flow synthesis can build the same user
// components a standard flow would, without duplicating this wiring.
func BuildGroup(flowName string, index int, cfg config.ComponentConfig, services *component.FlowServices, bc BuildContext, errorSink component.ErrorSink) (*component.Group, error) {
	factoryName := cfg.ComponentModule
	if factoryName == "" {
		factoryName = cfg.ComponentClass
	}

	var factory component.Factory
	var found bool
	if bc.Resolve != nil {
		factory, found = bc.Resolve(factoryName)
	}
	if !found {
		factory, found = component.Lookup(factoryName)
	}
	if !found {
		return nil, fmt.Errorf("unknown component_module/component_class %q", factoryName)
	}

	deps := component.Dependencies{
		Logger:          bc.Logger,
		Timers:          bc.Timers,
		Cache:           bc.Cache,
		Flow:            services,
		Metrics:         bc.Metrics,
		MonitoringEvery: bc.MonitoringEvery,
	}

	if cfg.BrokerRequestResponse != nil {
		rr, err := buildRequestResponse(cfg.BrokerRequestResponse, bc)
		if err != nil {
			return nil, fmt.Errorf("broker_request_response: %w", err)
		}
		deps.RequestResponse = rr
	}

	resolvedConfig, err := configvalue.ResolveTree(cfg.ComponentConfig)
	if err != nil {
		return nil, fmt.Errorf("component_config: %w", err)
	}

	transforms, err := resolveTransforms(cfg.InputTransforms)
	if err != nil {
		return nil, err
	}

	opts := component.InstanceOptions{
		InputSelection: component.InputSelection{Expression: inputSelectionExpr(cfg.InputSelection)},
		Transforms:     transforms,
		ErrorSink:      errorSink,
	}

	numInstances := cfg.NumInstances
	if numInstances <= 0 {
		numInstances = 1
	}

	name := cfg.ComponentName
	if name == "" {
		name = factoryName
	}

	// The factory runs once per sibling so each Instance gets its own
	// Component value; siblings share only the group's queue.
	build := func() (component.Component, error) {
		return factory(resolvedConfig, deps)
	}
	return component.NewGroup(name, flowName, index, component.DefaultQueueDepth, numInstances, build, opts, deps)
}

// buildRequestResponse constructs and starts a per-component request/response
// controller from its broker_request_response config block. The
// controller's reply reader runs for the lifetime of the process; it is
// torn down when the owning app's Cleanup disconnects the shared adapter.
func buildRequestResponse(raw map[string]any, bc BuildContext) (*reqresp.Controller, error) {
	if bc.Adapter == nil {
		return nil, fmt.Errorf("no broker adapter available for this app")
	}

	cfg := reqresp.Config{
		ResponseTopicPrefix: stringField(raw, "response_topic_prefix"),
		ResponseTopicSuffix: stringField(raw, "response_topic_suffix"),
		RequestExpiry:       durationMillisField(raw, "request_expiry_ms"),
		Codec: codec.Codec{
			Encoding: codec.Encoding(stringField(raw, "encoding")),
			Format:   codec.Format(stringField(raw, "format")),
		},
		ResponseTopicInsertionExpression: stringField(raw, "response_topic_insertion_expression"),
	}
	if cfg.RequestExpiry <= 0 {
		cfg.RequestExpiry = 30 * time.Second
	}

	controller, err := reqresp.New(bc.Adapter, cfg, bc.Cache, bc.Logger)
	if err != nil {
		return nil, err
	}
	go controller.Run(context.Background(), neverStop{})
	return controller, nil
}

type neverStop struct{}

func (neverStop) Done() <-chan struct{} { return nil }

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func durationMillisField(raw map[string]any, key string) time.Duration {
	switch v := raw[key].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	default:
		return 0
	}
}

func inputSelectionExpr(raw map[string]any) string {
	if raw == nil {
		return ""
	}
	if expr, ok := raw["source_expression"].(string); ok {
		return expr
	}
	if expr, ok := raw["expression"].(string); ok {
		return expr
	}
	return ""
}

func resolveTransforms(configs []config.TransformConfig) ([]transform.Config, error) {
	out := make([]transform.Config, 0, len(configs))
	for _, c := range configs {
		tc := transform.Config{
			Type:                 c.Type,
			SourceExpression:     c.SourceExpression,
			DestExpression:       c.DestExpression,
			SourceListExpression: c.SourceListExpression,
			DestListExpression:   c.DestListExpression,
			InitialValue:         c.InitialValue,
		}
		var err error
		if tc.ProcessingFunction, err = resolveEvaluator(c.ProcessingFunction); err != nil {
			return nil, err
		}
		if tc.FilterFunction, err = resolveEvaluator(c.FilterFunction); err != nil {
			return nil, err
		}
		if tc.AccumulatorFunction, err = resolveEvaluator(c.AccumulatorFunction); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

// resolveEvaluator turns a "module.function" invoke target name into a
// transform.Evaluator, resolved fresh against keyword_args on every call
// (map/reduce/filter always pass per-element keyword_args, so these are
// always per-message closures in practice).
func resolveEvaluator(target string) (transform.Evaluator, error) {
	if target == "" {
		return nil, nil
	}
	dot := -1
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return nil, fmt.Errorf("invoke target %q must be module.function", target)
	}
	module, function := target[:dot], target[dot+1:]
	fn, ok := configvalue.Lookup(module, function)
	if !ok {
		return nil, fmt.Errorf("invoke target %q is not registered", target)
	}
	return func(msg *message.Message) (any, error) {
		return fn(nil, msg.KeywordArgs)
	}, nil
}

// InputQueue returns the flow-input queue: group 0's shared queue.
func (f *Flow) InputQueue() *component.Group {
	if len(f.Groups) == 0 {
		return nil
	}
	return f.Groups[0]
}

// Start launches every group's instances.
func (f *Flow) Start(ctx context.Context, stop component.StopSignal) {
	for _, g := range f.Groups {
		for _, inst := range g.Instances {
			inst.Start(ctx, stop)
		}
	}
}

// Cleanup drains every group's queue and calls each instance's Cleanup hook.
func (f *Flow) Cleanup() {
	for _, g := range f.Groups {
		for _, inst := range g.Instances {
			inst.Cleanup()
		}
		g.Queue.Drain()
	}
}

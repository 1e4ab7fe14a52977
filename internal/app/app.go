// Package app implements the app lifecycle: an app composes one or more
// flows (standard, via an explicit flows list) or synthesises an implicit
// one (simplified, via broker+components), and owns the combined stop
// signal and three-phase shutdown every component instance inside it
// observes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/component"
	"github.com/flowbroker/connector/internal/flow"
	"github.com/flowbroker/connector/internal/message"
	"github.com/flowbroker/connector/internal/timersvc"
)

// Status is one of the five lifecycle states an app moves through.
type Status string

const (
	StatusCreated  Status = "created"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
)

// Deps bundles the process-wide services the connector hands to every app
// it manages.
type Deps struct {
	Logger          *slog.Logger
	Timers          *timersvc.Manager
	Cache           *cache.Service
	Metrics         component.MetricsSink
	MonitoringEvery time.Duration
	ErrorSink       component.ErrorSink
	Resolve         func(name string) (component.Factory, bool)

	// ConnectorWide is closed once for the life of the process, at global
	// shutdown; every app's CombinedStopSignal observes it alongside its own
	// local half.
	ConnectorWide <-chan struct{}

	// Adapter is this app's broker connection, already dial-able by the
	// connector (not yet necessarily Connected). A simplified app uses it
	// directly for its synthesised broker_input/broker_output; a standard
	// app's flows use it only if one of their components declares
	// broker_request_response.
	Adapter broker.Adapter
}

// PreStopHook runs while components are still processing, before the stop
// signal is set (shutdown phase 1). Errors are logged and do not block
// shutdown.
type PreStopHook func(ctx context.Context) error

// App is one deployable unit: a named, independently startable/stoppable
// collection of flows sharing one broker connection and stop signal.
type App struct {
	Name string

	cfg    config.AppConfig
	deps   Deps
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	stop      *CombinedStopSignal
	flows     []*flow.Flow
	preStop   PreStopHook
	startedAt time.Time
}

// New constructs an App in the "created" state. Call Start to build its
// flows and launch their component instances.
func New(cfg config.AppConfig, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		Name:   cfg.Name,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("app", cfg.Name)),
		status: StatusCreated,
		stop:   NewCombinedStopSignal(deps.ConnectorWide),
	}
}

// SetPreStop installs the overridable hook run at the start of Stop.
func (a *App) SetPreStop(hook PreStopHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preStop = hook
}

// Status reports the app's current lifecycle state.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

var ErrNotStopped = errors.New("app: Start is only permitted from created or stopped")

// Start builds this app's flows and launches every component instance. Only
// legal from StatusCreated or StatusStopped: starting from stopped
// reconstructs flows from config and replaces the app-local stop signal with
// a fresh one.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.status != StatusCreated && a.status != StatusStopped {
		status := a.status
		a.mu.Unlock()
		return fmt.Errorf("%w (current status: %s)", ErrNotStopped, status)
	}
	a.status = StatusStarting
	a.stop.Clear()
	a.mu.Unlock()

	if a.deps.Adapter != nil && a.deps.Adapter.Status() != broker.StatusConnected {
		if err := a.deps.Adapter.Connect(ctx); err != nil {
			a.setStatus(StatusStopped)
			return fmt.Errorf("app %s: connect broker: %w", a.Name, err)
		}
	}

	flows, err := a.buildFlows()
	if err != nil {
		a.setStatus(StatusStopped)
		return fmt.Errorf("app %s: %w", a.Name, err)
	}

	a.mu.Lock()
	a.flows = flows
	a.startedAt = time.Now()
	a.status = StatusRunning
	a.mu.Unlock()

	for _, f := range flows {
		f.Start(ctx, a.stop)
	}

	a.logger.Info("app started", slog.Int("flows", len(flows)))
	return nil
}

func (a *App) buildFlows() ([]*flow.Flow, error) {
	bc := flow.BuildContext{
		Logger:          a.logger,
		Timers:          a.deps.Timers,
		Cache:           a.deps.Cache,
		Metrics:         a.deps.Metrics,
		MonitoringEvery: a.deps.MonitoringEvery,
		ErrorSink:       a.deps.ErrorSink,
		Resolve:         a.deps.Resolve,
		Adapter:         a.deps.Adapter,
	}

	if a.cfg.IsSimplified() {
		f, err := buildSimplifiedFlow(a.Name, a.cfg, bc, a.deps.Adapter)
		if err != nil {
			return nil, err
		}
		return []*flow.Flow{f}, nil
	}

	flows := make([]*flow.Flow, 0, len(a.cfg.Flows))
	for _, flowCfg := range a.cfg.Flows {
		f, err := flow.Build(flowCfg, bc)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// Stop runs the three-phase shutdown: PreStop while still
// running, set the local stop signal and join every component goroutine
// within timeout (divided evenly across them), then Cleanup.
func (a *App) Stop(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	if a.status != StatusRunning {
		status := a.status
		a.mu.Unlock()
		if status == StatusStopped {
			return nil
		}
		return fmt.Errorf("app %s: cannot stop from status %s", a.Name, status)
	}
	a.status = StatusStopping
	flows := a.flows
	preStop := a.preStop
	a.mu.Unlock()

	if preStop != nil {
		if err := preStop(ctx); err != nil {
			a.logger.Warn("pre_stop hook failed", slog.String("error", err.Error()))
		}
	}

	a.stop.Set()

	instances := 0
	for _, f := range flows {
		for _, g := range f.Groups {
			instances += len(g.Instances)
		}
	}
	perInstance := timeout
	if instances > 0 {
		perInstance = timeout / time.Duration(instances)
	}
	if perInstance <= 0 {
		perInstance = time.Millisecond
	}

	for _, f := range flows {
		for _, g := range f.Groups {
			for _, inst := range g.Instances {
				select {
				case <-inst.Stopped():
				case <-time.After(perInstance):
					a.logger.Warn("component instance did not stop within budget", slog.String("component", g.Name))
				}
			}
		}
	}

	for _, f := range flows {
		f.Cleanup()
	}
	if a.deps.Adapter != nil {
		if err := a.deps.Adapter.Disconnect(); err != nil {
			a.logger.Warn("broker disconnect failed", slog.String("error", err.Error()))
		}
	}

	a.setStatus(StatusStopped)
	a.logger.Info("app stopped")
	return nil
}

func (a *App) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// SendMessageToFlow enqueues msg directly onto the named flow's input
// queue, bypassing the broker entirely.
func (a *App) SendMessageToFlow(ctx context.Context, flowName string, msg *message.Message) error {
	a.mu.Lock()
	flows := a.flows
	a.mu.Unlock()
	for _, f := range flows {
		if f.Name == flowName {
			q := f.InputQueue()
			if q == nil {
				return fmt.Errorf("app %s: flow %q has no components", a.Name, flowName)
			}
			return q.Enqueue(ctx, message.NewMessageEvent(msg))
		}
	}
	return fmt.Errorf("app %s: flow %q not found", a.Name, flowName)
}

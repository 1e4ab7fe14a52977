// Package connector implements the top-level container: it instantiates
// apps from configuration, gives them the process-wide
// timer/cache/metrics services, routes internal messages between apps,
// and supports adding/removing apps at runtime. It also serves the
// metrics and management HTTP surfaces.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/app"
	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/component"
	"github.com/flowbroker/connector/internal/flow"
	"github.com/flowbroker/connector/internal/message"
	"github.com/flowbroker/connector/internal/metrics"
	"github.com/flowbroker/connector/internal/timersvc"
	"github.com/flowbroker/connector/internal/trace"
)

// ErrAppExists is returned by AddApp when an app with that name is already
// managed by this connector.
var ErrAppExists = errors.New("connector: app already exists")

// ErrAppNotFound is returned by RemoveApp/GetApp/SendMessageToFlow for an
// unknown app name.
var ErrAppNotFound = errors.New("connector: app not found")

// Connector is the process-wide container: one per running instance.
type Connector struct {
	logger *slog.Logger

	timers *timersvc.Manager
	cache  *cache.Service
	metr   *metrics.Registry
	trace  *trace.Sink

	devHub *broker.Hub

	mu         sync.Mutex
	apps       map[string]*app.App
	appConfigs map[string]config.AppConfig
	errorFlow  *flow.Flow
	errorSink  component.ErrorSink

	// connectorWide is closed once, at process shutdown, and observed by
	// every app's CombinedStopSignal alongside its own app-local half.
	connectorWide chan struct{}
	stopOnce      sync.Once

	monitoringEvery time.Duration
}

// New builds a Connector from cfg but does not start any apps; call Start
// to instantiate and run them. Logger may be nil (defaults to slog.Default).
func New(cfg *config.Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("instance", cfg.InstanceName))

	cacheBackend, err := buildCacheBackend(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("connector: cache backend: %w", err)
	}

	var traceSink *trace.Sink
	if cfg.Trace.TraceFile != "" {
		traceSink, err = trace.NewSink(cfg.Trace.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("connector: trace sink: %w", err)
		}
	}

	c := &Connector{
		logger:          logger,
		timers:          timersvc.NewManager(),
		cache:           cache.NewService(cacheBackend),
		metr:            metrics.NewRegistry(),
		trace:           traceSink,
		devHub:          broker.NewHub(),
		apps:            map[string]*app.App{},
		appConfigs:      map[string]config.AppConfig{},
		connectorWide:   make(chan struct{}),
		monitoringEvery: cfg.Monitoring.Interval,
	}

	if cfg.ErrorFlow != nil {
		errFlow, err := flow.Build(*cfg.ErrorFlow, flow.BuildContext{
			Logger:          logger.With(slog.String("flow", cfg.ErrorFlow.Name)),
			Timers:          c.timers,
			Cache:           c.cache,
			Metrics:         c.metr,
			MonitoringEvery: c.monitoringEvery,
		})
		if err != nil {
			return nil, fmt.Errorf("connector: error_flow: %w", err)
		}
		c.errorFlow = errFlow
		c.errorSink = newFlowErrorSink(logger, errFlow)
	} else {
		c.errorSink = &loggingErrorSink{logger: logger}
	}

	for _, appCfg := range normalizeApps(cfg) {
		c.appConfigs[appCfg.Name] = appCfg
	}

	return c, nil
}

// normalizeApps expands the deprecated top-level Flows shorthand into a
// single implicit app named after the instance.
func normalizeApps(cfg *config.Config) []config.AppConfig {
	if len(cfg.Apps) > 0 {
		return cfg.Apps
	}
	if len(cfg.Flows) > 0 {
		return []config.AppConfig{{Name: cfg.InstanceName, Flows: cfg.Flows}}
	}
	return nil
}

func buildCacheBackend(cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.BackendType {
	case "", "memory":
		return cache.NewMemoryBackend(), nil
	case "sql":
		return nil, fmt.Errorf("sql cache backend requires a *sql.DB; construct the connector's cache.Service directly (see cache.NewSQLBackend)")
	default:
		return nil, fmt.Errorf("unknown cache backend_type %q", cfg.BackendType)
	}
}

// Start launches the error flow (if configured), then connects and
// launches every configured app. Apps are started independently: one
// app's startup failure does not prevent the others from starting.
func (c *Connector) Start(ctx context.Context) error {
	go c.pollGlobalMetrics()

	if c.errorFlow != nil {
		c.errorFlow.Start(ctx, connectorWideSignal{c.connectorWide})
	}

	c.mu.Lock()
	names := make([]string, 0, len(c.appConfigs))
	for name := range c.appConfigs {
		names = append(names, name)
	}
	c.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := c.startApp(ctx, name); err != nil {
			c.logger.Error("app failed to start", slog.String("app", name), slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// pollGlobalMetrics periodically samples the cache size and timer heap
// depth, the two process-wide gauges no single component owns.
func (c *Connector) pollGlobalMetrics() {
	interval := c.monitoringEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.connectorWide:
			return
		case <-ticker.C:
			c.metr.SetCacheSize(c.cache.Size())
			c.metr.SetTimerHeapDepth(c.timers.Len())
		}
	}
}

func (c *Connector) startApp(ctx context.Context, name string) error {
	c.mu.Lock()
	cfg, ok := c.appConfigs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}

	var adapter broker.Adapter
	if cfg.IsSimplified() {
		adapter = c.buildAdapter(cfg.Broker)
		adapter.OnStatusChange(func(_, newStatus broker.Status) {
			c.metr.ObserveConnectionStatus(name, newStatus.String())
			if newStatus == broker.StatusReconnecting {
				c.metr.IncReconnect(name)
			}
		})
	}

	a := app.New(cfg, app.Deps{
		Logger:          c.logger,
		Timers:          c.timers,
		Cache:           c.cache,
		Metrics:         c.metr,
		MonitoringEvery: c.monitoringEvery,
		ErrorSink:       c.errorSink,
		ConnectorWide:   c.connectorWide,
		Adapter:         adapter,
	})

	if err := a.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.apps[name] = a
	c.mu.Unlock()
	c.trace.Trace("app %s started", name)
	return nil
}

// Stop shuts down every app within timeout (the budget is divided across
// apps, the same way a single app divides its budget across its component
// goroutines), then closes the connector-wide stop signal, which stops the
// error flow and unblocks anything else still observing it, and cleans up
// the error flow once its workers have exited (waiting up to a second per
// worker).
func (c *Connector) Stop(ctx context.Context, timeout time.Duration) {
	c.mu.Lock()
	apps := make([]*app.App, 0, len(c.apps))
	for _, a := range c.apps {
		apps = append(apps, a)
	}
	c.mu.Unlock()

	perApp := timeout
	if len(apps) > 0 {
		perApp = timeout / time.Duration(len(apps))
	}

	var wg sync.WaitGroup
	for _, a := range apps {
		wg.Add(1)
		go func(a *app.App) {
			defer wg.Done()
			if err := a.Stop(ctx, perApp); err != nil {
				c.logger.Warn("app stop failed", slog.String("app", a.Name), slog.String("error", err.Error()))
			}
		}(a)
	}
	wg.Wait()

	// Closing connectorWide trips the error flow's stop signal (it has no
	// app-local half of its own) so its workers exit before Cleanup runs.
	c.stopOnce.Do(func() { close(c.connectorWide) })

	if c.errorFlow != nil {
		for _, g := range c.errorFlow.Groups {
			for _, inst := range g.Instances {
				select {
				case <-inst.Stopped():
				case <-time.After(time.Second):
					c.logger.Warn("error flow component did not stop in time")
				}
			}
		}
		c.errorFlow.Cleanup()
	}

	c.timers.Stop()
	c.cache.Stop()
	if c.trace != nil {
		c.trace.Close()
	}
}

// AddApp registers and starts a new app at runtime. Rejects a duplicate
// name.
func (c *Connector) AddApp(ctx context.Context, cfg config.AppConfig) error {
	c.mu.Lock()
	if _, exists := c.appConfigs[cfg.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAppExists, cfg.Name)
	}
	c.appConfigs[cfg.Name] = cfg
	c.mu.Unlock()

	return c.startApp(ctx, cfg.Name)
}

// RemoveApp stops and deregisters app name: a Stop() followed by
// deregistration, so a removed app is always fully shut down first.
func (c *Connector) RemoveApp(ctx context.Context, name string, timeout time.Duration) error {
	c.mu.Lock()
	a, ok := c.apps[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}

	if err := a.Stop(ctx, timeout); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.apps, name)
	delete(c.appConfigs, name)
	c.mu.Unlock()
	c.trace.Trace("app %s removed", name)
	return nil
}

// GetApp returns the named running app.
func (c *Connector) GetApp(name string) (*app.App, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.apps[name]
	return a, ok
}

// GetApps returns every currently running app.
func (c *Connector) GetApps() []*app.App {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*app.App, 0, len(c.apps))
	for _, a := range c.apps {
		out = append(out, a)
	}
	return out
}

// SendMessageToFlow routes msg directly onto flowName's input queue within
// app appName, bypassing the broker.
func (c *Connector) SendMessageToFlow(ctx context.Context, appName, flowName string, msg *message.Message) error {
	a, ok := c.GetApp(appName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAppNotFound, appName)
	}
	return a.SendMessageToFlow(ctx, flowName, msg)
}

// Metrics returns the connector's Prometheus-backed metrics registry, for
// wiring the /metrics HTTP handler.
func (c *Connector) Metrics() *metrics.Registry { return c.metr }

// connectorWideSignal adapts the connector-wide stop channel to
// component.StopSignal for the error flow, which has no app-local half of
// its own (it outlives any single app).
type connectorWideSignal struct {
	ch <-chan struct{}
}

func (s connectorWideSignal) Done() <-chan struct{} { return s.ch }

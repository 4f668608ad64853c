package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/najoast/conductor/agent"
	"github.com/najoast/conductor/config"
	"github.com/najoast/conductor/core"
	"github.com/najoast/conductor/logging"
	"github.com/najoast/conductor/orchestrator"
)

// ErrNoOutput is returned when a run ends without the last agent's result.
var ErrNoOutput = errors.New("workflow ended without output")

// Step records one routing decision of a run.
type Step struct {
	Index int
	Agent string
	Input any
}

// Result is the outcome of one workflow run.
type Result struct {
	RunID    string
	Output   any
	Steps    []Step
	Duration time.Duration
}

// RunError reports why a run did not produce output.
type RunError struct {
	RunID string
	Step  int
	Agent string
	Err   error
}

func (e *RunError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("run %s: step %d (%s): %v", e.RunID, e.Step, e.Agent, e.Err)
	}
	return fmt.Sprintf("run %s: step %d: %v", e.RunID, e.Step, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Application runs workflows on a shared actor system. Each Submit gets its
// own orchestrator, registry and agents.
type Application struct {
	cfg atomic.Pointer[config.Config]

	logger   *zap.Logger
	level    *zap.AtomicLevel
	registry *prometheus.Registry
	tracer   trace.Tracer
	catalog  *agent.Catalog
	provider config.Provider

	system          *core.System
	workflowMetrics *orchestrator.Metrics
	lifecycle       *DefaultLifecycleManager
	metricsService  *MetricsService
	ingressService  *IngressService
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the application logger.
func WithLogger(logger *zap.Logger) Option {
	return func(app *Application) {
		if logger != nil {
			app.logger = logger
		}
	}
}

// WithAtomicLevel lets configuration reloads change the log level.
func WithAtomicLevel(level zap.AtomicLevel) Option {
	return func(app *Application) {
		app.level = &level
	}
}

// WithPrometheusRegistry registers the collectors with reg instead of a
// private registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(app *Application) {
		app.registry = reg
	}
}

// WithTracerProvider sets where spans are reported.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(app *Application) {
		app.tracer = tp.Tracer("github.com/najoast/conductor")
	}
}

// WithCatalog replaces the built-in processor catalog.
func WithCatalog(c *agent.Catalog) Option {
	return func(app *Application) {
		app.catalog = c
	}
}

// WithConfigProvider enables hot reload from provider.
func WithConfigProvider(p config.Provider) Option {
	return func(app *Application) {
		app.provider = p
	}
}

// New creates an application from cfg.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	app := &Application{
		logger:  zap.NewNop(),
		catalog: agent.NewCatalog(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if app.tracer == nil {
		app.tracer = otel.Tracer("github.com/najoast/conductor")
	}
	app.logger = app.logger.With(zap.String("app", cfg.App.Name))

	if err := app.checkAgents(cfg); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	app.cfg.Store(cfg)

	defaults, err := actorDefaults(cfg.Actor)
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	app.system = core.NewSystem(
		core.WithLogger(app.logger),
		core.WithMetrics(core.NewMetrics(app.registry)),
		core.WithTracer(app.tracer),
		core.WithDefaultActorOptions(defaults),
	)
	app.workflowMetrics = orchestrator.NewMetrics(app.registry)

	app.lifecycle = NewLifecycleManager(app.logger)
	if err := app.lifecycle.Register("runtime", NewRuntimeService(app.system)); err != nil {
		return nil, err
	}
	if cfg.Monitor.Enabled && cfg.Monitor.HTTP.Enabled {
		app.metricsService = NewMetricsService(cfg.Monitor.HTTP, app.registry, app.lifecycle.Health, app.logger)
		if err := app.lifecycle.Register("metrics", app.metricsService, "runtime"); err != nil {
			return nil, err
		}
	}
	if cfg.Ingress.Enabled {
		app.ingressService, err = NewIngressService(cfg.Ingress, app, app.logger)
		if err != nil {
			return nil, &ApplicationError{Operation: "configure", Err: err}
		}
		if err := app.lifecycle.Register("ingress", app.ingressService, "runtime"); err != nil {
			return nil, err
		}
	}
	if app.provider != nil {
		watcher := NewConfigWatcherService(app.provider, app.applyConfig, app.logger)
		if err := app.lifecycle.Register("config-watcher", watcher, "runtime"); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Start starts the application services.
func (app *Application) Start(ctx context.Context) error {
	return app.lifecycle.Start(ctx)
}

// Shutdown stops the services, including every actor still running.
func (app *Application) Shutdown(ctx context.Context) error {
	return app.lifecycle.Stop(ctx)
}

// Health returns the health of every service.
func (app *Application) Health(ctx context.Context) (map[string]HealthStatus, error) {
	return app.lifecycle.Health(ctx)
}

// Config returns the configuration new runs use.
func (app *Application) Config() *config.Config {
	return app.cfg.Load()
}

// System returns the shared actor system.
func (app *Application) System() *core.System {
	return app.system
}

// Lifecycle returns the service lifecycle manager.
func (app *Application) Lifecycle() *DefaultLifecycleManager {
	return app.lifecycle
}

// MetricsAddr returns the monitoring server address, or "" when disabled.
func (app *Application) MetricsAddr() string {
	if app.metricsService == nil {
		return ""
	}
	return app.metricsService.Addr()
}

// IngressAddr returns the TCP ingress address, or "" when disabled.
func (app *Application) IngressAddr() string {
	if app.ingressService == nil {
		return ""
	}
	return app.ingressService.Addr()
}

// Submit runs input through the configured workflow and returns the last
// agent's output. The run's orchestrator and agents are stopped when
// Submit returns.
func (app *Application) Submit(ctx context.Context, input any) (Result, error) {
	cfg := app.cfg.Load()
	runID := uuid.NewString()
	logger := app.logger.With(zap.String("run_id", runID))
	start := time.Now()

	ctx, span := app.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.run_id", runID),
		attribute.StringSlice("workflow.steps", cfg.Workflow.Steps),
	))
	defer span.End()

	result, err := app.run(ctx, cfg, runID, input, logger)
	result.RunID = runID
	result.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("workflow run failed", zap.Error(err), zap.Duration("duration", result.Duration))
		return result, err
	}
	logger.Info("workflow run complete", zap.Int("steps", len(result.Steps)), zap.Duration("duration", result.Duration))
	return result, nil
}

type outcome struct {
	output *core.Message
	err    error
}

func (app *Application) run(ctx context.Context, cfg *config.Config, runID string, input any, logger *zap.Logger) (Result, error) {
	specs, err := app.agentSpecs(cfg)
	if err != nil {
		return Result{}, err
	}
	overrun, err := orchestrator.ParseOverrunPolicy(cfg.Workflow.Overrun)
	if err != nil {
		return Result{}, err
	}
	policy, err := supervisorPolicy(cfg.Workflow.Supervisor)
	if err != nil {
		return Result{}, err
	}

	// steps and finished belong to the orchestrator goroutine until outcomes
	// is written
	var steps []Step
	finished := false
	outcomes := make(chan outcome, 1)
	finish := func(o outcome) {
		finished = true
		outcomes <- o
	}

	sink := func(e orchestrator.Event) {
		if finished {
			return
		}
		switch e.Type {
		case orchestrator.EventRouted:
			steps = append(steps, Step{Index: e.Step, Agent: e.Agent, Input: e.Message.Payload})
		case orchestrator.EventOverrun:
			finish(outcome{output: e.Message})
		case orchestrator.EventLookupFailed, orchestrator.EventDeliveryFailed,
			orchestrator.EventAgentFailed, orchestrator.EventHalted, orchestrator.EventRejected:
			// a single message is in flight, so any of these ends the run
			finish(outcome{err: &RunError{RunID: runID, Step: e.Step, Agent: e.Agent, Err: e.Err}})
		}
	}

	orch, err := orchestrator.New(cfg.Workflow.Steps, core.NewRegistry(logger),
		orchestrator.WithAgents(specs...),
		orchestrator.WithOverrunPolicy(overrun),
		orchestrator.WithSupervisorPolicy(policy),
		orchestrator.WithEventSink(sink),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(app.workflowMetrics),
	)
	if err != nil {
		return Result{}, err
	}

	ref, err := app.system.Spawn(orch, core.ActorOptions{Name: "orchestrator-" + runID[:8]})
	if err != nil {
		return Result{}, fmt.Errorf("spawn orchestrator: %w", err)
	}
	defer app.stopRun(ref)

	msg := core.NewMessage(input)
	msg.CorrelationID = runID
	if err := ref.Send(msg); err != nil {
		return Result{}, fmt.Errorf("submit input: %w", err)
	}

	var out outcome
	select {
	case out = <-outcomes:
	case <-ref.Done():
		select {
		case out = <-outcomes:
		default:
			out.err = &RunError{RunID: runID, Err: errors.Join(ErrNoOutput, ref.Err())}
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if out.err != nil {
		return Result{Steps: steps}, out.err
	}
	return Result{Output: out.output.Payload, Steps: steps}, nil
}

// stopRun asks an orchestrator to stop, which takes its agents with it. It
// does not wait: an agent stuck in its processor is bounded by the actor
// ProcessTimeout, not by the caller.
func (app *Application) stopRun(ref core.Actor) {
	if err := ref.Stop(); err != nil {
		app.logger.Debug("orchestrator already stopped", zap.String("actor", ref.Name()), zap.Error(err))
	}
}

func (app *Application) agentSpecs(cfg *config.Config) ([]orchestrator.AgentSpec, error) {
	specs := make([]orchestrator.AgentSpec, 0, len(cfg.Workflow.Agents))
	for _, a := range cfg.Workflow.Agents {
		processor, err := app.catalog.Get(a.Processor)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		overflow, err := core.ParseOverflowPolicy(a.Overflow)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		specs = append(specs, orchestrator.AgentSpec{
			Name:    a.Name,
			Factory: agent.NewFactory(a.Name, processor, agent.WithLogger(app.logger)),
			Options: core.ActorOptions{
				MailboxLimit:   a.MailboxLimit,
				Overflow:       overflow,
				ProcessTimeout: a.ProcessTimeout,
			},
		})
	}
	return specs, nil
}

// checkAgents resolves every configured processor kind.
func (app *Application) checkAgents(cfg *config.Config) error {
	_, err := app.agentSpecs(cfg)
	return err
}

// applyConfig is the reload callback. Runs already in progress keep the
// configuration they started with.
func (app *Application) applyConfig(oldConfig, newConfig *config.Config) {
	if err := app.checkAgents(newConfig); err != nil {
		app.logger.Warn("reloaded configuration rejected", zap.Error(err))
		return
	}
	app.cfg.Store(newConfig)

	if app.level != nil && newConfig.Log.Level != oldConfig.Log.Level {
		if err := logging.SetLevel(*app.level, newConfig.Log.Level); err != nil {
			app.logger.Warn("log level not applied", zap.Error(err))
		}
	}
	app.logger.Info("configuration applied",
		zap.Strings("steps", newConfig.Workflow.Steps),
		zap.Stringer("log_level", newConfig.Log.Level))
}

func actorDefaults(cfg config.ActorConfig) (core.ActorOptions, error) {
	overflow, err := core.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return core.ActorOptions{}, err
	}
	return core.ActorOptions{
		MailboxLimit:   cfg.MailboxLimit,
		Overflow:       overflow,
		ProcessTimeout: cfg.ProcessTimeout,
	}, nil
}

func supervisorPolicy(cfg config.SupervisorConfig) (orchestrator.SupervisorPolicy, error) {
	strategy, err := orchestrator.ParseStrategy(cfg.Strategy)
	if err != nil {
		return orchestrator.SupervisorPolicy{}, err
	}
	return orchestrator.SupervisorPolicy{
		Strategy:    strategy,
		MaxRestarts: cfg.MaxRestarts,
		Window:      cfg.Window,
	}, nil
}

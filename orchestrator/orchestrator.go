package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/najoast/conductor/core"
)

// OverrunPolicy decides what happens to messages that arrive when there is
// no step left to route to.
type OverrunPolicy uint8

const (
	// OverrunReject reports the message and answers its sender with a
	// core.Rejected.
	OverrunReject OverrunPolicy = iota
	// OverrunDrop reports the message and discards it.
	OverrunDrop
)

// String returns the string representation of OverrunPolicy.
func (p OverrunPolicy) String() string {
	switch p {
	case OverrunReject:
		return "reject"
	case OverrunDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParseOverrunPolicy parses a policy name. The empty string means reject.
func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return OverrunReject, nil
	case "drop":
		return OverrunDrop, nil
	default:
		return 0, fmt.Errorf("%w: unknown overrun policy %q", ErrInvalidPolicy, s)
	}
}

// Orchestrator is the core.Behavior that routes messages through a fixed
// workflow. Its state is owned by the actor running it.
type Orchestrator struct {
	workflow []string
	registry *core.Registry

	step  int
	phase Phase

	overrun OverrunPolicy
	policy  SupervisorPolicy

	specs    map[string]AgentSpec
	order    []string
	restarts map[string][]time.Time
	watched  map[core.ActorID]string

	sink    EventSink
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOverrunPolicy sets the overrun policy. Default is OverrunReject.
func WithOverrunPolicy(p OverrunPolicy) Option {
	return func(o *Orchestrator) {
		o.overrun = p
	}
}

// WithSupervisorPolicy sets how agent failures are handled.
func WithSupervisorPolicy(p SupervisorPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithAgents makes the Orchestrator spawn, register and supervise the given
// agents when it starts.
func WithAgents(specs ...AgentSpec) Option {
	return func(o *Orchestrator) {
		for _, spec := range specs {
			if _, ok := o.specs[spec.Name]; !ok {
				o.order = append(o.order, spec.Name)
			}
			o.specs[spec.Name] = spec
		}
	}
}

// WithEventSink installs a sink for workflow events.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New creates an Orchestrator for workflow, resolving agent names through
// registry. The returned value must be run by exactly one actor.
func New(workflow []string, registry *core.Registry, opts ...Option) (*Orchestrator, error) {
	if len(workflow) == 0 {
		return nil, ErrEmptyWorkflow
	}
	for i, name := range workflow {
		if name == "" {
			return nil, fmt.Errorf("%w: step %d", ErrInvalidStep, i)
		}
	}
	if registry == nil {
		return nil, ErrNilRegistry
	}

	o := &Orchestrator{
		workflow: append([]string(nil), workflow...),
		registry: registry,
		phase:    PhaseRunning,
		overrun:  OverrunReject,
		policy:   DefaultSupervisorPolicy(),
		specs:    make(map[string]AgentSpec),
		restarts: make(map[string][]time.Time),
		watched:  make(map[core.ActorID]string),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, name := range o.order {
		if err := o.specs[name].validate(); err != nil {
			return nil, err
		}
	}
	if o.overrun > OverrunDrop {
		return nil, fmt.Errorf("%w: overrun policy %d", ErrInvalidPolicy, o.overrun)
	}
	if o.policy.Strategy > StrategyHalt || o.policy.MaxRestarts < 0 {
		return nil, fmt.Errorf("%w: supervisor %+v", ErrInvalidPolicy, o.policy)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	o.logger = o.logger.Named("orchestrator")
	return o, nil
}

// Receive implements core.Behavior.
func (o *Orchestrator) Receive(c *core.Context, msg *core.Message) (core.Behavior, error) {
	switch p := msg.Payload.(type) {
	case core.Started:
		return nil, o.startAgents(c)
	case core.Terminated:
		return nil, o.handleTerminated(c, p, msg.Sender)
	case StatusRequest:
		o.replyStatus(p)
		return nil, nil
	}
	if msg.IsSystem() {
		return nil, nil
	}
	return nil, o.route(c, msg)
}

func (o *Orchestrator) startAgents(c *core.Context) error {
	for _, name := range o.order {
		ref, err := o.startAgent(c, o.specs[name])
		if err != nil {
			return err
		}
		o.logger.Debug("agent started", zap.String("agent", name), zap.Uint32("actor_id", uint32(ref.ID())))
		o.emit(Event{Type: EventAgentStarted, Step: o.step, Agent: name})
	}
	return nil
}

// route forwards msg to the agent at the current step.
func (o *Orchestrator) route(c *core.Context, msg *core.Message) error {
	switch o.phase {
	case PhaseComplete:
		o.refuse(c, msg, EventOverrun, ErrWorkflowOverrun)
		return nil
	case PhaseHalted:
		o.refuse(c, msg, EventRejected, ErrWorkflowHalted)
		return nil
	}

	step := o.step
	name := o.workflow[step]

	target, err := o.registry.Lookup(name)
	if err != nil {
		o.metrics.LookupFailures.Inc()
		o.emit(Event{Type: EventLookupFailed, Step: step, Agent: name, Message: msg, Err: err})
		return fmt.Errorf("route step %d: %w", step, err)
	}
	if err := o.watch(c, name, target); err != nil {
		o.emit(Event{Type: EventDeliveryFailed, Step: step, Agent: name, Message: msg, Err: err})
		return fmt.Errorf("route step %d: %w", step, err)
	}
	if err := c.Forward(target); err != nil {
		o.emit(Event{Type: EventDeliveryFailed, Step: step, Agent: name, Message: msg, Err: err})
		return fmt.Errorf("route step %d to %s: %w", step, name, err)
	}

	o.step++
	o.metrics.StepsRouted.WithLabelValues(name).Inc()
	trace.SpanFromContext(c.Context()).AddEvent("workflow.routed", trace.WithAttributes(
		attribute.Int("workflow.step", step),
		attribute.String("workflow.agent", name),
	))
	o.logger.Debug("message routed",
		zap.Int("step", step),
		zap.String("agent", name),
		zap.String("message_id", msg.ID),
		zap.String("correlation_id", msg.CorrelationID))
	o.emit(Event{Type: EventRouted, Step: step, Agent: name, Message: msg})

	if o.step == len(o.workflow) {
		o.phase = PhaseComplete
		o.metrics.WorkflowsCompleted.Inc()
		o.logger.Info("workflow complete", zap.Strings("workflow", o.workflow))
		o.emit(Event{Type: EventCompleted, Step: o.step})
	}
	return nil
}

// refuse handles a message that has no step to go to.
func (o *Orchestrator) refuse(c *core.Context, msg *core.Message, typ EventType, reason error) {
	o.metrics.Overruns.WithLabelValues(o.phase.String()).Inc()
	o.emit(Event{Type: typ, Step: o.step, Message: msg, Err: reason})

	if o.overrun == OverrunDrop {
		o.logger.Warn("message dropped", zap.String("message_id", msg.ID), zap.Error(reason))
		return
	}

	o.logger.Info("message rejected", zap.String("message_id", msg.ID), zap.Error(reason))
	if msg.Sender == nil {
		return
	}
	if err := c.Send(msg.Sender, core.Rejected{Reason: reason, Original: msg}); err != nil {
		o.logger.Debug("rejection not delivered", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// watch monitors target once per actor.
func (o *Orchestrator) watch(c *core.Context, name string, target core.Actor) error {
	if _, ok := o.watched[target.ID()]; ok {
		return nil
	}
	if err := c.Monitor(target); err != nil {
		return fmt.Errorf("monitor agent %s: %w", name, err)
	}
	o.watched[target.ID()] = name
	return nil
}

func (o *Orchestrator) replyStatus(req StatusRequest) {
	if req.Reply == nil {
		return
	}
	select {
	case req.Reply <- o.Status():
	default:
		o.logger.Debug("status reply channel full")
	}
}

// Status returns a snapshot of the routing state. It must only be called
// from the actor running the Orchestrator; use QueryStatus elsewhere.
func (o *Orchestrator) Status() Status {
	return Status{
		Phase:    o.phase,
		Step:     o.step,
		Workflow: append([]string(nil), o.workflow...),
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.sink == nil {
		return
	}
	e.Time = time.Now()
	o.sink(e)
}

package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/conductor/agent"
	"github.com/najoast/conductor/core"
)

// Strategy decides what the Orchestrator does when an agent crashes.
type Strategy uint8

const (
	// StrategyRestart respawns the agent from its AgentSpec.
	StrategyRestart Strategy = iota
	// StrategyEscalate fails the Orchestrator with an *EscalationError.
	StrategyEscalate
	// StrategyHalt stops routing; further messages are refused.
	StrategyHalt
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyRestart:
		return "restart"
	case StrategyEscalate:
		return "escalate"
	case StrategyHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name. The empty string means restart.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "restart":
		return StrategyRestart, nil
	case "escalate":
		return StrategyEscalate, nil
	case "halt":
		return StrategyHalt, nil
	default:
		return 0, fmt.Errorf("%w: unknown supervisor strategy %q", ErrInvalidPolicy, s)
	}
}

// SupervisorPolicy configures failure handling.
type SupervisorPolicy struct {
	Strategy Strategy

	// MaxRestarts bounds restarts of one agent within Window. Once reached
	// the next failure escalates. Zero escalates on the first failure.
	MaxRestarts int

	// Window is the period restarts are counted over. Zero counts over the
	// Orchestrator's lifetime.
	Window time.Duration
}

// DefaultSupervisorPolicy returns restart, at most 3 times a minute.
func DefaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		Strategy:    StrategyRestart,
		MaxRestarts: 3,
		Window:      time.Minute,
	}
}

// AgentSpec describes an agent the Orchestrator spawns and supervises.
type AgentSpec struct {
	// Name is the registry binding and the workflow step name
	Name string

	Factory agent.Factory

	// Options for the spawned actor; Name defaults to the spec's Name
	Options core.ActorOptions
}

func (s AgentSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidAgentSpec)
	}
	if s.Factory == nil {
		return fmt.Errorf("%w: agent %s has no factory", ErrInvalidAgentSpec, s.Name)
	}
	return nil
}

// startAgent spawns spec as a child reporting to the Orchestrator, binds it
// and watches it.
func (o *Orchestrator) startAgent(c *core.Context, spec AgentSpec) (core.Actor, error) {
	opts := spec.Options
	if opts.Name == "" {
		opts.Name = spec.Name
	}

	ref, err := c.Spawn(spec.Factory(c.Self()), opts)
	if err != nil {
		return nil, fmt.Errorf("spawn agent %s: %w", spec.Name, err)
	}
	if err := o.registry.Register(spec.Name, ref); err != nil {
		_ = ref.Stop()
		return nil, fmt.Errorf("register agent %s: %w", spec.Name, err)
	}
	if err := o.watch(c, spec.Name, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// handleTerminated applies the supervisor policy to a watched agent. dead is
// the terminated actor; its registry binding is dropped unless a
// replacement has taken the name.
func (o *Orchestrator) handleTerminated(c *core.Context, t core.Terminated, dead core.Actor) error {
	name, ok := o.watched[t.ID]
	if !ok {
		return nil
	}
	delete(o.watched, t.ID)

	if t.Reason == nil {
		o.unbind(name, dead)
		o.logger.Info("agent stopped", zap.String("agent", name))
		o.emit(Event{Type: EventAgentStopped, Step: o.step, Agent: name})
		return nil
	}

	o.metrics.AgentFailures.WithLabelValues(name).Inc()
	o.logger.Warn("agent failed",
		zap.String("agent", name),
		zap.Stringer("strategy", o.policy.Strategy),
		zap.Error(t.Reason))
	o.emit(Event{Type: EventAgentFailed, Step: o.step, Agent: name, Err: t.Reason})

	switch o.policy.Strategy {
	case StrategyEscalate:
		o.unbind(name, dead)
		return &EscalationError{Agent: name, Err: t.Reason}
	case StrategyHalt:
		o.unbind(name, dead)
		o.phase = PhaseHalted
		o.emit(Event{Type: EventHalted, Step: o.step, Agent: name, Err: t.Reason})
		return nil
	default:
		return o.restart(c, name, dead, t.Reason)
	}
}

func (o *Orchestrator) restart(c *core.Context, name string, dead core.Actor, reason error) error {
	spec, ok := o.specs[name]
	if !ok {
		o.unbind(name, dead)
		o.logger.Warn("agent has no spec, not restarting", zap.String("agent", name))
		return nil
	}

	now := time.Now()
	recent := o.restarts[name][:0]
	for _, at := range o.restarts[name] {
		if o.policy.Window <= 0 || now.Sub(at) < o.policy.Window {
			recent = append(recent, at)
		}
	}
	o.restarts[name] = recent

	if len(recent) >= o.policy.MaxRestarts {
		o.unbind(name, dead)
		return &EscalationError{
			Agent: name,
			Err:   fmt.Errorf("%w (%d within %s): %w", ErrRestartLimit, len(recent), o.policy.Window, reason),
		}
	}

	ref, err := o.startAgent(c, spec)
	if err != nil {
		o.unbind(name, dead)
		return &EscalationError{Agent: name, Err: err}
	}
	o.restarts[name] = append(o.restarts[name], now)

	o.metrics.AgentRestarts.WithLabelValues(name).Inc()
	o.logger.Info("agent restarted",
		zap.String("agent", name),
		zap.Uint32("actor_id", uint32(ref.ID())),
		zap.Int("restarts", len(o.restarts[name])))
	o.emit(Event{Type: EventAgentRestarted, Step: o.step, Agent: name})
	return nil
}

// unbind removes name's registry binding if it still points at dead.
func (o *Orchestrator) unbind(name string, dead core.Actor) {
	if dead == nil {
		return
	}
	if o.registry.UnregisterActor(name, dead) {
		o.logger.Debug("registry binding removed", zap.String("agent", name))
	}
}

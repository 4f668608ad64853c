// Package agent provides the worker actor of a workflow: it runs one task
// step per message and hands the result to a fixed recipient.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/conductor/core"
)

// Processor performs the task logic for one message. Implementations may be
// slow or fail; a failure crashes the agent.
type Processor interface {
	Process(ctx context.Context, msg *core.Message) (any, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, msg *core.Message) (any, error)

// Process calls f(ctx, msg).
func (f ProcessorFunc) Process(ctx context.Context, msg *core.Message) (any, error) {
	return f(ctx, msg)
}

// Factory builds a fresh agent behavior that reports to recipient. It is
// called again whenever a supervisor restarts the agent.
type Factory func(recipient core.Actor) core.Behavior

// Agent is a core.Behavior that processes user messages with a Processor
// and sends each result to its recipient.
type Agent struct {
	name      string
	recipient core.Actor
	processor Processor
	logger    *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an agent behavior.
func New(name string, recipient core.Actor, processor Processor, opts ...Option) *Agent {
	a := &Agent{
		name:      name,
		recipient: recipient,
		processor: processor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("agent", name))
	return a
}

// NewFactory returns a Factory producing agents that share processor.
func NewFactory(name string, processor Processor, opts ...Option) Factory {
	return func(recipient core.Actor) core.Behavior {
		return New(name, recipient, processor, opts...)
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// Receive implements core.Behavior.
func (a *Agent) Receive(c *core.Context, msg *core.Message) (core.Behavior, error) {
	if msg.IsSystem() {
		return nil, nil
	}

	start := time.Now()
	result, err := a.processor.Process(c.Context(), msg)
	if err != nil {
		return nil, fmt.Errorf("agent %s: process message %s: %w", a.name, msg.ID, err)
	}

	a.logger.Debug("task processed",
		zap.String("message_id", msg.ID),
		zap.String("correlation_id", msg.CorrelationID),
		zap.Duration("duration", time.Since(start)))

	if err := c.Send(a.recipient, result); err != nil {
		if errors.Is(err, core.ErrActorStopped) {
			// the run was abandoned; nobody is waiting for the result
			a.logger.Debug("recipient stopped, result discarded",
				zap.String("message_id", msg.ID),
				zap.String("correlation_id", msg.CorrelationID))
			return nil, nil
		}
		return nil, fmt.Errorf("agent %s: deliver result: %w", a.name, err)
	}
	return nil, nil
}

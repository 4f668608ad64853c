package core

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoSender is returned by Reply when the current message has no sender.
var ErrNoSender = errors.New("message has no sender")

// Context is handed to a Behavior for one message. It carries the effects a
// behavior is allowed to have: sending, spawning and monitoring. It must not
// be retained past the Receive call.
type Context struct {
	ctx    context.Context
	system *System
	self   *actor
	msg    *Message
}

// Context returns the per-message context. It is cancelled when the actor
// is force-stopped or the actor's ProcessTimeout elapses.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Self returns the actor running this behavior.
func (c *Context) Self() Actor {
	return c.self
}

// System returns the actor system.
func (c *Context) System() *System {
	return c.system
}

// Message returns the message being processed.
func (c *Context) Message() *Message {
	return c.msg
}

// Logger returns the actor's logger.
func (c *Context) Logger() *zap.Logger {
	return c.self.logger
}

// Send sends a new message carrying payload to another actor. The current
// message's correlation id is propagated.
func (c *Context) Send(to Actor, payload any) error {
	msg := NewMessage(payload)
	msg.Sender = c.self
	msg.CorrelationID = c.msg.CorrelationID
	return to.Send(msg)
}

// Forward passes the current message, unchanged, to another actor.
func (c *Context) Forward(to Actor) error {
	return to.Send(c.msg)
}

// Reply sends payload back to the current message's sender.
func (c *Context) Reply(payload any) error {
	if c.msg.Sender == nil {
		return ErrNoSender
	}
	return c.Send(c.msg.Sender, payload)
}

// Spawn starts a child actor. Children are stopped when this actor ends.
func (c *Context) Spawn(behavior Behavior, opts ActorOptions) (Actor, error) {
	return c.system.spawn(c.self, behavior, opts)
}

// Monitor subscribes this actor to target's termination.
func (c *Context) Monitor(target Actor) error {
	return c.system.Monitor(c.self, target)
}

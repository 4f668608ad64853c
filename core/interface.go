package core

// Behavior processes messages for an Actor.
type Behavior interface {
	// Receive handles a single message.
	// Returning a non-nil Behavior replaces the current one for subsequent
	// messages. Returning an error terminates the actor.
	Receive(c *Context, msg *Message) (Behavior, error)
}

// BehaviorFunc adapts a function to the Behavior interface.
type BehaviorFunc func(c *Context, msg *Message) (Behavior, error)

// Receive calls f(c, msg).
func (f BehaviorFunc) Receive(c *Context, msg *Message) (Behavior, error) {
	return f(c, msg)
}

// Actor is a reference to a running computational unit that processes
// messages sequentially in its own goroutine. It exposes nothing of the
// actor's internal state.
type Actor interface {
	// ID returns the unique identifier of this Actor.
	ID() ActorID

	// Name returns the human-readable name given at spawn time.
	Name() string

	// Send enqueues a message into this Actor's mailbox and returns
	// immediately. The error only reports that the message could not be
	// enqueued.
	Send(msg *Message) error

	// Stop asks the Actor to exit after the messages already queued.
	Stop() error

	// Done is closed once the Actor has terminated.
	Done() <-chan struct{}

	// Err returns the termination reason: nil while running or after a
	// normal stop, an *ActorFailure after a crash.
	Err() error

	// Stats returns current runtime statistics for this Actor.
	Stats() ActorStats
}

package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// actor implements the Actor interface.
type actor struct {
	id     ActorID
	name   string
	system *System
	parent *actor
	logger *zap.Logger

	// behavior is only touched by the run goroutine
	behavior Behavior
	mailbox  *Mailbox
	opts     ActorOptions

	// Context for force-stopping the Actor
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Atomic counters for statistics
	state             int32 // ActorState while not terminated
	stopRequested     atomic.Bool
	messagesProcessed uint64
	createdAt         time.Time
	lastMessageAt     int64 // UnixNano

	// mu guards the fields below
	mu         sync.Mutex
	terminated bool
	reason     error
	watchers   map[ActorID]*actor
	children   map[ActorID]*actor
}

func newActor(s *System, parent *actor, id ActorID, behavior Behavior, opts ActorOptions) *actor {
	ctx, cancel := context.WithCancel(s.ctx)

	a := &actor{
		id:        id,
		name:      opts.Name,
		system:    s,
		parent:    parent,
		behavior:  behavior,
		mailbox:   NewMailbox(opts.MailboxLimit, opts.Overflow),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	a.logger = s.logger.With(zap.Uint32("actor_id", uint32(id)), zap.String("actor", opts.Name))
	a.mailbox.onDrop = func(msg *Message) {
		s.metrics.MessagesDropped.Inc()
		a.logger.Warn("mailbox full, dropped oldest message", zap.String("message_id", msg.ID))
	}

	atomic.StoreInt32(&a.state, int32(ActorStateIdle))
	return a
}

// ID returns the unique identifier of this Actor.
func (a *actor) ID() ActorID {
	return a.id
}

// Name returns the Actor's name.
func (a *actor) Name() string {
	return a.name
}

// Send enqueues msg without waiting for it to be processed.
func (a *actor) Send(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	if err := a.mailbox.Enqueue(msg); err != nil {
		a.system.metrics.MessagesRejected.Inc()
		if errors.Is(err, ErrMailboxClosed) {
			return fmt.Errorf("actor %d (%s): %w", a.id, a.name, ErrActorStopped)
		}
		return fmt.Errorf("actor %d (%s): %w", a.id, a.name, err)
	}

	a.system.metrics.MessagesEnqueued.Inc()
	return nil
}

// Stop enqueues a Stop message. Messages queued before it are still
// processed.
func (a *actor) Stop() error {
	select {
	case <-a.done:
		return fmt.Errorf("actor %d (%s): %w", a.id, a.name, ErrActorStopped)
	default:
	}

	if !a.stopRequested.CompareAndSwap(false, true) {
		return nil
	}
	if err := a.mailbox.Enqueue(NewMessage(Stop{})); err != nil {
		return fmt.Errorf("actor %d (%s): %w", a.id, a.name, ErrActorStopped)
	}
	return nil
}

// Done is closed once the Actor has terminated.
func (a *actor) Done() <-chan struct{} {
	return a.done
}

// Err returns the termination reason.
func (a *actor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

// Stats returns current runtime statistics for this Actor.
func (a *actor) Stats() ActorStats {
	var lastMessageAt time.Time
	if last := atomic.LoadInt64(&a.lastMessageAt); last > 0 {
		lastMessageAt = time.Unix(0, last)
	}

	return ActorStats{
		ID:                a.id,
		Name:              a.name,
		State:             a.currentState(),
		MessagesProcessed: atomic.LoadUint64(&a.messagesProcessed),
		MailboxSize:       a.mailbox.Len(),
		CreatedAt:         a.createdAt,
		LastMessageAt:     lastMessageAt,
	}
}

func (a *actor) currentState() ActorState {
	state := ActorState(atomic.LoadInt32(&a.state))
	if !state.Terminal() && a.stopRequested.Load() {
		return ActorStateStopping
	}
	return state
}

// run is the main processing loop for the Actor.
func (a *actor) run() {
	var reason error
	defer func() {
		a.terminate(reason)
	}()

	for {
		msg, err := a.mailbox.Dequeue(a.ctx)
		if err != nil {
			// force-stopped or closed
			return
		}
		if _, ok := msg.Payload.(Stop); ok {
			return
		}
		if err := a.processMessage(msg); err != nil {
			reason = err
			return
		}
	}
}

// processMessage handles a single message.
func (a *actor) processMessage(msg *Message) error {
	atomic.StoreInt32(&a.state, int32(ActorStateRunning))
	defer atomic.StoreInt32(&a.state, int32(ActorStateIdle))

	atomic.AddUint64(&a.messagesProcessed, 1)
	atomic.StoreInt64(&a.lastMessageAt, time.Now().UnixNano())

	ctx := a.ctx
	if a.opts.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.ProcessTimeout)
		defer cancel()
	}

	ctx, span := a.system.tracer.Start(ctx, "actor.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("actor.name", a.name),
			attribute.Int64("actor.id", int64(a.id)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type.String()),
			attribute.String("message.correlation_id", msg.CorrelationID),
		))
	defer span.End()

	start := time.Now()
	next, err := a.invoke(&Context{ctx: ctx, system: a.system, self: a, msg: msg})
	a.system.metrics.ProcessDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		a.system.metrics.MessagesProcessed.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.system.metrics.MessagesProcessed.WithLabelValues("ok").Inc()
	if next != nil {
		a.behavior = next
	}
	return nil
}

// invoke calls the behavior and converts errors and panics into an
// *ActorFailure. Nothing is repaired here.
func (a *actor) invoke(c *Context) (next Behavior, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = &ActorFailure{
				ID:    a.id,
				Name:  a.name,
				Err:   fmt.Errorf("panic: %v", r),
				Panic: r,
				Stack: debug.Stack(),
			}
		}
	}()

	next, err = a.behavior.Receive(c, c.msg)
	if err != nil {
		err = &ActorFailure{ID: a.id, Name: a.name, Err: err}
	}
	return next, err
}

// terminate discards the mailbox, stops children and notifies watchers.
func (a *actor) terminate(reason error) {
	a.cancel()
	pending := a.mailbox.Close()

	a.mu.Lock()
	a.terminated = true
	a.reason = reason
	watchers := a.watchers
	children := a.children
	a.watchers = nil
	a.children = nil
	a.mu.Unlock()

	state, label := ActorStateStopped, "stopped"
	if reason != nil {
		state, label = ActorStateFailed, "failed"
	}
	atomic.StoreInt32(&a.state, int32(state))

	a.system.remove(a)
	if a.parent != nil {
		a.parent.removeChild(a.id)
	}
	a.system.metrics.MessagesDiscarded.Add(float64(len(pending)))
	a.system.metrics.ActorsTerminated.WithLabelValues(label).Inc()
	a.system.metrics.ActorsLive.Dec()
	close(a.done)

	for _, child := range children {
		_ = child.Stop()
	}
	for _, w := range watchers {
		a.notify(w, reason)
	}

	if reason != nil {
		var failure *ActorFailure
		fields := []zap.Field{zap.Error(reason), zap.Int("discarded", len(pending))}
		if errors.As(reason, &failure) && failure.Stack != nil {
			fields = append(fields, zap.ByteString("stack", failure.Stack))
		}
		a.logger.Error("actor crashed", fields...)
		return
	}
	a.logger.Debug("actor stopped", zap.Int("discarded", len(pending)))
}

// notify delivers a Terminated message about a to watcher.
func (a *actor) notify(watcher *actor, reason error) {
	msg := NewMessage(Terminated{ID: a.id, Name: a.name, Reason: reason})
	msg.Sender = a
	if err := watcher.Send(msg); err != nil {
		a.logger.Debug("watcher gone, termination not delivered",
			zap.Uint32("watcher_id", uint32(watcher.id)), zap.Error(err))
	}
}

// addWatcher registers w, or reports false if a has already terminated.
func (a *actor) addWatcher(w *actor) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return false, a.reason
	}
	if a.watchers == nil {
		a.watchers = make(map[ActorID]*actor)
	}
	a.watchers[w.id] = w
	return true, nil
}

func (a *actor) addChild(child *actor) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.terminated {
		return false
	}
	if a.children == nil {
		a.children = make(map[ActorID]*actor)
	}
	a.children[child.id] = child
	return true
}

func (a *actor) removeChild(id ActorID) {
	a.mu.Lock()
	delete(a.children, id)
	a.mu.Unlock()
}

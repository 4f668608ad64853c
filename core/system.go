package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrUnknownActor is returned when an Actor was not created by this System.
var ErrUnknownActor = errors.New("actor does not belong to this system")

const tracerName = "github.com/najoast/conductor/core"

// System schedules actors: it spawns them, tracks the live ones, wires
// monitors and shuts everything down.
type System struct {
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	defaults ActorOptions

	// Map of Actor ID to live *actor
	actors    sync.Map
	idCounter atomic.Uint32

	// mu orders spawns against Shutdown so wg.Add never races wg.Wait
	mu       sync.RWMutex
	stopping bool

	// System shutdown context
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for all actor goroutines
	wg sync.WaitGroup
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger; actors log through named children of it.
func WithLogger(logger *zap.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metric collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *System) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer used for per-message spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *System) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithDefaultActorOptions sets options applied to actors spawned with zero
// values in the corresponding fields.
func WithDefaultActorOptions(opts ActorOptions) Option {
	return func(s *System) {
		s.defaults = opts
	}
}

// NewSystem creates a new actor system.
func NewSystem(opts ...Option) *System {
	ctx, cancel := context.WithCancel(context.Background())

	s := &System{
		logger:  zap.NewNop(),
		metrics: NewMetrics(nil),
		tracer:  otel.Tracer(tracerName),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn creates and starts a top-level actor running behavior.
func (s *System) Spawn(behavior Behavior, opts ActorOptions) (Actor, error) {
	return s.spawn(nil, behavior, opts)
}

func (s *System) spawn(parent *actor, behavior Behavior, opts ActorOptions) (Actor, error) {
	if behavior == nil {
		return nil, ErrNilBehavior
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopping {
		return nil, ErrSystemStopping
	}

	opts = s.applyDefaults(opts)
	id := ActorID(s.idCounter.Add(1))
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("actor-%d", id)
	}

	a := newActor(s, parent, id, behavior, opts)
	if parent != nil && !parent.addChild(a) {
		return nil, fmt.Errorf("parent %d (%s): %w", parent.id, parent.name, ErrActorStopped)
	}

	s.actors.Store(id, a)
	// Started is queued before anyone else can hold a reference
	_ = a.mailbox.Enqueue(NewMessage(Started{}))

	s.metrics.ActorsSpawned.Inc()
	s.metrics.ActorsLive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run()
	}()

	a.logger.Debug("actor spawned")

	return a, nil
}

func (s *System) applyDefaults(opts ActorOptions) ActorOptions {
	if opts.MailboxLimit == 0 && s.defaults.MailboxLimit > 0 {
		opts.MailboxLimit = s.defaults.MailboxLimit
		opts.Overflow = s.defaults.Overflow
	}
	if opts.ProcessTimeout == 0 {
		opts.ProcessTimeout = s.defaults.ProcessTimeout
	}
	return opts
}

// Monitor makes watcher receive one Terminated message when target ends.
// If target has already ended the message is sent right away.
func (s *System) Monitor(watcher, target Actor) error {
	w, ok := watcher.(*actor)
	if !ok || w.system != s {
		return fmt.Errorf("monitor watcher: %w", ErrUnknownActor)
	}
	t, ok := target.(*actor)
	if !ok || t.system != s {
		return fmt.Errorf("monitor target: %w", ErrUnknownActor)
	}

	if alive, reason := t.addWatcher(w); !alive {
		t.notify(w, reason)
	}
	return nil
}

// Lookup finds a live Actor by its ID.
func (s *System) Lookup(id ActorID) (Actor, bool) {
	if a, exists := s.actors.Load(id); exists {
		return a.(*actor), true
	}
	return nil, false
}

// Stats returns statistics for all live Actors, ordered by ID.
func (s *System) Stats() []ActorStats {
	var stats []ActorStats

	s.actors.Range(func(_, value any) bool {
		stats = append(stats, value.(*actor).Stats())
		return true
	})

	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Shutdown asks every actor to stop and waits for them. If ctx ends first
// the remaining actors are force-stopped and ctx.Err() is returned.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	s.logger.Info("actor system shutting down")

	s.actors.Range(func(_, value any) bool {
		_ = value.(*actor).Stop()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("actor system stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("actor system shutdown timed out, actors force-stopped")
		return ctx.Err()
	}
}

// remove drops a terminated actor from the live table.
func (s *System) remove(a *actor) {
	s.actors.Delete(a.id)
}

package core

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps names to actors.
//
// It only resolves names: it never creates or stops the actors it points
// to. Registering an existing name replaces the binding (last write wins).
// Lookups and registrations are serialized, so a lookup racing a
// registration observes either the old or the new binding, never a mix.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Actor
	logger  *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]Actor),
		logger:  logger,
	}
}

// Register binds name to actor, replacing any previous binding.
func (r *Registry) Register(name string, actor Actor) error {
	if name == "" {
		return ErrInvalidName
	}
	if actor == nil {
		return ErrNilActor
	}

	r.mu.Lock()
	previous, replaced := r.entries[name]
	r.entries[name] = actor
	r.mu.Unlock()

	if replaced && previous.ID() != actor.ID() {
		r.logger.Debug("registry binding replaced",
			zap.String("name", name),
			zap.Uint32("previous_id", uint32(previous.ID())),
			zap.Uint32("actor_id", uint32(actor.ID())))
	}
	return nil
}

// Lookup returns the actor bound to name or a *LookupError.
func (r *Registry) Lookup(name string) (Actor, error) {
	r.mu.RLock()
	actor, exists := r.entries[name]
	r.mu.RUnlock()

	if !exists {
		return nil, &LookupError{Name: name}
	}
	return actor, nil
}

// Unregister removes the binding for name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return &LookupError{Name: name}
	}
	delete(r.entries, name)
	return nil
}

// UnregisterActor removes the binding for name only if it still points at
// actor. It reports whether a binding was removed.
func (r *Registry) UnregisterActor(name string, actor Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entries[name]
	if !exists || actor == nil || current.ID() != actor.ID() {
		return false
	}
	delete(r.entries, name)
	return true
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

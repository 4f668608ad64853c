package core

import (
	"errors"
	"fmt"
)

// Mailbox errors
var (
	ErrMailboxFull           = errors.New("mailbox is full")
	ErrMailboxClosed         = errors.New("mailbox is closed")
	ErrInvalidOverflowPolicy = errors.New("invalid mailbox overflow policy")
)

// Actor and system errors
var (
	ErrActorStopped   = errors.New("actor is not running")
	ErrSystemStopping = errors.New("actor system is shutting down")
	ErrNilBehavior    = errors.New("behavior cannot be nil")
	ErrNilMessage     = errors.New("message cannot be nil")
)

// Registry errors
var (
	ErrNotFound    = errors.New("name not registered")
	ErrInvalidName = errors.New("invalid registry name")
	ErrNilActor    = errors.New("actor cannot be nil")
)

// LookupError reports a registry miss for Name.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %q: %v", e.Name, ErrNotFound)
}

// Is makes errors.Is(err, ErrNotFound) hold for lookup failures.
func (e *LookupError) Is(target error) bool {
	return target == ErrNotFound
}

// ActorFailure is the termination reason of a crashed actor.
type ActorFailure struct {
	ID   ActorID
	Name string

	// Err is the error returned by the behavior, or a wrapper for a panic
	Err error

	// Panic holds the recovered value when the behavior panicked
	Panic any

	// Stack is captured for panics only
	Stack []byte
}

func (e *ActorFailure) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("actor %d (%s) panicked: %v", e.ID, e.Name, e.Panic)
	}
	return fmt.Sprintf("actor %d (%s) failed: %v", e.ID, e.Name, e.Err)
}

func (e *ActorFailure) Unwrap() error {
	return e.Err
}

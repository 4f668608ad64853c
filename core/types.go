package core

import (
	"time"

	"github.com/google/uuid"
)

// ActorID represents a unique identifier for an Actor.
type ActorID uint32

// MessageType defines the category of a message.
type MessageType uint8

const (
	// MessageTypeUser is an application message handed to behaviors
	MessageTypeUser MessageType = iota

	// MessageTypeSystem is a runtime control message (Started, Stop, Terminated, ...)
	MessageTypeSystem
)

// String returns the string representation of MessageType.
func (t MessageType) String() string {
	switch t {
	case MessageTypeUser:
		return "user"
	case MessageTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

// SystemMessage marks payloads that are runtime control signals rather than
// application data. Mailbox limits never apply to them.
type SystemMessage interface {
	SystemMessage()
}

// Message represents communication data between Actors.
//
// A Message is immutable once sent: neither the runtime nor receivers may
// modify it, which is what makes forwarding the same pointer safe.
type Message struct {
	// ID is a unique identifier for this message
	ID string

	// Type indicates the message category
	Type MessageType

	// Sender is the sending Actor, nil when sent from outside the system
	Sender Actor

	// CorrelationID ties together messages belonging to one workflow run
	CorrelationID string

	// Payload is the opaque message content
	Payload any

	// Timestamp when the message was created
	Timestamp time.Time
}

// NewMessage creates a message carrying payload. The type is derived from
// the payload: SystemMessage payloads produce system messages.
func NewMessage(payload any) *Message {
	msg := &Message{
		ID:        uuid.NewString(),
		Type:      MessageTypeUser,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if _, ok := payload.(SystemMessage); ok {
		msg.Type = MessageTypeSystem
	}
	return msg
}

// IsSystem reports whether msg is a runtime control message.
func (m *Message) IsSystem() bool {
	return m.Type == MessageTypeSystem
}

// Started is the first message every actor receives.
type Started struct{}

// Stop asks an actor to finish the messages queued before it and exit.
type Stop struct{}

// Terminated is delivered to monitoring actors when a watched actor ends.
// Reason is nil for a normal stop and an *ActorFailure after a crash.
type Terminated struct {
	ID     ActorID
	Name   string
	Reason error
}

// Rejected is sent back to a message's sender when the receiver refuses it.
type Rejected struct {
	Reason   error
	Original *Message
}

func (Started) SystemMessage()    {}
func (Stop) SystemMessage()       {}
func (Terminated) SystemMessage() {}
func (Rejected) SystemMessage()   {}

// ActorState represents the current state of an Actor.
type ActorState uint8

const (
	// ActorStateIdle means the Actor is waiting for messages
	ActorStateIdle ActorState = iota

	// ActorStateRunning means the Actor is processing a message
	ActorStateRunning

	// ActorStateStopping means the Actor has been asked to stop
	ActorStateStopping

	// ActorStateStopped means the Actor exited normally
	ActorStateStopped

	// ActorStateFailed means the Actor crashed
	ActorStateFailed
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case ActorStateIdle:
		return "idle"
	case ActorStateRunning:
		return "running"
	case ActorStateStopping:
		return "stopping"
	case ActorStateStopped:
		return "stopped"
	case ActorStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the actor has exited.
func (s ActorState) Terminal() bool {
	return s == ActorStateStopped || s == ActorStateFailed
}

// OverflowPolicy decides what a bounded mailbox does when full.
type OverflowPolicy uint8

const (
	// OverflowReject fails the enqueue with ErrMailboxFull
	OverflowReject OverflowPolicy = iota

	// OverflowDropOldest evicts the oldest queued user message
	OverflowDropOldest
)

// String returns the string representation of OverflowPolicy.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowDropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy converts a configuration string to an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "reject":
		return OverflowReject, nil
	case "drop_oldest":
		return OverflowDropOldest, nil
	default:
		return 0, ErrInvalidOverflowPolicy
	}
}

// ActorOptions contains configuration options for creating an Actor.
type ActorOptions struct {
	// Name is a human-readable name for the Actor
	Name string

	// MailboxLimit bounds the mailbox; 0 means unbounded
	MailboxLimit int

	// Overflow applies when MailboxLimit is reached
	Overflow OverflowPolicy

	// ProcessTimeout bounds each Receive call's context; 0 means no timeout
	ProcessTimeout time.Duration
}

// DefaultActorOptions returns the defaults: unbounded mailbox, no timeout.
func DefaultActorOptions() ActorOptions {
	return ActorOptions{}
}

// ActorStats contains runtime statistics for an Actor.
type ActorStats struct {
	// ID of the Actor
	ID ActorID

	// Name of the Actor
	Name string

	// Current state
	State ActorState

	// Total messages processed
	MessagesProcessed uint64

	// Messages currently in mailbox
	MailboxSize int

	// Time when Actor was created
	CreatedAt time.Time

	// Last message processing time
	LastMessageAt time.Time
}

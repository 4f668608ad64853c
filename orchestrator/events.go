package orchestrator

import (
	"time"

	"github.com/najoast/conductor/core"
)

// EventType identifies what happened inside an Orchestrator.
type EventType uint8

const (
	EventAgentStarted EventType = iota
	EventRouted
	EventCompleted
	EventOverrun
	EventRejected
	EventLookupFailed
	EventDeliveryFailed
	EventAgentFailed
	EventAgentStopped
	EventAgentRestarted
	EventHalted
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventAgentStarted:
		return "agent_started"
	case EventRouted:
		return "routed"
	case EventCompleted:
		return "completed"
	case EventOverrun:
		return "overrun"
	case EventRejected:
		return "rejected"
	case EventLookupFailed:
		return "lookup_failed"
	case EventDeliveryFailed:
		return "delivery_failed"
	case EventAgentFailed:
		return "agent_failed"
	case EventAgentStopped:
		return "agent_stopped"
	case EventAgentRestarted:
		return "agent_restarted"
	case EventHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Event is reported to the sink installed with WithEventSink.
type Event struct {
	Type EventType

	// Step is the step the event refers to
	Step int

	// Agent is the workflow agent name, when one is involved
	Agent string

	// Message is the routed or refused message, when one is involved
	Message *core.Message

	// Err carries the failure for error events
	Err error

	Time time.Time
}

// EventSink receives events on the Orchestrator's goroutine. It must not
// block.
type EventSink func(Event)

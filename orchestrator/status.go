package orchestrator

import (
	"context"
	"fmt"

	"github.com/najoast/conductor/core"
)

// Phase is the coarse state of an Orchestrator.
type Phase uint8

const (
	PhaseRunning Phase = iota
	PhaseComplete
	PhaseHalted
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseComplete:
		return "complete"
	case PhaseHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Status is a snapshot of an Orchestrator's routing state.
type Status struct {
	Phase    Phase
	Step     int
	Workflow []string
}

// StatusRequest asks an Orchestrator for its Status. Reply should be
// buffered; the Orchestrator never blocks on it.
type StatusRequest struct {
	Reply chan<- Status
}

// SystemMessage marks StatusRequest as a control message.
func (StatusRequest) SystemMessage() {}

// QueryStatus asks the orchestrator actor ref for its status. The answer
// reflects every message queued before the request.
func QueryStatus(ctx context.Context, ref core.Actor) (Status, error) {
	reply := make(chan Status, 1)
	if err := ref.Send(core.NewMessage(StatusRequest{Reply: reply})); err != nil {
		return Status{}, fmt.Errorf("query status: %w", err)
	}

	select {
	case status := <-reply:
		return status, nil
	case <-ref.Done():
		return Status{}, fmt.Errorf("query status: %w", core.ErrActorStopped)
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

package orchestrator

import (
	"errors"
	"fmt"
)

// Construction errors
var (
	ErrEmptyWorkflow    = errors.New("workflow has no steps")
	ErrInvalidStep      = errors.New("workflow step name is empty")
	ErrNilRegistry      = errors.New("registry cannot be nil")
	ErrInvalidAgentSpec = errors.New("invalid agent spec")
	ErrInvalidPolicy    = errors.New("invalid policy")
)

// Routing errors
var (
	ErrWorkflowOverrun = errors.New("workflow complete, no step left to route to")
	ErrWorkflowHalted  = errors.New("workflow halted after agent failure")
	ErrRestartLimit    = errors.New("agent restart limit exceeded")
)

// EscalationError is the termination reason of an Orchestrator that passed
// an agent failure up instead of handling it.
type EscalationError struct {
	Agent string
	Err   error
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("agent %s failure escalated: %v", e.Agent, e.Err)
}

func (e *EscalationError) Unwrap() error {
	return e.Err
}

// Package orchestrator implements the supervising actor that runs a fixed
// workflow of worker agents.
//
// The Orchestrator holds an ordered list of agent names and a step counter.
// Each user message it receives is forwarded, unchanged, to the agent named
// at the current step (resolved through a core.Registry) and the step
// advances. Agents send their results back to the Orchestrator, so results
// flow up to the supervisor and never directly between workers.
//
// States:
//
//	Running(step)  0 <= step < len(workflow)
//	Complete       step == len(workflow); further messages are overruns
//	Halted         an agent failed under StrategyHalt
//
// The Orchestrator monitors every agent it routes to. What happens when one
// crashes is decided by its SupervisorPolicy: restart the agent from its
// AgentSpec, escalate by failing the Orchestrator itself, or halt the
// workflow. The message that was being processed by a crashed agent is not
// retried.
package orchestrator

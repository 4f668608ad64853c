package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow's Prometheus collectors.
type Metrics struct {
	// StepsRouted counts messages forwarded to an agent.
	// Labels: agent
	StepsRouted *prometheus.CounterVec

	// WorkflowsCompleted counts workflows that routed their last step.
	WorkflowsCompleted prometheus.Counter

	// Overruns counts messages received after completion or halt.
	// Labels: phase (complete, halted)
	Overruns *prometheus.CounterVec

	// LookupFailures counts steps whose agent name was unbound.
	LookupFailures prometheus.Counter

	// AgentFailures counts agents that crashed.
	// Labels: agent
	AgentFailures *prometheus.CounterVec

	// AgentRestarts counts agents respawned by the supervisor.
	// Labels: agent
	AgentRestarts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		StepsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "steps_routed_total",
			Help:      "Total number of messages routed to workflow agents",
		}, []string{"agent"}),
		WorkflowsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "completed_total",
			Help:      "Total number of workflows that routed every step",
		}),
		Overruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "overruns_total",
			Help:      "Total number of messages received with no step left to route to",
		}, []string{"phase"}),
		LookupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "lookup_failures_total",
			Help:      "Total number of workflow steps whose agent was not registered",
		}),
		AgentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "agent_failures_total",
			Help:      "Total number of agent crashes seen by the supervisor",
		}, []string{"agent"}),
		AgentRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "agent_restarts_total",
			Help:      "Total number of agents restarted by the supervisor",
		}, []string{"agent"}),
	}
}

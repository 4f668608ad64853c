package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors.
type Metrics struct {
	// ActorsSpawned counts spawned actors.
	ActorsSpawned prometheus.Counter

	// ActorsTerminated counts terminated actors.
	// Labels: reason (stopped, failed)
	ActorsTerminated *prometheus.CounterVec

	// ActorsLive tracks actors currently running.
	ActorsLive prometheus.Gauge

	// MessagesEnqueued counts messages accepted by a mailbox.
	MessagesEnqueued prometheus.Counter

	// MessagesRejected counts sends refused by a full or closed mailbox.
	MessagesRejected prometheus.Counter

	// MessagesDropped counts messages evicted by drop-oldest mailboxes.
	MessagesDropped prometheus.Counter

	// MessagesDiscarded counts messages pending when their actor ended.
	MessagesDiscarded prometheus.Counter

	// MessagesProcessed counts Receive calls.
	// Labels: result (ok, error)
	MessagesProcessed *prometheus.CounterVec

	// ProcessDuration tracks how long Receive calls take.
	ProcessDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and embedded uses want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ActorsSpawned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "actor",
			Name:      "spawned_total",
			Help:      "Total number of actors spawned",
		}),
		ActorsTerminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "actor",
			Name:      "terminated_total",
			Help:      "Total number of terminated actors by reason",
		}, []string{"reason"}),
		ActorsLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "actor",
			Name:      "live",
			Help:      "Number of actors currently running",
		}),
		MessagesEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "mailbox",
			Name:      "enqueued_total",
			Help:      "Total number of messages accepted by mailboxes",
		}),
		MessagesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "mailbox",
			Name:      "rejected_total",
			Help:      "Total number of sends refused by full or closed mailboxes",
		}),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "mailbox",
			Name:      "dropped_total",
			Help:      "Total number of messages evicted by drop-oldest mailboxes",
		}),
		MessagesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "mailbox",
			Name:      "discarded_total",
			Help:      "Total number of messages still queued when their actor terminated",
		}),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "actor",
			Name:      "messages_processed_total",
			Help:      "Total number of messages handed to behaviors by result",
		}, []string{"result"}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "actor",
			Name:      "process_duration_seconds",
			Help:      "Duration of behavior Receive calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

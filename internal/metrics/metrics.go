// Package metrics holds the prometheus collectors shared by the loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jarvis"

// Metrics groups every collector the dispatcher exports.
type Metrics struct {
	UpdatesReceived prometheus.Counter
	HealthReplies   prometheus.Counter
	PollErrors      prometheus.Counter
	QueueDepth      prometheus.Gauge

	Events              *prometheus.CounterVec
	DuplicateEvents     prometheus.Counter
	ActiveConversations prometheus.Gauge

	OutboundCalls   *prometheus.CounterVec
	OutboundRetries *prometheus.CounterVec
	OutboundChunks  prometheus.Counter

	GCDeleted     prometheus.Counter
	FlushFailures prometheus.Counter
}

// New builds the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "updates_total",
			Help: "Updates returned by getUpdates.",
		}),
		HealthReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "health_replies_total",
			Help: "Health-check texts answered without queueing.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "poll_errors_total",
			Help: "Failed getUpdates calls.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "queue_depth",
			Help: "Messages waiting in the FIFO.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "events_total",
			Help: "Dispatched events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "duplicate_events_total",
			Help: "Events dropped because their update id was already processed.",
		}),
		ActiveConversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "active_conversations",
			Help: "Conversations attached to chats.",
		}),
		OutboundCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbound", Name: "calls_total",
			Help: "Bot API calls by method and outcome.",
		}, []string{"method", "outcome"}),
		OutboundRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbound", Name: "retries_total",
			Help: "Retried Bot API calls by reason.",
		}, []string{"reason"}),
		OutboundChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "outbound", Name: "chunks_total",
			Help: "Extra messages produced by splitting long texts.",
		}),
		GCDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "gc_deleted_total",
			Help: "Conversations removed by garbage collection.",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "flush_failures_total",
			Help: "Conversation records that failed to persist.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UpdatesReceived, m.HealthReplies, m.PollErrors, m.QueueDepth,
			m.Events, m.DuplicateEvents, m.ActiveConversations,
			m.OutboundCalls, m.OutboundRetries, m.OutboundChunks,
			m.GCDeleted, m.FlushFailures,
		)
	}
	return m
}

// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// InquiriesTotal tracks inquiries created on the backend.
	InquiriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiries_total",
			Help: "Total inquiries created",
		},
		[]string{"priority"},
	)

	// MessagesTotal tracks messages persisted on the backend.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiry_messages_total",
			Help: "Total inquiry messages sent",
		},
		[]string{"role"},
	)

	// StatusTransitionsTotal tracks accepted status changes.
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiry_status_transitions_total",
			Help: "Total inquiry status transitions",
		},
		[]string{"from", "to"},
	)

	// OptimisticSendsTotal tracks client-side optimistic sends by outcome
	// (confirmed, rolled_back, rejected).
	OptimisticSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiry_optimistic_sends_total",
			Help: "Optimistic message sends by outcome",
		},
		[]string{"outcome"},
	)

	// RepositoryCallDuration tracks repository client round trips.
	RepositoryCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inquiry_repository_call_duration_seconds",
			Help:    "Repository client call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)

	// UnreadPollsTotal tracks unread badge polls by outcome.
	UnreadPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquiry_unread_polls_total",
			Help: "Unread counter polls by outcome",
		},
		[]string{"outcome"},
	)

	// UnreadCounts is the distribution of unread counts returned to pollers.
	UnreadCounts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquiry_unread_count",
			Help:    "Unread message counts observed by pollers",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// EventStreamMessages tracks messages in the inquiry event stream.
	EventStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRepositoryCall records a repository client round trip.
func RecordRepositoryCall(op string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RepositoryCallDuration.WithLabelValues(op, status).Observe(duration)
}

// RecordSend records the outcome of an optimistic send.
func RecordSend(outcome string) {
	OptimisticSendsTotal.WithLabelValues(outcome).Inc()
}

// RecordUnreadPoll records one unread poll; count is only exported on success.
func RecordUnreadPoll(count int, err error) {
	if err != nil {
		UnreadPollsTotal.WithLabelValues("error").Inc()
		return
	}
	UnreadPollsTotal.WithLabelValues("ok").Inc()
	UnreadCounts.Observe(float64(count))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatty"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages persisted, by sender",
		},
		[]string{"sender"},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "LLM provider calls by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "duration_seconds",
			Help:      "LLM provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "runs_total",
			Help:      "Periodic task runs by task and outcome",
		},
		[]string{"task", "status"},
	)

	TaskItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "items_total",
			Help:      "Conversations handled by periodic tasks",
		},
		[]string{"task", "status"},
	)

	IntelligenceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intelligence",
			Name:      "updates_total",
			Help:      "User intelligence records created or updated, by category",
		},
		[]string{"category"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, route, status string, durationSec float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

func RecordMessage(sender string) {
	MessagesTotal.WithLabelValues(sender).Inc()
}

// RecordProviderCall records one LLM call.
func RecordProviderCall(provider string, err error, durationSec float64) {
	ProviderRequestsTotal.WithLabelValues(provider, statusLabel(err)).Inc()
	ProviderDuration.WithLabelValues(provider).Observe(durationSec)
}

func RecordTaskRun(task string, err error) {
	TaskRunsTotal.WithLabelValues(task, statusLabel(err)).Inc()
}

// RecordTaskItem records the outcome for a single conversation within a task run.
func RecordTaskItem(task, status string) {
	TaskItemsTotal.WithLabelValues(task, status).Inc()
}

func RecordIntelligenceUpdate(category string) {
	IntelligenceUpdatesTotal.WithLabelValues(category).Inc()
}

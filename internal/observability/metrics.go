package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SurveysCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "surveys_created_total", Help: "Attendance surveys opened"})
	SurveysExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "surveys_expired_total", Help: "Surveys expired by the deadline sweep"})
	RemindersSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "reminders_sent_total", Help: "Non-responder reminder rounds sent"})
	SweepItemErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "sweep_item_errors_total", Help: "Per-ride failures skipped during sweeps"})

	ResponsesAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "responses_accepted_total", Help: "Attendance reports accepted"})
	ResponsesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_consensus", Name: "responses_rejected_total", Help: "Attendance reports rejected"},
		[]string{"reason"},
	)

	ConsensusRuns      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "consensus_runs_total", Help: "Consensus resolutions performed"})
	ConsensusLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_consensus", Name: "consensus_latency_seconds", Help: "Consensus resolution latency"})
	CompletionsWritten = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "completions_written_total", Help: "Ride completion ledger rows written"})

	NotificationsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "notifications_published_total", Help: "Notifications handed to a dispatch sink"})
	NotificationsFailed    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_consensus", Name: "notifications_failed_total", Help: "Notification dispatch failures (swallowed)"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_consensus", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_consensus",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

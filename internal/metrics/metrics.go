package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlatformPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "publisher",
			Name:      "platform_publish_total",
			Help:      "Per platform publish outcomes",
		},
		[]string{"platform", "status", "code"},
	)

	PlatformPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "postflow",
			Subsystem: "publisher",
			Name:      "platform_publish_duration_seconds",
			Help:      "Duration of a single platform publish including media preparation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"platform"},
	)

	PostsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "publisher",
			Name:      "posts_completed_total",
			Help:      "Posts that finished processing by final status",
		},
		[]string{"status"},
	)

	PlatformRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "platform_api",
			Name:      "requests_total",
			Help:      "Outbound platform API requests",
		},
		[]string{"platform", "outcome"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "tokens",
			Name:      "refresh_total",
			Help:      "Token refresh attempts",
		},
		[]string{"platform", "status"},
	)

	SchedulerDueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "scheduler",
			Name:      "due_posts_total",
			Help:      "Due scheduled posts handed to the publish queue",
		},
	)

	SchedulerReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "scheduler",
			Name:      "reaped_posts_total",
			Help:      "Posts failed after staying in processing past the stale timeout",
		},
	)

	SchedulerSweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "scheduler",
			Name:      "sweep_errors_total",
			Help:      "Scheduler sweeps that failed and will be retried on the next tick",
		},
	)

	MediaNormalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postflow",
			Subsystem: "media",
			Name:      "normalize_total",
			Help:      "Media normalization outcomes",
		},
		[]string{"status"},
	)
)

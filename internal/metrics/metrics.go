// Package metrics declares the Prometheus collectors exported by the
// server: job lifecycle counters, webhook delivery outcomes, and queue
// depth. Collectors are registered process-wide via promauto and scraped
// through the /metrics endpoint the API router exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetablex_jobs_submitted_total",
		Help: "Total number of jobs accepted through the submission endpoint.",
	})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetablex_jobs_completed_total",
		Help: "Total number of jobs that reached a terminal status.",
	}, []string{"status"}) // completed, failed, cancelled

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timetablex_job_duration_seconds",
		Help:    "Wall-clock time from a job's startedAt to its completedAt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "complexity"})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetablex_retry_attempts_total",
		Help: "Total number of extraction retry attempts recorded across all jobs.",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetablex_webhook_deliveries_total",
		Help: "Total webhook delivery attempts, partitioned by outcome.",
	}, []string{"outcome"}) // delivered, failed, exhausted

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timetablex_queue_depth",
		Help: "Jobs currently visible in the job queue, sampled on each sweep.",
	})
)

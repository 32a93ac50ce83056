package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_tasks_created_total",
		Help: "Total number of tasks accepted",
	})

	TasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_download_tasks_rejected_total",
		Help: "Total number of submissions rejected, by reason",
	}, []string{"reason"})

	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_tasks_claimed_total",
		Help: "Total number of task claims handed to workers, redeliveries included",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_tasks_completed_total",
		Help: "Total number of tasks completed",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_tasks_failed_total",
		Help: "Total number of tasks failed",
	})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_download_tasks_in_flight",
		Help: "Number of tasks currently being executed",
	})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_downloads_total",
		Help: "Total number of fetch attempts, retries included",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offline_download_download_duration_seconds",
		Help:    "Duration of a task execution in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_download_bytes_total",
		Help: "Total bytes written into repositories",
	})

	AdminTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_admin_tasks_dropped_total",
		Help: "Tasks left out of the admin listing because their repository lookup failed",
	})

	RequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_download_requests_throttled_total",
		Help: "Total number of requests rejected by the per-user rate limit",
	})
)

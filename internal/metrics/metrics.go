package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_tasks_succeeded_total",
		Help: "Total number of tasks that produced an output file",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_tasks_failed_total",
		Help: "Total number of tasks that reached a terminal failure",
	})

	TasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_tasks_skipped_total",
		Help: "Total number of tasks skipped (disabled, duplicate or cancelled)",
	})

	Attempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_attempts_total",
		Help: "Total number of resolve+fetch attempts",
	})

	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_retries_total",
		Help: "Total number of retried attempts after a transient failure",
	})

	HTTPRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_http_requests_total",
		Help: "Total number of upstream HTTP requests issued",
	})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "danmuget_task_duration_seconds",
		Help:    "End-to-end task duration (resolve, fetch, write) in seconds",
		Buckets: prometheus.DefBuckets,
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "danmuget_bytes_written_total",
		Help: "Total payload bytes written to output files",
	})
)

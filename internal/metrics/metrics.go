package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_jobs_finished_total",
		Help: "Ingestion jobs that reached a terminal state, labelled by source and status.",
	}, []string{"source", "status"})

	JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_jobs_rejected_total",
		Help: "Job requests refused before a job was created, labelled by reason.",
	}, []string{"reason"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersync_job_duration_seconds",
		Help:    "Wall-clock time from job start to terminal state.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"source"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersync_active_jobs",
		Help: "Jobs currently holding a connection.",
	})

	RowsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_rows_parsed_total",
		Help: "File rows parsed, labelled by result (valid or invalid).",
	}, []string{"result"})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_records_written_total",
		Help: "Ledger records written, labelled by kind and operation.",
	}, []string{"kind", "op"})

	SyncPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_sync_pages_total",
		Help: "Provider pages processed, labelled by provider and result.",
	}, []string{"provider", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_http_requests_total",
		Help: "HTTP requests, labelled by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersync_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

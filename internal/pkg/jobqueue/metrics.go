package jobqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_jobs_total",
		Help: "Processed jobs by queue, job name and outcome.",
	}, []string{"queue", "job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_job_duration_seconds",
		Help:    "Job handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "job"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_events_ingested_total",
		Help: "Total raw events appended, labelled by source type.",
	}, []string{"source_type"})

	EventsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_events_validated_total",
		Help: "Total raw events handled by the validator, labelled by source type and outcome.",
	}, []string{"source_type", "outcome"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_job_runs_total",
		Help: "Total scheduled job runs, labelled by job and status.",
	}, []string{"job", "status"})

	JobSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medallion_job_skipped_total",
		Help: "Total scheduler ticks skipped because the job was already running.",
	}, []string{"job"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medallion_job_duration_seconds",
		Help:    "Wall-clock duration of completed job runs.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"job"})

	RawBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medallion_raw_backlog",
		Help: "Unprocessed raw events older than the backlog age, labelled by source type.",
	}, []string{"source_type"})

	SnapshotAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medallion_snapshot_age_seconds",
		Help: "Age of each aggregate job's live snapshot.",
	}, []string{"job"})

	SnapshotRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "medallion_snapshot_rows",
		Help: "Row count of each aggregate job's live snapshot.",
	}, []string{"job"})
)

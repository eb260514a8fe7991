// Package metrics declares the Prometheus collectors shared by every binary.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline
	CandidatesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_candidates_ingested_total",
			Help: "Raw candidates handed to the pipeline",
		},
		[]string{"source"},
	)

	GroupsFormed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_groups_per_batch",
			Help:    "Number of dedupe groups produced per ingested batch",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	EventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_stored_total",
			Help: "Canonical events written to the hot tier",
		},
		[]string{"category", "severity"},
	)

	// Enrichment
	EnrichmentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_enrichment_calls_total",
			Help: "Enrichment gateway calls by operation and outcome (ok, fallback)",
		},
		[]string{"operation", "outcome"},
	)

	EnrichmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_enrichment_duration_seconds",
			Help:    "Latency of enrichment gateway calls including fallbacks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	// Store
	ColdWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_cold_write_failures_total",
			Help: "Asynchronous cold-tier appends that failed and were dropped",
		},
	)

	ReadFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_read_fallbacks_total",
			Help: "Reads served from the cold tier, by reason",
		},
		[]string{"reason"},
	)

	HotSweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_hot_sweep_deleted_total",
			Help: "Expired hot-tier records removed by the sweep",
		},
	)

	// Scheduler
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_fetches_total",
			Help: "Per-location fetch attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_tick_duration_seconds",
			Help:    "Wall time of a scheduler tick until every location run finished",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	EmergencyAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_emergency_alerts_total",
			Help: "CRITICAL candidates short-circuited to fan-out by the emergency sweep",
		},
	)

	// Fan-out
	FanoutDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_fanout_delivered_total",
			Help: "Messages delivered to subscribers by topic",
		},
		[]string{"topic"},
	)

	FanoutDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_fanout_dropped_total",
			Help: "Subscribers removed by reason (full, idle, closed)",
		},
		[]string{"reason"},
	)

	Subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_fanout_subscribers",
			Help: "Live subscribers per topic",
		},
		[]string{"topic"},
	)
)

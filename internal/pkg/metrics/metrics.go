package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for AuditRecords.
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

var (
	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqaudit_records_total",
		Help: "Audit records by capture outcome",
	}, []string{"outcome"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reqaudit_request_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})

	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqaudit_responses_total",
		Help: "Responses by route template and status class",
	}, []string{"endpoint", "class"})

	StoreWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reqaudit_store_write_seconds",
		Help:    "Time spent appending one audit record",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	PurgedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqaudit_purged_records_total",
		Help: "Records removed by retention or administrative purge",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqaudit_stream_clients",
		Help: "Connected live-tail websocket clients",
	})
)

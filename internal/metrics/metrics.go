// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectionCommits counts committed mutations per collection.
	CollectionCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_collection_commits_total",
		Help: "Mutations persisted and committed, by collection",
	}, []string{"collection"})

	// PersistFailures counts snapshot writes that the backend rejected.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_collection_persist_failures_total",
		Help: "Snapshot writes rejected by the storage backend, by collection",
	}, []string{"collection"})

	// RecordOperations counts record store operations by kind.
	RecordOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_record_operations_total",
		Help: "Record store operations, by operation",
	}, []string{"operation"})

	// IngestedReadings counts readings received from devices.
	IngestedReadings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_ingested_readings_total",
		Help: "Device readings received, by source and result",
	}, []string{"source", "result"})

	// SuggestionRequests counts calls to the suggestion generator.
	SuggestionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_suggestion_requests_total",
		Help: "Suggestion generator calls, by result",
	}, []string{"result"})

	// QueryDuration observes search latency.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dashboard_query_duration_seconds",
		Help:    "Time spent scoping, filtering and paginating a search",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

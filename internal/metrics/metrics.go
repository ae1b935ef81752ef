// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package metrics provides Prometheus instrumentation for:
//   - Mixpanel API request latency, status, and retry behavior
//   - Circuit breaker state
//   - Local store ingestion and query performance
//   - Fetch operations and discovery cache efficiency
//
// The library updates these collectors unconditionally; exposing them
// (promhttp or push) is the host application's concern.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Client Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixpanel_api_requests_total",
			Help: "Total number of Mixpanel API requests",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mixpanel_api_request_duration_seconds",
			Help:    "Mixpanel API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)

	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixpanel_api_retries_total",
			Help: "Total number of retried Mixpanel API requests",
		},
		[]string{"endpoint", "reason"}, // "rate_limited", "server_error", "transport"
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixpanel_api_rate_limit_hits_total",
			Help: "Total number of HTTP 429 responses from Mixpanel",
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Store Metrics
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	StoreRowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_rows_inserted_total",
			Help: "Total number of rows inserted into local tables",
		},
		[]string{"table_type"}, // "events", "profiles"
	)

	StoreRowsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_rows_deduplicated_total",
			Help: "Total number of rows skipped as duplicates during ingestion",
		},
		[]string{"table_type"},
	)

	StoreBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_ingest_batch_size",
			Help:    "Number of rows in ingestion batches",
			Buckets: []float64{100, 250, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	// Fetch Metrics
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of fetch operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	FetchRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_rows_total",
			Help: "Total number of rows fetched from Mixpanel",
		},
		[]string{"type"}, // "events", "profiles"
	)

	FetchChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_chunks_total",
			Help: "Total number of parallel fetch chunks by outcome",
		},
		[]string{"outcome"}, // "ok", "failed"
	)

	// Discovery Cache Metrics
	DiscoveryCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_cache_hits_total",
			Help: "Total number of discovery cache hits",
		},
	)

	DiscoveryCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_cache_misses_total",
			Help: "Total number of discovery cache misses",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIRetry records one retry attempt and its reason.
func RecordAPIRetry(endpoint, reason string) {
	APIRetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// RecordRateLimitHit records an HTTP 429 observed for an endpoint.
func RecordRateLimitHit(endpoint string) {
	APIRateLimitHits.WithLabelValues(endpoint).Inc()
}

// SetCircuitBreakerState maps a breaker state name onto the gauge.
func SetCircuitBreakerState(name, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	default: // closed
		value = 0
	}
	CircuitBreakerState.WithLabelValues(name).Set(value)
}

// RecordStoreQuery records a local query metric.
func RecordStoreQuery(operation, table string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordIngestBatch records one committed ingestion batch.
func RecordIngestBatch(tableType string, inserted, deduplicated int) {
	StoreRowsInserted.WithLabelValues(tableType).Add(float64(inserted))
	StoreRowsDeduplicated.WithLabelValues(tableType).Add(float64(deduplicated))
	StoreBatchSize.Observe(float64(inserted + deduplicated))
}

// RecordFetch records one completed fetch operation.
func RecordFetch(fetchType string, rows int64, duration time.Duration) {
	FetchDuration.Observe(duration.Seconds())
	FetchRowsTotal.WithLabelValues(fetchType).Add(float64(rows))
}

// RecordFetchChunk records a parallel chunk outcome.
func RecordFetchChunk(failed bool) {
	if failed {
		FetchChunksTotal.WithLabelValues("failed").Inc()
		return
	}
	FetchChunksTotal.WithLabelValues("ok").Inc()
}

// RecordDiscoveryCache records one discovery lookup outcome.
func RecordDiscoveryCache(hit bool) {
	if hit {
		DiscoveryCacheHits.Inc()
		return
	}
	DiscoveryCacheMisses.Inc()
}

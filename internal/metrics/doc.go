/*
Package metrics provides comprehensive metrics collection and monitoring for ObjectFS.

# Overview

The metrics package implements Prometheus-based metrics collection for ObjectFS operations,
cache performance, errors, and system resources. It provides both real-time Prometheus
metrics and historical tracking for debugging and analysis.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: The main metrics collector that aggregates and exports metrics.
It maintains both Prometheus metrics (for monitoring systems) and internal
operation tracking (for debugging).

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Addr:      ":9090",
		Path:      "/metrics",
		Namespace: "objectfs",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

The collector tracks operations with timing, size, and success/failure status:

	startTime := time.Now()
	data, err := performOperation()
	duration := time.Since(startTime)

	collector.RecordOperation("read", duration, int64(len(data)), err == nil)

# Cache Metrics

Track the directory-listing cache's hit rate and entry count:

	// Cache hit
	collector.RecordCacheHit("/some/dir", 0)

	// Cache miss
	collector.RecordCacheMiss("/some/dir", 0)

	// Update cache size (periodically)
	collector.UpdateCacheSize("dircache", currentEntryCount)

# Error Tracking

Record and classify errors for monitoring and alerting:

	if err != nil {
		collector.RecordError("write", err)
		return err
	}

# Prometheus Metrics

The collector exports standard Prometheus metrics:

Counters:
  - objectfs_operations_total{operation,status}: Total FUSE callbacks by name and status
  - objectfs_cache_requests_total{type,source}: Directory-cache hits/misses
  - objectfs_errors_total{operation,type}: Errors by operation and classification

Histograms:
  - objectfs_operation_duration_seconds{operation}: Operation latency distribution
  - objectfs_operation_size_bytes{operation}: Operation size distribution

Gauges:
  - objectfs_cache_size_bytes{level}: Current directory-cache entry count
  - objectfs_active_connections: Current active storage-node/tracker connections

# Detailed Performance Tracking

DetailedPerformanceMetrics is a second, independent tracker for per-operation
latency (min/max/average), per-file hot-path accounting, and cache-breakdown
by operation type — data the Prometheus Collector doesn't expose. The
P50Latency/P95Latency/P99Latency fields of DetailedOperationMetrics are not
filled in by RecordOperation and stay zero. It is wired
in alongside the Collector, sharing the same enable flag:

	dpm := metrics.NewDetailedPerformanceMetrics(10000, true) // track up to 10000 files
	dpm.RecordOperation(metrics.OpRead, "/some/file", duration, bytes, metrics.CacheSourceBackend, err)
	summary := dpm.GetSummary()
	topFiles := dpm.GetTopFiles(10)

# HTTP Endpoints

The metrics server exposes several endpoints:

/metrics - Prometheus-formatted metrics (for scraping)

	curl http://localhost:9090/metrics

/health - Health check endpoint

	curl http://localhost:9090/health
	{"status":"healthy","service":"objectfs-metrics"}

/debug/metrics - Human-readable metrics summary

	curl http://localhost:9090/debug/metrics
	{
	  "uptime": "2h15m30.412093817s",
	  "last_reset": "2024-01-15 08:00:00.123456789 +0000 UTC m=+0.000061201",
	  "operations": {
	    "read": {
	      "count": 15234,
	      "errors": 12,
	      "avg_duration": "45ms",
	      "avg_size": 524288.00
	    }
	  }
	}

/debug/operations - Tabular operations summary

	curl http://localhost:9090/debug/operations
	ObjectFS Operations Summary
	==========================

	Uptime: 2h15m30.412093817s
	Last Reset: 2024-01-15 08:00:00.123456789 +0000 UTC m=+0.000061201

	Operation                 Count     Errors Avg Duration     Avg Size    Last Op
	----------                -----     ------ ------------     --------    -------
	read                      15234         12         45ms       524288   10:15:30
	write                      8901          3         89ms      1048576   10:15:29

# Configuration

The Config struct controls metrics behavior:

	config := &metrics.Config{
		Enabled:        true,              // Enable/disable metrics collection
		Addr:           ":9090",           // HTTP listen address
		Path:           "/metrics",        // Prometheus metrics endpoint path
		Namespace:      "objectfs",        // Prometheus namespace
		Subsystem:      "",                // Optional subsystem prefix
		UpdateInterval: 30 * time.Second,  // Periodic update interval
		Labels:         map[string]string{ // Accepted, but not applied to the exported metrics
			"env":     "production",
			"region":  "us-east-1",
			"version": "v0.2.0",
		},
	}

# Best Practices

1. Operation Recording
Record all significant operations (reads, writes, deletes, etc.) with accurate
timing and size information. Use consistent operation names across the codebase.

2. Cache Metrics
Update cache metrics regularly to provide accurate size and hit rate data.
Consider recording cache metrics after each cache operation or on a timer.

3. Error Classification
Record all errors with meaningful operation context. The collector automatically
classifies errors (timeout, connection, not_found, permission, throttling) for
better monitoring and alerting.

4. Resource Limits
Be mindful of metric cardinality. Avoid high-cardinality labels (like user IDs
or file paths) that can explode the metric count and impact Prometheus performance.

5. Debugging
Use the /debug/* endpoints for troubleshooting without requiring Prometheus.
These endpoints provide human-readable summaries of current system state.

# Performance Considerations

What a recording call costs:

- Prometheus vectors are updated synchronously on every Record/Update call
- RecordOperation takes the collector's mutex to update its per-operation
  map; GetMetrics and the debug handlers take the read lock
- UpdateInterval sets the tick of the background loop Start launches
- A disabled collector returns immediately from every Record/Update method

# Thread Safety

All Collector methods are thread-safe and can be called concurrently from
multiple goroutines. The collector uses RWMutex for efficient concurrent access.

# Integration with Monitoring Systems

Prometheus Setup:

	scrape_configs:
	  - job_name: 'objectfs'
	    static_configs:
	      - targets: ['localhost:9090']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

Grafana Dashboards:

The exported metrics are compatible with standard Grafana dashboards for:
- RED metrics (Rate, Errors, Duration)
- Cache performance analysis
- Resource utilization trending
- Error rate alerting

# Example Usage

Complete example of metrics integration:

	package main

	import (
		"context"
		"log"
		"time"

		"github.com/objectfs/objectfs-fuse/internal/metrics"
	)

	func main() {
		// Create metrics collector
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "objectfs",
			Labels: map[string]string{
				"instance": "primary",
			},
		})
		if err != nil {
			log.Fatal(err)
		}

		// Start metrics server
		ctx := context.Background()
		if err := collector.Start(ctx); err != nil {
			log.Fatal(err)
		}
		defer collector.Stop(ctx)

		// Record operations
		for {
			start := time.Now()
			err := performWork()
			duration := time.Since(start)

			collector.RecordOperation("work", duration, 1024, err == nil)
			if err != nil {
				collector.RecordError("work", err)
			}

			time.Sleep(time.Second)
		}
	}

	func performWork() error {
		// Your operation here
		return nil
	}

# See Also

- internal/fuse: the dispatcher callbacks this collector instruments
- internal/circuit: circuit breaker for reliability
- pkg/errors: structured error handling

For more information on Prometheus metrics and best practices, see:
https://prometheus.io/docs/practices/naming/
*/
package metrics

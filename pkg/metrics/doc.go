/*
Package metrics provides Prometheus metrics collection and exposition
for the orchestrator.

The metrics package defines and registers every orchestrator metric
using the Prometheus client library, and exposes a standard /metrics
HTTP handler plus a small health-check subsystem (health.go) used by
the Transport Surface's /health, /ready, and /live endpoints.

Metrics follow Prometheus best practices: counters only increase,
gauges reflect current state, and histograms bucket durations for
percentile queries. Every metric is registered once via package-level
vars and an init() MustRegister block, so importing this package is
enough to make a subsystem's metrics visible on /metrics.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         Prometheus Registry (default)        │          │
	│  │  - WorkersTotal, WorkersSpawnedTotal, ...     │          │
	│  │  - Registered once in init()                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Handler()                      │          │
	│  │  - promhttp.Handler(), mounted at /metrics   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Health Checker (health.go)          │          │
	│  │  - RegisterComponent(name, healthy, msg)     │          │
	│  │  - HealthHandler/ReadyHandler/LivenessHandler│          │
	│  └────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────┘

# Metric Catalog

Worker Lifecycle (pkg/registry, pkg/supervisor):

	orchestrator_workers_total{status}
	  - Gauge: currently registered workers by status
	  - Example: orchestrator_workers_total{status="active"} 3

	orchestrator_workers_spawned_total
	  - Counter: cumulative worker spawns

	orchestrator_workers_terminated_total{reason}
	  - Counter: terminations by reason (user_initiated,
	    timeout, memory_limit, shutdown, or any other reason
	    passed to Terminate; plus exit_failure, counted whenever
	    a child's exit is recorded as failed)

	orchestrator_worker_spawn_duration_seconds
	  - Histogram: time from Spawn() call to child process start

Resource Monitor (pkg/resourcemon):

	orchestrator_worker_memory_bytes{worker_id}
	orchestrator_worker_cpu_percent{worker_id}
	  - Gauges: last sample per tracked worker

Message Bus (pkg/messagebus):

	orchestrator_queue_depth{worker_id}
	  - Gauge: pending messages per worker queue

	orchestrator_messages_delivered_total
	orchestrator_message_retries_total
	orchestrator_messages_failed_total
	  - Counters: cumulative delivery outcomes

Coordinator (pkg/coordinator):

	orchestrator_barriers_total{outcome}
	orchestrator_elections_total{outcome}
	  - Counters: resolved barriers/elections by outcome
	    (barriers: complete/timeout; elections: completed/timeout)

Consolidation (pkg/consolidator):

	orchestrator_consolidation_duration_seconds{phase}
	  - Histogram: time per phase (analyze, export)

	orchestrator_conflicts_detected_total{type}
	  - Counter: conflicts by type (same-line, delete-modify,
	    import-conflict, export-conflict, structural)

	orchestrator_consolidations_total{status}
	  - Counter: terminal outcomes (created, completed, partial_failure)

Transport Surface (pkg/transport):

	orchestrator_api_requests_total{method, status}
	orchestrator_api_request_duration_seconds{method}
	  - Counter/histogram: request volume and latency per HTTP method

# Usage

Incrementing a counter:

	metrics.WorkersSpawnedTotal.Inc()
	metrics.WorkersTerminatedTotal.WithLabelValues("timeout").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ConsolidationDuration, "analyze")

Mounting the handler:

	r.Get("/metrics", metrics.Handler().ServeHTTP)

Registering component health at startup:

	metrics.SetVersion("0.1.0")
	metrics.RegisterComponent("registry", true, "started")
	metrics.RegisterComponent("supervisor", true, "started")

# Suggested Queries

  - Total registered workers: sum(orchestrator_workers_total)
  - Active workers: orchestrator_workers_total{status="active"}
  - Termination rate: rate(orchestrator_workers_terminated_total[5m])
  - Request rate: rate(orchestrator_api_requests_total[1m])
  - Error rate: rate(orchestrator_api_requests_total{status=~"5.."}[1m])
  - p95 request latency: histogram_quantile(0.95,
    orchestrator_api_request_duration_seconds_bucket)
  - Conflict rate by type: rate(orchestrator_conflicts_detected_total[5m])
  - p95 export latency: histogram_quantile(0.95,
    orchestrator_consolidation_duration_seconds_bucket{phase="export"})

# Suggested Alerts

High Termination Rate:
  - Alert: rate(orchestrator_workers_terminated_total{reason="memory_limit"}[5m]) > 0.1
  - Description: workers are being killed for exceeding the memory limit
    faster than expected; check for a runaway agent process.

Message Delivery Failures:
  - Alert: rate(orchestrator_messages_failed_total[5m]) > 0
  - Description: a worker's stdin is not accepting deliveries after
    exhausting the retry budget; check whether the worker process is
    still alive.

Slow API:
  - Alert: histogram_quantile(0.95, orchestrator_api_request_duration_seconds_bucket) > 1
  - Action: check consolidator Analyze/Export load — both run on the
    request goroutine.

# See Also

  - the packages named in each Metric Catalog heading for where those
    metrics are updated
  - pkg/transport for the /metrics, /health, /ready, /live mounts
*/
package metrics

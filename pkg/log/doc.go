/*
Package log provides structured logging for the orchestrator using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, a configurable level, and helper functions
for the common per-entity logging patterns (worker, consolidation,
message). All logs include a timestamp and support filtering by
severity for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog.Logger instance                  │          │
	│  │  - Initialized via log.Init(cfg)             │          │
	│  │  - Safe for concurrent use                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error              │          │
	│  │  - Console: human-readable (default)         │          │
	│  │  - JSON: structured output (--log-json)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("supervisor")                │          │
	│  │  - WithWorkerID("worker-abc123")              │          │
	│  │  - WithConsolidationID("con-xyz")             │          │
	│  │  - WithMessageID("msg-def456")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                                │          │
	│  │    {"level":"info","component":"supervisor", │          │
	│  │     "worker_id":"worker-1","time":"...",     │          │
	│  │     "message":"worker spawned"}              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Usage

Initializing at startup:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

Component-scoped logging:

	logger := log.WithComponent("supervisor")
	logger.Info().Str("worker_id", worker.ID).Msg("worker spawned")

Entity-scoped logging:

	log.WithWorkerID(worker.ID).Warn().
		Str("reason", string(types.ReasonTimeout)).
		Msg("terminating worker")

Package-level convenience helpers:

	log.Info("orchestratord starting")
	log.Error("failed to bind listener")

# Conventions

Every log entry at info level or above that concerns a specific worker,
message, or consolidation carries that entity's id as a structured
field rather than interpolating it into the message string — this keeps
log lines greppable and lets downstream log aggregation group by id.

# Integration Points

This package integrates with:

  - pkg/registry, pkg/consolidator, pkg/resourcemon, pkg/vcs: scope
    their log lines with log.WithComponent(name) at each log site
  - pkg/messagebus and pkg/engine: scope log lines to the message or
    worker they concern (WithMessageID, WithWorkerID)
  - cmd/orchestratord: calls log.Init from initLogging, registered with
    cobra.OnInitialize so it runs before any command starts a subsystem

# See Also

  - pkg/config for the --log-level/--log-json flags that feed log.Init
  - cmd/orchestratord/config.go for initLogging
*/
package log

/*
Package metrics defines and registers the Edge's Prometheus metrics and
exposes the HTTP endpoints a supervising process (or an operator's
curl) checks health and readiness against.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Admin API: request count, duration         │          │
	│  │  Reconciler: cycle duration, chain breaks   │          │
	│  │  Sync: batch count, duration, cursor lag    │          │
	│  │  Activation: attempts by outcome            │          │
	│  │  Degraded mode: 0/1 gauge                   │          │
	│  │  (pkg/orders holds its own command metrics) │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Health and Readiness

HealthChecker tracks named components (storage, eventstore, api, bus,
sync) each reporting healthy/unhealthy with a message. GetHealth rolls
these up into "healthy"/"unhealthy"; GetReadiness additionally demands
that storage, eventstore, and api specifically be registered and
healthy before reporting "ready" — a process can be alive (accepting
TCP connections) without yet being ready to take order commands.

	log.Init(...)
	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "bolt store opened")
	metrics.RegisterComponent("eventstore", true, "chain verified")
	metrics.RegisterComponent("api", false, "starting")
	// ... once the admin API server is listening:
	metrics.UpdateComponent("api", true, "ready")

HealthHandler/ReadyHandler/LivenessHandler wrap these into
http.HandlerFunc for cmd/edge to mount under /health, /ready, /live.

# Collector

Collector samples state on a fixed interval rather than at the point
it changes, for the one gauge that's a function of wall-clock time
passing rather than of a discrete event: DegradedModeGauge, driven by
whether the edge's subscription has moved past its grace period (see
pkg/security.EvaluateSubscription). Everything else (order command
counts, sync batch outcomes, reconciliation cycles) is incremented
inline, at the call site that knows it happened.

# See Also

  - pkg/orders - command/event metrics (posedge_orders_*)
  - pkg/sync - sync batch and cursor lag metrics
  - pkg/reconciler - chain verification cycle metrics
  - pkg/security - subscription state driving DegradedModeGauge
*/
package metrics

/*
Package metrics provides Prometheus metrics collection and exposition for
the synchronization core.

Metrics cover connectivity, outbox/dead-letter depth, retry counts by
error kind, conflict resolution outcomes, and sync/hydration latency.
All metrics are registered at package init and exposed via an HTTP
handler for scraping.

# Metrics catalog

Connectivity:

  - posyncd_online: gauge, 1 when the device considers itself online
  - posyncd_syncing: gauge, 1 while a sync cycle is in flight

Outbox:

  - posyncd_outbox_depth: gauge, pending operations
  - posyncd_pending_bundles: gauge, pending bundles
  - posyncd_dead_letter_depth: gauge, dead-lettered items
  - posyncd_oldest_operation_age_seconds: gauge
  - posyncd_retries_total{kind}: counter
  - posyncd_dead_lettered_total: counter

Conflict resolution:

  - posyncd_conflicts_resolved_total{rule,accepted}: counter

Latency:

  - posyncd_sync_cycle_duration_seconds: histogram
  - posyncd_hydration_duration_seconds{collection}: histogram

Throughput:

  - posyncd_remote_deletions_detected_total{collection}: counter
  - posyncd_operations_applied_total{type}: counter
  - posyncd_bundles_committed_total{type}: counter

# Usage

	timer := metrics.NewTimer()
	// ... drain the outbox ...
	timer.ObserveDuration(metrics.SyncCycleDuration)

	metrics.OutboxDepth.Set(float64(status.MainQueueLength))
	metrics.RetriesTotal.WithLabelValues("remote_network").Inc()

	http.Handle("/metrics", metrics.Handler())
*/
package metrics

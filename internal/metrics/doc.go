// Package metrics collects gateway metrics through an asynchronous event pipeline.
//
// Components call Collector.Record with a MetricEvent; a dedicated goroutine
// folds events into two views:
//   - an in-memory Snapshot (request counts, selections, response time
//     percentiles, status codes, health, probes, failovers, notifications)
//     served as JSON on /stats
//   - Prometheus collectors registered on the Registerer passed to NewCollector
//     and served on /metrics
//
// Record never blocks the request path. When the buffer is full the event is
// dropped and counted in failover_metrics_events_dropped_total.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(1000, reg, logger)
//	collector.Start(ctx)
//
//	collector.Record(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "http://localhost:25500",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot("weighted-round-robin")
package metrics

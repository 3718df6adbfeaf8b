// Package metrics collects navigation outcomes and latencies for the run summary.
//
// The central [Collector] aggregates results from all workers:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//	collector.RecordNavigation(url, latency, err)
//	stats := collector.Stats(collector.Elapsed())
//
// Latencies go into HDR histograms (overall and per target URL), so P50/P90/P99
// stay cheap regardless of run length. Failures are bucketed by runner.Kind.
//
// The Collector is safe for concurrent use.
package metrics

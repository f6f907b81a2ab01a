// Package metrics aggregates test-case outcomes for the end-of-run summary
// and exposes them to Prometheus.
//
// A [Collector] is shared by every lane of a worker process:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//	collector.Record(s.TestCase, s.Status, s.Duration)
//	stats := collector.Stats(time.Since(begin))
//
// Latency percentiles come from an HDR histogram tracking 1µs to 1h with
// three significant figures. The same observations feed Prometheus counters
// and a histogram once the collector is registered with [Collector.Register];
// [Serve] publishes a registry over HTTP.
package metrics

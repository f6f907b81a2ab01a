package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/torosent/crankloop/internal/sample"
)

// Collector records test-case outcomes in a thread-safe manner.
type Collector struct {
	mu         sync.Mutex
	hist       *hdrhistogram.Histogram
	byStatus   map[sample.Status]int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	start      time.Time

	tests    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lanes    prometheus.Gauge
	active   atomic.Int64
}

// Stats represents aggregated metrics.
type Stats struct {
	Total       int64         `json:"total"`
	Passed      int64         `json:"passed"`
	Failed      int64         `json:"failed"`
	Broken      int64         `json:"broken"`
	Skipped     int64         `json:"skipped"`
	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`
	Duration    time.Duration `json:"-"`
	TestsPerSec float64       `json:"tests_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms"`
}

func NewCollector() *Collector {
	// Track latencies from 1µs up to 1h with 3 significant figures.
	h := hdrhistogram.New(1, int64(time.Hour/time.Microsecond), 3)
	return &Collector{
		hist:     h,
		byStatus: make(map[sample.Status]int64),
		start:    time.Now(),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crankloop_tests_total",
			Help: "Executed test cases by outcome.",
		}, []string{"test", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crankloop_test_duration_seconds",
			Help:    "Test case duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"test"}),
		lanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crankloop_active_lanes",
			Help: "Lanes currently iterating.",
		}),
	}
}

// Start resets the reference time used for throughput.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Register exposes the collector's Prometheus metrics through reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{c.tests, c.duration, c.lanes} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Record records one finished test case.
func (c *Collector) Record(test string, status sample.Status, latency time.Duration) {
	c.tests.WithLabelValues(test, string(status)).Inc()
	c.duration.WithLabelValues(test).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
	c.byStatus[status]++
}

// LaneStarted and LaneStopped track how many lanes are iterating.
func (c *Collector) LaneStarted() {
	c.active.Add(1)
	c.lanes.Inc()
}

func (c *Collector) LaneStopped() {
	c.active.Add(-1)
	c.lanes.Dec()
}

// ActiveLanes returns the number of lanes currently iterating.
func (c *Collector) ActiveLanes() int64 { return c.active.Load() }

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Passed:     c.byStatus[sample.StatusPassed],
		Failed:     c.byStatus[sample.StatusFailed],
		Broken:     c.byStatus[sample.StatusBroken],
		Skipped:    c.byStatus[sample.StatusSkipped],
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}
	stats.Total = stats.Passed + stats.Failed + stats.Broken + stats.Skipped

	if stats.Total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / stats.Total)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
	stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
	stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
	stats.P50LatencyMs = float64(stats.P50Latency) / float64(time.Millisecond)
	stats.P90LatencyMs = float64(stats.P90Latency) / float64(time.Millisecond)
	stats.P99LatencyMs = float64(stats.P99Latency) / float64(time.Millisecond)

	stats.Duration = elapsed
	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)
	if elapsed > 0 && stats.Total > 0 {
		stats.TestsPerSec = float64(stats.Total) / elapsed.Seconds()
	}
	return stats
}

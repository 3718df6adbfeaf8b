package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/technews/pagevisit/internal/runner"
)

const (
	// Track latencies from 1µs up to 10 minutes with 3 significant figures.
	minTrackable = 1
	maxTrackable = 600_000_000
	sigFigs      = 3
)

// Collector records per-navigation metrics in a thread-safe manner.
type Collector struct {
	mu      sync.Mutex
	overall *series
	targets map[string]*series
	start   time.Time
}

type series struct {
	hist       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	byKind     map[runner.Kind]int64
}

func newSeries() *series {
	return &series{
		hist:   hdrhistogram.New(minTrackable, maxTrackable, sigFigs),
		byKind: make(map[runner.Kind]int64),
	}
}

// TargetStats summarises navigations for one URL (or the whole run).
type TargetStats struct {
	Total         int64         `json:"total" yaml:"total"`
	Successes     int64         `json:"successes" yaml:"successes"`
	Failures      int64         `json:"failures" yaml:"failures"`
	MinLatency    time.Duration `json:"-" yaml:"-"`
	MaxLatency    time.Duration `json:"-" yaml:"-"`
	MeanLatency   time.Duration `json:"-" yaml:"-"`
	P50Latency    time.Duration `json:"-" yaml:"-"`
	P90Latency    time.Duration `json:"-" yaml:"-"`
	P99Latency    time.Duration `json:"-" yaml:"-"`
	VisitsPerSec  float64       `json:"visits_per_sec" yaml:"visits_per_sec"`
	MinLatencyMs  float64       `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64       `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64       `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64       `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64       `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64       `json:"p99_latency_ms" yaml:"p99_latency_ms"`

	// Failure counts keyed by runner.Kind.
	FailureKinds map[string]int `json:"failure_kinds,omitempty" yaml:"failure_kinds,omitempty"`
}

// Stats represents aggregated metrics.
type Stats struct {
	TargetStats `yaml:",inline"`

	Duration   time.Duration          `json:"-" yaml:"-"`
	DurationMs float64                `json:"duration_ms" yaml:"duration_ms"`
	Targets    map[string]TargetStats `json:"targets,omitempty" yaml:"targets,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		overall: newSeries(),
		targets: make(map[string]*series),
		start:   time.Now(),
	}
}

// Start resets the reference time used by Elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed returns the time since Start (or construction).
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordNavigation records one navigation against target.
func (c *Collector) RecordNavigation(target string, latency time.Duration, err error) {
	kind := runner.Classify(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.overall.record(latency, kind)
	s, ok := c.targets[target]
	if !ok {
		s = newSeries()
		c.targets[target] = s
	}
	s.record(latency, kind)
}

func (s *series) record(latency time.Duration, kind runner.Kind) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < s.hist.LowestTrackableValue() {
			us = s.hist.LowestTrackableValue()
		}
		if us > s.hist.HighestTrackableValue() {
			us = s.hist.HighestTrackableValue()
		}
		_ = s.hist.RecordValue(us)
	}
	s.sumLatency += latency

	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}

	if kind == runner.KindNone {
		s.successes++
		return
	}
	s.failures++
	s.byKind[kind]++
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TargetStats: c.overall.snapshot(elapsed),
		Duration:    elapsed,
		DurationMs:  float64(elapsed) / float64(time.Millisecond),
	}
	if len(c.targets) > 0 {
		stats.Targets = make(map[string]TargetStats, len(c.targets))
		for target, s := range c.targets {
			stats.Targets[target] = s.snapshot(elapsed)
		}
	}
	return stats
}

func (s *series) snapshot(elapsed time.Duration) TargetStats {
	total := s.successes + s.failures
	ts := TargetStats{
		Total:      total,
		Successes:  s.successes,
		Failures:   s.failures,
		MinLatency: s.minLatency,
		MaxLatency: s.maxLatency,
	}
	if total > 0 {
		ts.MeanLatency = time.Duration(int64(s.sumLatency) / total)
	}
	if s.hist.TotalCount() > 0 {
		ts.P50Latency = time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond
		ts.P90Latency = time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond
		ts.P99Latency = time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	ts.MinLatencyMs = toMs(ts.MinLatency)
	ts.MaxLatencyMs = toMs(ts.MaxLatency)
	ts.MeanLatencyMs = toMs(ts.MeanLatency)
	ts.P50LatencyMs = toMs(ts.P50Latency)
	ts.P90LatencyMs = toMs(ts.P90Latency)
	ts.P99LatencyMs = toMs(ts.P99Latency)

	if elapsed > 0 && total > 0 {
		ts.VisitsPerSec = float64(total) / elapsed.Seconds()
	}
	if len(s.byKind) > 0 {
		ts.FailureKinds = make(map[string]int, len(s.byKind))
		for k, v := range s.byKind {
			ts.FailureKinds[string(k)] = int(v)
		}
	}
	return ts
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/technews/pagevisit/internal/metrics"
)

// ProgressReporter rewrites a single status line on every tick.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	running   atomic.Bool
	start     time.Time

	round       func() int
	totalRounds int
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// TrackRounds adds "Round: current/total" to each update. Call before Start.
func (p *ProgressReporter) TrackRounds(current func() int, total int) {
	p.round = current
	p.totalRounds = total
}

// Start launches the update loop. Later calls are no-ops.
func (p *ProgressReporter) Start() {
	if p.running.CompareAndSwap(false, true) {
		go p.run()
	}
}

// Stop halts updates and ends the line so later output starts clean.
// Stop without Start only releases the ticker.
func (p *ProgressReporter) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		p.ticker.Stop()
		return
	}
	close(p.done)
	p.ticker.Stop()
	<-p.finished
	fmt.Fprintln(p.writer)
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	stats := p.collector.Stats(time.Since(p.start))
	line := "\r"
	if p.round != nil {
		line += fmt.Sprintf("Round: %d/%d | ", p.round(), p.totalRounds)
	}
	line += fmt.Sprintf("Visits: %d | Successes: %d | Failures: %d | Visits/s: %.1f | P99: %.1fms",
		stats.Total, stats.Successes, stats.Failures, stats.VisitsPerSec, stats.P99LatencyMs)
	if rows := metrics.FlattenFailureBuckets(stats.Targets); len(rows) > 0 {
		top := rows[0]
		line += fmt.Sprintf(" | Top failure: %s %s (%d)", top.Target, metrics.FriendlyKindName(top.Kind), top.Count)
	}
	return line
}

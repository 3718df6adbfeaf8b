// Package dashboard renders a live terminal view of a page visit run.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/technews/pagevisit/internal/metrics"
)

const (
	refreshInterval = 500 * time.Millisecond
	historyLen      = 100
	maxFailureRows  = 10
)

// RunInfo holds the run parameters shown in the summary panel.
type RunInfo struct {
	Targets         []string
	Rounds          int
	InterRoundDelay time.Duration
	Timeout         time.Duration
	Concurrency     int
	Identities      int
	ConfigFile      string
}

// Dashboard renders a live terminal UI for a run.
type Dashboard struct {
	collector    *metrics.Collector
	round        func() int
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	latencySpark   *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	roundGauge     *widgets.Gauge
	failureList    *widgets.List
	targetList     *widgets.List
	summaryPara    *widgets.Paragraph
	countsPara     *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
	info           RunInfo
}

// New initializes the terminal. round reports the last dispatched round;
// shutdownFunc is called when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, info RunInfo, round func() int, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		collector:      collector,
		round:          round,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historyLen),
		startTime:      time.Now(),
		info:           info,
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Mean latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySpark = widgets.NewSparklineGroup(sparkline)
	d.latencySpark.Title = "Navigation Latency"
	d.latencySpark.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.roundGauge = widgets.NewGauge()
	d.roundGauge.Title = "Rounds"
	d.roundGauge.BarColor = ui.ColorBlue
	d.roundGauge.BorderStyle.Fg = ui.ColorCyan
	d.roundGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.failureList = widgets.NewList()
	d.failureList.Title = "Failures"
	d.failureList.Rows = []string{"No failures"}
	d.failureList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.failureList.BorderStyle.Fg = ui.ColorCyan

	d.targetList = widgets.NewList()
	d.targetList.Title = "Targets"
	d.targetList.Rows = []string{"Awaiting data"}
	d.targetList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.targetList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.countsPara = widgets.NewParagraph()
	d.countsPara.Title = "Visits"
	d.countsPara.Text = "Waiting for data..."
	d.countsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.20,
			ui.NewCol(0.5, d.roundGauge),
			ui.NewCol(0.5, d.countsPara),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.65, d.latencySpark),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.36,
			ui.NewCol(0.6, d.targetList),
			ui.NewCol(0.4, d.failureList),
		),
	)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				// Stop is called once the runner has drained.
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(d.collector.Stats(time.Since(d.startTime)))
			d.render()
		}
	}
}

func (d *Dashboard) update(stats metrics.Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)

	if stats.Total > 0 {
		d.latencyHistory = append(d.latencyHistory, stats.MeanLatencyMs)
		if len(d.latencyHistory) > historyLen {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySpark.Sparklines[0].Data = d.latencyHistory
		d.latencySpark.Title = fmt.Sprintf(
			"Navigation Latency | Mean: %.0fms | Min: %.0fms | Max: %.0fms",
			stats.MeanLatencyMs, stats.MinLatencyMs, stats.MaxLatencyMs,
		)
	}

	current := 0
	if d.round != nil {
		current = d.round()
	}
	d.roundGauge.Percent = roundPercent(current, d.info.Rounds)
	d.roundGauge.Label = fmt.Sprintf("%d / %d", current, d.info.Rounds)

	d.summaryPara.Text = fmt.Sprintf("%s\n%s\nElapsed: %s | Visits: %d | Success Rate: %.1f%%",
		strings.Join(d.info.Targets, ", "),
		d.info.params(),
		elapsed.Round(time.Second),
		stats.Total,
		successRate(stats.TargetStats),
	)

	d.countsPara.Text = fmt.Sprintf(
		"Visits:       %d\nSuccessful:   %d\nFailed:       %d\nVisits/sec:   %.2f\nSuccess Rate: %.1f%%",
		stats.Total, stats.Successes, stats.Failures, stats.VisitsPerSec, successRate(stats.TargetStats),
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.0fms\nMean: %.0fms\nP50:  %.0fms\nP90:  %.0fms\nP99:  %.0fms",
		stats.MinLatencyMs, stats.MeanLatencyMs, stats.P50LatencyMs, stats.P90LatencyMs, stats.P99LatencyMs,
	)

	d.failureList.Rows = formatFailureRows(stats.Targets)
	d.targetList.Rows = formatTargetRows(stats)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func roundPercent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return min(current*100/total, 100)
}

func successRate(s metrics.TargetStats) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Total) * 100
}

func formatTargetRows(stats metrics.Stats) []string {
	if len(stats.Targets) == 0 {
		return []string{"[No visits yet](fg:green)"}
	}
	names := make([]string, 0, len(stats.Targets))
	for name := range stats.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]string, 0, len(names))
	for _, name := range names {
		ts := stats.Targets[name]
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | %d visits | %5.1f%% ok | P99 %.0fms | Err %d",
			name, ts.Total, successRate(ts), ts.P99LatencyMs, ts.Failures))
	}
	return rows
}

func formatFailureRows(targets map[string]metrics.TargetStats) []string {
	rows := metrics.FlattenFailureBuckets(targets)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > maxFailureRows {
		rows = rows[:maxFailureRows]
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, fmt.Sprintf("[%s](fg:red) %s %d", metrics.FriendlyKindName(row.Kind), row.Target, row.Count))
	}
	return out
}

func (i RunInfo) params() string {
	var parts []string
	if i.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", i.Concurrency))
	}
	if i.InterRoundDelay > 0 {
		parts = append(parts, fmt.Sprintf("Delay: %s", i.InterRoundDelay))
	} else {
		parts = append(parts, "Delay: none")
	}
	if i.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", i.Timeout))
	}
	if i.Identities > 0 {
		parts = append(parts, fmt.Sprintf("User agents: %d", i.Identities))
	}
	if i.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", i.ConfigFile))
	}
	return strings.Join(parts, " | ")
}

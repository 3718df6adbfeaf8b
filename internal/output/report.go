// Package output renders run reports and live progress.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technews/pagevisit/internal/metrics"
	"github.com/technews/pagevisit/internal/runner"
	"github.com/technews/pagevisit/internal/threshold"
)

// Report is the final summary of a run.
type Report struct {
	Rounds     int64  `json:"rounds" yaml:"rounds"`
	Dispatched int64  `json:"dispatched" yaml:"dispatched"`
	Attempted  int64  `json:"attempted" yaml:"attempted"`
	Successes  int64  `json:"successes" yaml:"successes"`
	Failures   int64  `json:"failures" yaml:"failures"`
	Skipped    int64  `json:"skipped" yaml:"skipped"`
	Cancelled  bool   `json:"cancelled" yaml:"cancelled"`
	AbortedBy  string `json:"aborted_by,omitempty" yaml:"aborted_by,omitempty"`

	Duration   time.Duration `json:"-" yaml:"-"`
	DurationMs float64       `json:"duration_ms" yaml:"duration_ms"`

	Navigations metrics.Stats `json:"navigations" yaml:"navigations"`

	Thresholds []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// NewReport combines the scheduler counters with the collected navigation
// stats. runErr is the error returned by the runner, if any.
func NewReport(res runner.Result, stats metrics.Stats, runErr error) Report {
	r := Report{
		Rounds:      res.Rounds,
		Dispatched:  res.Dispatched,
		Attempted:   res.Attempted,
		Successes:   res.Successes,
		Failures:    res.Failures,
		Skipped:     res.Skipped,
		Cancelled:   res.Cancelled,
		Duration:    res.Duration,
		DurationMs:  float64(res.Duration) / float64(time.Millisecond),
		Navigations: stats,
	}
	if runErr != nil {
		r.AbortedBy = runErr.Error()
	}
	return r
}

// Write renders r in the named format: "text" (default), "json" or "yaml".
func Write(w io.Writer, format string, r Report) error {
	switch strings.ToLower(format) {
	case "", "text":
		PrintReport(w, r)
		return nil
	case "json":
		return PrintJSONReport(w, r)
	case "yaml":
		return PrintYAMLReport(w, r)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Navigations

	fmt.Fprintln(w, "\n--- Page Visit Results ---")
	switch {
	case r.AbortedBy != "":
		fmt.Fprintf(w, "Status:            aborted (%s)\n", r.AbortedBy)
	case r.Cancelled:
		fmt.Fprintln(w, "Status:            cancelled")
	default:
		fmt.Fprintln(w, "Status:            completed")
	}
	fmt.Fprintf(w, "Rounds:            %d\n", r.Rounds)
	fmt.Fprintf(w, "Dispatched:        %d\n", r.Dispatched)
	fmt.Fprintf(w, "Attempted:         %d\n", r.Attempted)
	fmt.Fprintf(w, "Successful:        %d\n", r.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", r.Failures)
	fmt.Fprintf(w, "Skipped:           %d\n", r.Skipped)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Visits/sec:        %.2f\n", stats.VisitsPerSec)

	if stats.Total > 0 {
		fmt.Fprintln(w, "\nLatency:")
		fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
		fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
		fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
		fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)
	}

	if len(stats.FailureKinds) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		writeFailureKinds(w, stats.FailureKinds, "  ")
	}

	if len(stats.Targets) > 0 {
		fmt.Fprintln(w, "\nTarget Breakdown:")
		names := make([]string, 0, len(stats.Targets))
		for name := range stats.Targets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			target := stats.Targets[name]
			fmt.Fprintf(
				w,
				"  - %s: total=%d, successes=%d, failures=%d, p50=%s, p99=%s\n",
				name,
				target.Total,
				target.Successes,
				target.Failures,
				target.P50Latency,
				target.P99Latency,
			)
			if len(target.FailureKinds) > 0 {
				writeFailureKinds(w, target.FailureKinds, "      ")
			}
		}
	}

	if len(r.Thresholds) > 0 {
		passed := 0
		for _, res := range r.Thresholds {
			if res.Pass {
				passed++
			}
		}
		fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", passed, len(r.Thresholds))
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeFailureKinds(w io.Writer, kinds map[string]int, indent string) {
	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if kinds[keys[i]] == kinds[keys[j]] {
			return keys[i] < keys[j]
		}
		return kinds[keys[i]] > kinds[keys[j]]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s: %d\n", indent, metrics.FriendlyKindName(k), kinds[k])
	}
}

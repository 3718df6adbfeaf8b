// Package threshold evaluates pass/fail checks against navigation stats.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/technews/pagevisit/internal/metrics"
)

// Metric names accepted by Parse.
const (
	MetricDuration = "navigation_duration"
	MetricFailed   = "navigation_failed"
	MetricVisits   = "navigations"
)

// metric{target}:aggregate operator value
var thresholdPattern = regexp.MustCompile(`^([a-z_]+)(?:\{([^}]+)\})?:([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Threshold is one assertion such as "navigation_duration:p99 < 5000".
type Threshold struct {
	Metric    string
	Target    string // empty for the whole run
	Aggregate string
	Operator  string
	Value     float64
	Raw       string
}

// Result is the outcome of one threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Check     string    `json:"check" yaml:"check"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks every threshold against stats, in declaration order.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if e == nil || len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

// AllPassed reports whether no result failed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, stats metrics.Stats) Result {
	res := Result{Threshold: t, Check: t.Raw}

	scope := stats.TargetStats
	if t.Target != "" {
		ts, ok := stats.Targets[t.Target]
		if !ok {
			res.Message = fmt.Sprintf("FAIL %s: no navigations recorded for %s", t.Raw, t.Target)
			return res
		}
		scope = ts
	}

	actual, err := metricValue(t, scope)
	if err != nil {
		res.Message = fmt.Sprintf("FAIL %s: %v", t.Raw, err)
		return res
	}
	res.Actual = actual
	res.Pass = compare(actual, t.Operator, t.Value)

	status := "PASS"
	if !res.Pass {
		status = "FAIL"
	}
	res.Message = fmt.Sprintf("%s %s (actual %.2f)", status, t.Raw, actual)
	return res
}

// Parse parses a threshold string. Supported forms:
//
//	navigation_duration:p99 < 5000            latency in ms (p50, p90, p99, avg, min, max)
//	navigation_failed:rate < 0.05             failure ratio (rate) or count
//	navigations:rate > 2                      visits per second (rate) or count
//	navigation_failed{https://a.example}:count == 0
//
// The optional {target} limits the check to one target URL.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold")
	}

	m := thresholdPattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q (expected metric:aggregate operator value, e.g. 'navigation_duration:p99 < 5000')", s)
	}
	metric, target, aggregate, operator := m[1], strings.TrimSpace(m[2]), m[3], m[4]

	value, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", m[5], err)
	}

	allowed, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: %s, %s, %s)", metric, MetricDuration, MetricFailed, MetricVisits)
	}
	if !contains(allowed, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator %q (supported: %s)", operator, strings.Join(operators, ", "))
	}

	return Threshold{
		Metric:    metric,
		Target:    target,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses every entry and reports all failures together.
func ParseMultiple(raw []string) ([]Threshold, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]Threshold, 0, len(raw))
	var problems []string
	for i, s := range raw {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return out, nil
}

var aggregates = map[string][]string{
	MetricDuration: {"p50", "p90", "p99", "avg", "min", "max"},
	MetricFailed:   {"rate", "count"},
	MetricVisits:   {"rate", "count"},
}

var operators = []string{"<", "<=", ">", ">=", "=="}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func metricValue(t Threshold, s metrics.TargetStats) (float64, error) {
	switch t.Metric {
	case MetricDuration:
		switch t.Aggregate {
		case "p50":
			return s.P50LatencyMs, nil
		case "p90":
			return s.P90LatencyMs, nil
		case "p99":
			return s.P99LatencyMs, nil
		case "avg":
			return s.MeanLatencyMs, nil
		case "min":
			return s.MinLatencyMs, nil
		case "max":
			return s.MaxLatencyMs, nil
		}
	case MetricFailed:
		switch t.Aggregate {
		case "count":
			return float64(s.Failures), nil
		case "rate":
			if s.Total == 0 {
				return 0, nil
			}
			return float64(s.Failures) / float64(s.Total), nil
		}
	case MetricVisits:
		switch t.Aggregate {
		case "count":
			return float64(s.Total), nil
		case "rate":
			return s.VisitsPerSec, nil
		}
	}
	return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
}

func compare(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}

package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Job is one unit of work: visit URL as part of Round (1-based).
type Job struct {
	Round int
	URL   string
}

// Executor runs a single job. Implementations contain per-task failures and
// report them as the returned error; an error matching ErrResourceExhausted
// aborts the run.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job Job) error { return f(ctx, job) }

// Options configure the Runner.
type Options struct {
	Targets         []string      // URLs visited once per round (required)
	Rounds          int           // number of rounds to dispatch
	InterRoundDelay time.Duration // minimum spacing between round dispatches
	Concurrency     int           // worker goroutines; caps in-flight tasks (0 means len(Targets))
	QueueSize       int           // buffered jobs awaiting a worker (0 means len(Targets))
	Executor        Executor      // job executor (required)

	// OnRound is invoked from the dispatcher goroutine right before a round's
	// jobs are enqueued.
	OnRound func(round int, at time.Time)

	LimiterFactory func(delay time.Duration) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Rounds < 0 {
		o.Rounds = 0
	}
	if o.InterRoundDelay < 0 {
		o.InterRoundDelay = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = len(o.Targets)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = len(o.Targets)
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(delay time.Duration) *rate.Limiter {
			if delay <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one: a round may never start less than delay after the previous one.
			return rate.NewLimiter(rate.Every(delay), 1)
		}
	}
}

package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the scheduler's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateWaiting
	StateDone
	StateCancelled
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result captures execution summary.
type Result struct {
	Rounds     int64 // rounds whose dispatch started
	Dispatched int64 // jobs enqueued
	Attempted  int64 // jobs handed to the executor
	Successes  int64
	Failures   int64
	Skipped    int64 // jobs dequeued after cancellation and never executed
	Duration   time.Duration
	Cancelled  bool
}

// Runner dispatches paced rounds of jobs to a bounded worker pool.
type Runner struct {
	opt   Options
	pacer *roundPacer
	state atomic.Int32
	round atomic.Int64
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, pacer: newRoundPacer(opt)}
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Round returns the most recently dispatched round (0 before the first).
func (r *Runner) Round() int { return int(r.round.Load()) }

// Run dispatches Rounds rounds and waits for every dispatched job to finish.
// Per-job failures only show up in the Result; the returned error is non-nil
// for invalid options or when a job reports ErrResourceExhausted.
// External cancellation is not an error: the partial Result has Cancelled set.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if len(r.opt.Targets) == 0 {
		return Result{}, &ConfigurationError{Issues: []string{"at least one target is required"}}
	}
	if r.opt.Executor == nil {
		return Result{}, &ConfigurationError{Issues: []string{"executor is required"}}
	}

	start := time.Now()
	var (
		rounds, dispatched, attempted int64
		successes, failures, skipped  int64
	)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel(err)
		})
	}

	jobs := make(chan Job, r.opt.QueueSize)

	// Dispatcher: feeds the queue at the configured pace without waiting for
	// earlier rounds to finish. A full queue blocks it, which bounds the
	// number of outstanding jobs.
	go func() {
		defer close(jobs)
		for round := 1; round <= r.opt.Rounds; round++ {
			r.state.Store(int32(StateWaiting))
			if err := r.pacer.Wait(ctx); err != nil {
				return
			}
			r.state.Store(int32(StateDispatching))
			r.round.Store(int64(round))
			atomic.AddInt64(&rounds, 1)
			if r.opt.OnRound != nil {
				r.opt.OnRound(round, time.Now())
			}
			for _, target := range r.opt.Targets {
				select {
				case jobs <- Job{Round: round, URL: target}:
					atomic.AddInt64(&dispatched, 1)
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(r.opt.Concurrency)
	for i := 0; i < r.opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					atomic.AddInt64(&skipped, 1)
					continue
				}
				atomic.AddInt64(&attempted, 1)
				err := r.opt.Executor.Execute(ctx, job)
				if err == nil {
					atomic.AddInt64(&successes, 1)
					continue
				}
				atomic.AddInt64(&failures, 1)
				if IsFatal(err) {
					abort(err)
				}
			}
		}()
	}
	wg.Wait()

	res := Result{
		Rounds:     atomic.LoadInt64(&rounds),
		Dispatched: atomic.LoadInt64(&dispatched),
		Attempted:  atomic.LoadInt64(&attempted),
		Successes:  atomic.LoadInt64(&successes),
		Failures:   atomic.LoadInt64(&failures),
		Skipped:    atomic.LoadInt64(&skipped),
		Duration:   time.Since(start),
	}

	switch {
	case fatalErr != nil:
		r.state.Store(int32(StateAborted))
		return res, fatalErr
	case ctx.Err() != nil:
		res.Cancelled = true
		r.state.Store(int32(StateCancelled))
	default:
		r.state.Store(int32(StateDone))
	}
	return res, nil
}

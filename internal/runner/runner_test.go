package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/technews/pagevisit/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExecutor simulates a navigation with fixed latency.
type fakeExecutor struct {
	latency  time.Duration
	calls    int64
	inFlight int64
	peak     int64
	failURL  string
	fatalURL string

	mu   sync.Mutex
	seen map[string]int
}

func (f *fakeExecutor) Execute(ctx context.Context, job runner.Job) error {
	atomic.AddInt64(&f.calls, 1)
	cur := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt64(&f.peak)
		if cur <= peak || atomic.CompareAndSwapInt64(&f.peak, peak, cur) {
			break
		}
	}

	f.mu.Lock()
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[job.URL]++
	f.mu.Unlock()

	if job.URL == f.fatalURL {
		return runner.ResourceExhausted(errors.New("launch failed"))
	}

	select {
	case <-time.After(f.latency):
	case <-ctx.Done():
		return runner.ErrCanceled
	}
	if job.URL == f.failURL {
		return &runner.NetworkError{Cause: errors.New("connection reset")}
	}
	return nil
}

func TestRunnerDispatchesEveryTargetEachRound(t *testing.T) {
	exec := &fakeExecutor{latency: 5 * time.Millisecond}
	r := runner.New(runner.Options{
		Targets:  []string{"http://a", "http://b"},
		Rounds:   3,
		Executor: exec,
	})

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Attempted != 6 || exec.calls != 6 {
		t.Fatalf("expected 6 navigation attempts, got result=%d calls=%d", res.Attempted, exec.calls)
	}
	if res.Successes != 6 || res.Failures != 0 {
		t.Fatalf("expected 6 successes and 0 failures, got %d/%d", res.Successes, res.Failures)
	}
	if res.Rounds != 3 || res.Dispatched != 6 {
		t.Fatalf("expected 3 rounds and 6 jobs, got %d/%d", res.Rounds, res.Dispatched)
	}
	if res.Cancelled {
		t.Fatalf("run should not be marked cancelled")
	}
	if elapsed > time.Second {
		t.Fatalf("run took too long: %s", elapsed)
	}
	if r.State() != runner.StateDone {
		t.Fatalf("state = %s, want done", r.State())
	}
	if exec.seen["http://a"] != 3 || exec.seen["http://b"] != 3 {
		t.Fatalf("expected each target visited 3 times, got %v", exec.seen)
	}
}

func TestRunnerRoundPacing(t *testing.T) {
	const (
		rounds = 4
		delay  = 30 * time.Millisecond
	)
	var (
		mu    sync.Mutex
		stamp []time.Time
		order []int
	)
	r := runner.New(runner.Options{
		Targets:         []string{"http://a"},
		Rounds:          rounds,
		InterRoundDelay: delay,
		Executor:        &fakeExecutor{},
		OnRound: func(round int, at time.Time) {
			mu.Lock()
			defer mu.Unlock()
			stamp = append(stamp, at)
			order = append(order, round)
		},
	})

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(stamp) != rounds {
		t.Fatalf("expected %d dispatch events, got %d", rounds, len(stamp))
	}
	// Allow a little scheduler jitter below the nominal spacing.
	tolerance := 3 * time.Millisecond
	for i := 1; i < len(stamp); i++ {
		if order[i] != order[i-1]+1 {
			t.Fatalf("rounds dispatched out of order: %v", order)
		}
		if gap := stamp[i].Sub(stamp[i-1]); gap < delay-tolerance {
			t.Fatalf("round %d dispatched %s after previous, want >= %s", order[i], gap, delay)
		}
	}
}

func TestRunnerDoesNotWaitForPreviousRound(t *testing.T) {
	// Slow tasks and a short delay: the next round must still be dispatched
	// while the previous round is in flight.
	exec := &fakeExecutor{latency: 80 * time.Millisecond}
	var (
		mu    sync.Mutex
		stamp []time.Time
	)
	r := runner.New(runner.Options{
		Targets:         []string{"http://a", "http://b"},
		Rounds:          2,
		InterRoundDelay: 10 * time.Millisecond,
		Concurrency:     4,
		Executor:        exec,
		OnRound: func(_ int, at time.Time) {
			mu.Lock()
			stamp = append(stamp, at)
			mu.Unlock()
		},
	})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gap := stamp[1].Sub(stamp[0]); gap > 60*time.Millisecond {
		t.Fatalf("round 2 waited for round 1 to finish (gap %s)", gap)
	}
	if atomic.LoadInt64(&exec.peak) < 3 {
		t.Fatalf("expected rounds to overlap, peak in-flight %d", exec.peak)
	}
}

func TestRunnerCapsConcurrency(t *testing.T) {
	exec := &fakeExecutor{latency: 10 * time.Millisecond}
	r := runner.New(runner.Options{
		Targets:     []string{"http://a", "http://b", "http://c", "http://d"},
		Rounds:      5,
		Concurrency: 2,
		QueueSize:   1,
		Executor:    exec,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Attempted != 20 {
		t.Fatalf("expected 20 attempts, got %d", res.Attempted)
	}
	if peak := atomic.LoadInt64(&exec.peak); peak > 2 {
		t.Fatalf("in-flight tasks exceeded cap: %d", peak)
	}
}

func TestRunnerIsolatesFailures(t *testing.T) {
	exec := &fakeExecutor{latency: time.Millisecond, failURL: "http://bad"}
	r := runner.New(runner.Options{
		Targets:  []string{"http://good", "http://bad", "http://also-good"},
		Rounds:   4,
		Executor: exec,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("per-task failures must not fail the run: %v", err)
	}
	if res.Failures != 4 {
		t.Fatalf("expected 4 failures, got %d", res.Failures)
	}
	if res.Successes != 8 {
		t.Fatalf("expected sibling successes to be unaffected, got %d", res.Successes)
	}
}

func TestRunnerAbortsOnResourceExhaustion(t *testing.T) {
	exec := &fakeExecutor{latency: 20 * time.Millisecond, fatalURL: "http://boom"}
	r := runner.New(runner.Options{
		Targets:         []string{"http://ok", "http://boom"},
		Rounds:          100,
		InterRoundDelay: 5 * time.Millisecond,
		Executor:        exec,
	})
	res, err := r.Run(context.Background())
	if !errors.Is(err, runner.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if res.Rounds >= 100 {
		t.Fatalf("expected dispatch to stop early, got %d rounds", res.Rounds)
	}
	if r.State() != runner.StateAborted {
		t.Fatalf("state = %s, want aborted", r.State())
	}
}

func TestRunnerCancellationStopsDispatch(t *testing.T) {
	const delay = 40 * time.Millisecond
	exec := &fakeExecutor{latency: time.Second}
	var rounds int64
	r := runner.New(runner.Options{
		Targets:         []string{"http://a", "http://b"},
		Rounds:          1000,
		InterRoundDelay: delay,
		Concurrency:     8,
		Executor:        exec,
		OnRound:         func(int, time.Time) { atomic.AddInt64(&rounds, 1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	res, err := r.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("cancellation should not be reported as an error: %v", err)
	}
	if !res.Cancelled {
		t.Fatalf("expected result to be marked cancelled")
	}
	// In-flight tasks observe cancellation instead of running for a full second.
	if elapsed > 400*time.Millisecond {
		t.Fatalf("run did not stop promptly: %s", elapsed)
	}
	if n := atomic.LoadInt64(&rounds); n > 4 {
		t.Fatalf("expected dispatch to stop within one delay of cancellation, got %d rounds", n)
	}
	if r.State() != runner.StateCancelled {
		t.Fatalf("state = %s, want cancelled", r.State())
	}
}

func TestRunnerRequiresTargetsAndExecutor(t *testing.T) {
	var cfgErr *runner.ConfigurationError

	_, err := runner.New(runner.Options{Rounds: 1, Executor: &fakeExecutor{}}).Run(context.Background())
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for missing targets, got %v", err)
	}

	_, err = runner.New(runner.Options{Rounds: 1, Targets: []string{"http://a"}}).Run(context.Background())
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for missing executor, got %v", err)
	}
}

func TestExecutorFunc(t *testing.T) {
	var got runner.Job
	exec := runner.ExecutorFunc(func(_ context.Context, job runner.Job) error {
		got = job
		return nil
	})
	r := runner.New(runner.Options{Targets: []string{"http://only"}, Rounds: 1, Executor: exec})
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.URL != "http://only" || got.Round != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
}

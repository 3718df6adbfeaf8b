// Package runner provides the round scheduler that drives page visits.
//
// A run dispatches a fixed number of rounds. Each round enqueues one [Job] per
// target URL into a bounded queue that a fixed pool of workers drains:
//   - Rounds are strictly ordered and spaced at least InterRoundDelay apart
//   - A round never waits for the previous round's jobs to finish
//   - Concurrency caps in-flight jobs; a full queue holds back dispatch
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Targets:         []string{"https://example.com/a", "https://example.com/b"},
//		Rounds:          100,
//		InterRoundDelay: time.Second,
//		Executor:        myExecutor,
//	})
//	result, err := r.Run(ctx)
//
// # Executor Interface
//
// The [Executor] interface defines what a worker runs for one job:
//
//	type Executor interface {
//		Execute(ctx context.Context, job Job) error
//	}
//
// # Error Handling
//
// Job errors are counted and never stop the run, with one exception: an error
// matching [ErrResourceExhausted] cancels the run and is returned from Run.
// [Classify] maps any job error onto the taxonomy:
//
//	switch runner.Classify(err) {
//	case runner.KindTimeout, runner.KindNetwork:
//		// recovered, logged by the task
//	case runner.KindResourceExhausted:
//		// fatal
//	}
//
// Cancelling the context passed to Run stops dispatch, skips queued jobs and
// cancels in-flight ones; Run then returns the partial [Result] with Cancelled set.
package runner

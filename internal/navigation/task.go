// Package navigation performs a single isolated page visit.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/technews/pagevisit/internal/browser"
	"github.com/technews/pagevisit/internal/identity"
	"github.com/technews/pagevisit/internal/runner"
	"github.com/technews/pagevisit/internal/tracing"
)

// Outcome is the terminal state of a visit.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Result describes one finished visit.
type Result struct {
	TaskID   string
	URL      string
	Round    int
	Identity identity.Identity
	Outcome  Outcome
	Err      error
	Latency  time.Duration
}

// Kind classifies Err.
func (r Result) Kind() runner.Kind {
	return runner.Classify(r.Err)
}

// Recorder receives one sample per visit. *metrics.Collector satisfies it.
type Recorder interface {
	RecordNavigation(target string, latency time.Duration, err error)
}

// Task visits pages with a fresh browser session per call. Logger, Recorder
// and Tracer are optional.
type Task struct {
	Driver   browser.Driver
	Pool     *identity.Pool
	Timeout  time.Duration
	Logger   *zap.Logger
	Recorder Recorder
	Tracer   trace.Tracer
}

var _ runner.Executor = (*Task)(nil)

// Execute picks an identity and visits job.URL. The returned error is the
// classified failure, so the runner can tell fatal errors from ordinary ones.
func (t *Task) Execute(ctx context.Context, job runner.Job) error {
	if t.Pool == nil {
		return runner.ResourceExhausted(errors.New("navigation task has no identity pool"))
	}
	res := t.run(ctx, job, t.Pool.Pick(), t.Timeout)
	return res.Err
}

// Run visits url once presenting id. A non-positive timeout falls back to
// the task timeout.
func (t *Task) Run(ctx context.Context, url string, id identity.Identity, timeout time.Duration) Result {
	return t.run(ctx, runner.Job{URL: url}, id, timeout)
}

func (t *Task) run(ctx context.Context, job runner.Job, id identity.Identity, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = t.Timeout
	}
	res := Result{
		TaskID:   ulid.Make().String(),
		URL:      job.URL,
		Round:    job.Round,
		Identity: id,
	}
	log := t.logger().With(
		zap.String("task_id", res.TaskID),
		zap.String("url", job.URL),
		zap.Int("round", job.Round),
	)
	log.Info("navigating",
		zap.String("user_agent", id.UserAgent),
		zap.String("referrer", id.Referrer),
	)

	spanCtx, span := tracing.StartNavigationSpan(ctx, t.tracer(), job.URL, job.Round)

	start := time.Now()
	err := t.visit(spanCtx, log, job.URL, id, timeout)
	res.Latency = time.Since(start)
	res.Err = err
	if err != nil {
		res.Outcome = Failure
		log.Warn("navigation failed",
			zap.String("kind", string(res.Kind())),
			zap.Duration("latency", res.Latency),
			zap.Error(err),
		)
	} else {
		log.Debug("navigation succeeded", zap.Duration("latency", res.Latency))
	}

	tracing.EndSpan(span, err,
		attribute.String("pagevisit.outcome", res.Outcome.String()),
		attribute.String("pagevisit.error_kind", string(res.Kind())),
	)
	if t.Recorder != nil {
		t.Recorder.RecordNavigation(job.URL, res.Latency, err)
	}
	return res
}

// visit acquires session, context and page in that order and releases them
// in reverse on every path.
func (t *Task) visit(ctx context.Context, log *zap.Logger, url string, id identity.Identity, timeout time.Duration) error {
	if t.Driver == nil {
		return runner.ResourceExhausted(errors.New("navigation task has no browser driver"))
	}

	sess, err := t.Driver.Launch(ctx)
	if err != nil {
		return acquireError(ctx, "launch browser", err)
	}
	defer release(log, "session", sess)

	bctx, err := sess.NewContext(ctx, id)
	if err != nil {
		return acquireError(ctx, "open browser context", err)
	}
	defer release(log, "context", bctx)

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return acquireError(ctx, "open page", err)
	}
	defer release(log, "page", page)

	if err := page.Goto(ctx, url, timeout); err != nil {
		return navigationError(ctx, timeout, err)
	}
	return nil
}

func acquireError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %w", runner.ErrCanceled, step, err)
	}
	return runner.ResourceExhausted(fmt.Errorf("%s: %w", step, err))
}

func navigationError(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", runner.ErrCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", runner.ErrTimeout, timeout)
	default:
		return &runner.NetworkError{Cause: err}
	}
}

func release(log *zap.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("release failed", zap.String("resource", what), zap.Error(err))
	}
}

func (t *Task) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *Task) tracer() trace.Tracer {
	if t.Tracer == nil {
		return tracing.NoopTracer()
	}
	return t.Tracer
}

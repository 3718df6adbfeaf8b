package navigation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/technews/pagevisit/internal/browser/browsertest"
	"github.com/technews/pagevisit/internal/identity"
	"github.com/technews/pagevisit/internal/metrics"
	"github.com/technews/pagevisit/internal/navigation"
	"github.com/technews/pagevisit/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testIdentity = identity.Identity{UserAgent: "test-agent/1.0", Referrer: "https://ref.example/"}

func newTask(t *testing.T, d *browsertest.Driver) (*navigation.Task, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	pool, err := identity.New([]string{testIdentity.UserAgent}, []string{testIdentity.Referrer})
	require.NoError(t, err)
	return &navigation.Task{
		Driver:  d,
		Pool:    pool,
		Timeout: time.Second,
		Logger:  zap.New(core),
	}, logs
}

func TestRunSuccessReleasesResources(t *testing.T) {
	d := &browsertest.Driver{Latency: 5 * time.Millisecond}
	task, logs := newTask(t, d)

	res := task.Run(context.Background(), "https://a.example/", testIdentity, 0)

	assert.Equal(t, navigation.Success, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, runner.KindNone, res.Kind())
	assert.NotEmpty(t, res.TaskID)
	assert.GreaterOrEqual(t, res.Latency, 5*time.Millisecond)
	assert.Zero(t, d.OpenTotal(), "session, context and page must be closed")

	visits := d.Visits()
	require.Len(t, visits, 1)
	assert.Equal(t, testIdentity, visits[0].Identity)

	info := logs.FilterMessage("navigating").All()
	require.Len(t, info, 1)
	fields := info[0].ContextMap()
	assert.Equal(t, "https://a.example/", fields["url"])
	assert.Equal(t, testIdentity.UserAgent, fields["user_agent"])
	assert.Equal(t, testIdentity.Referrer, fields["referrer"])
	assert.Equal(t, res.TaskID, fields["task_id"])
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestRunTimeout(t *testing.T) {
	d := &browsertest.Driver{Latency: time.Second}
	task, logs := newTask(t, d)

	start := time.Now()
	res := task.Run(context.Background(), "https://slow.example/", testIdentity, 20*time.Millisecond)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, navigation.Failure, res.Outcome)
	assert.Equal(t, runner.KindTimeout, res.Kind())
	assert.ErrorIs(t, res.Err, runner.ErrTimeout)
	assert.False(t, runner.IsFatal(res.Err))
	assert.Zero(t, d.OpenTotal())

	warn := logs.FilterMessage("navigation failed").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "timeout", warn[0].ContextMap()["kind"])
}

func TestRunNetworkError(t *testing.T) {
	cause := errors.New("net::ERR_NAME_NOT_RESOLVED")
	d := &browsertest.Driver{Fail: map[string]error{"https://gone.example/": cause}}
	task, _ := newTask(t, d)

	res := task.Run(context.Background(), "https://gone.example/", testIdentity, 0)

	assert.Equal(t, navigation.Failure, res.Outcome)
	assert.Equal(t, runner.KindNetwork, res.Kind())
	var netErr *runner.NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.ErrorIs(t, netErr, cause)
	assert.Zero(t, d.OpenTotal())
}

func TestRunCancelledMidNavigation(t *testing.T) {
	d := &browsertest.Driver{Latency: time.Second}
	task, _ := newTask(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	res := task.Run(ctx, "https://a.example/", testIdentity, 5*time.Second)

	assert.Equal(t, runner.KindCanceled, res.Kind())
	assert.ErrorIs(t, res.Err, runner.ErrCanceled)
	assert.Zero(t, d.OpenTotal())
}

func TestRunCancelledBeforeLaunch(t *testing.T) {
	d := &browsertest.Driver{}
	task, _ := newTask(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := task.Run(ctx, "https://a.example/", testIdentity, 0)

	assert.Equal(t, runner.KindCanceled, res.Kind(), "cancellation is never resource exhaustion")
	assert.False(t, runner.IsFatal(res.Err))
	assert.Zero(t, d.Launched())
}

func TestRunAcquisitionFailureIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		driver *browsertest.Driver
	}{
		{"launch", &browsertest.Driver{FailLaunch: true}},
		{"page", &browsertest.Driver{FailPage: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, _ := newTask(t, tt.driver)

			res := task.Run(context.Background(), "https://a.example/", testIdentity, 0)

			assert.Equal(t, runner.KindResourceExhausted, res.Kind())
			assert.True(t, runner.IsFatal(res.Err))
			assert.Zero(t, tt.driver.OpenTotal(), "partially acquired resources must be released")
		})
	}
}

func TestRunFallsBackToTaskTimeout(t *testing.T) {
	d := &browsertest.Driver{Latency: time.Second}
	task, _ := newTask(t, d)
	task.Timeout = 15 * time.Millisecond

	res := task.Run(context.Background(), "https://a.example/", testIdentity, 0)
	assert.Equal(t, runner.KindTimeout, res.Kind())
}

func TestRunRecordsMetricsAndSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := &browsertest.Driver{Fail: map[string]error{"https://bad.example/": errors.New("net::ERR_CONNECTION_RESET")}}
	task, _ := newTask(t, d)
	collector := metrics.NewCollector()
	task.Recorder = collector
	task.Tracer = tp.Tracer("test")

	task.Run(context.Background(), "https://good.example/", testIdentity, 0)
	task.Run(context.Background(), "https://bad.example/", testIdentity, 0)

	stats := collector.Stats(time.Second)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.Successes)
	assert.EqualValues(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Targets["https://bad.example/"].FailureKinds["network_error"])

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "navigate good.example", spans[0].Name)
	assert.Equal(t, "navigate bad.example", spans[1].Name)
}

func TestExecuteWithRunner(t *testing.T) {
	d := &browsertest.Driver{
		Latency: 5 * time.Millisecond,
		Fail:    map[string]error{"https://b.example/": errors.New("net::ERR_FAILED")},
	}
	task, logs := newTask(t, d)
	collector := metrics.NewCollector()
	task.Recorder = collector

	r := runner.New(runner.Options{
		Targets:  []string{"https://a.example/", "https://b.example/"},
		Rounds:   3,
		Executor: task,
	})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 6, res.Attempted)
	assert.EqualValues(t, 3, res.Successes)
	assert.EqualValues(t, 3, res.Failures)
	assert.Zero(t, d.OpenTotal())
	assert.EqualValues(t, 6, d.Launched(), "every task gets its own session")

	// The failing target never affects its sibling.
	stats := collector.Stats(res.Duration)
	assert.EqualValues(t, 3, stats.Targets["https://a.example/"].Successes)
	assert.EqualValues(t, 3, stats.Targets["https://b.example/"].Failures)

	assert.Equal(t, 6, logs.FilterMessage("navigating").Len())
	assert.Equal(t, 3, logs.FilterMessage("navigation failed").Len())
}

func TestExecuteAbortsRunOnLaunchFailure(t *testing.T) {
	d := &browsertest.Driver{FailLaunch: true}
	task, _ := newTask(t, d)

	r := runner.New(runner.Options{
		Targets:  []string{"https://a.example/"},
		Rounds:   100,
		Executor: task,
	})
	res, err := r.Run(context.Background())

	require.ErrorIs(t, err, runner.ErrResourceExhausted)
	assert.Less(t, res.Attempted, int64(100))
	assert.Equal(t, runner.StateAborted, r.State())
}

func TestExecuteWithoutPool(t *testing.T) {
	task := &navigation.Task{Driver: &browsertest.Driver{}}
	err := task.Execute(context.Background(), runner.Job{Round: 1, URL: "https://a.example/"})
	assert.True(t, runner.IsFatal(err))
}

// Command pagevisit repeatedly visits a set of pages in isolated headless
// browser sessions, each with a randomized user agent and referrer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/technews/pagevisit/internal/browser"
	"github.com/technews/pagevisit/internal/config"
	"github.com/technews/pagevisit/internal/dashboard"
	"github.com/technews/pagevisit/internal/identity"
	"github.com/technews/pagevisit/internal/logging"
	"github.com/technews/pagevisit/internal/metrics"
	"github.com/technews/pagevisit/internal/navigation"
	"github.com/technews/pagevisit/internal/output"
	"github.com/technews/pagevisit/internal/runner"
	"github.com/technews/pagevisit/internal/threshold"
	"github.com/technews/pagevisit/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// Replaced in tests.
var (
	stdout       io.Writer = os.Stdout
	stderr       io.Writer = os.Stderr
	newDriver              = func(cfg browser.Config) browser.Driver { return browser.NewRodDriver(cfg) }
	newDashboard           = dashboard.New
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run returns an error only for invalid configuration, startup failures and
// runs aborted because no browser session could be acquired. Individual
// navigation failures are reported, never returned.
func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	pool, err := identity.New(cfg.UserAgents, cfg.Referrers, identity.WithSeed(cfg.Seed))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	driver := newDriver(browserConfig(cfg.Browser))
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("browser driver close failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()
	task := &navigation.Task{
		Driver:   driver,
		Pool:     pool,
		Timeout:  cfg.Timeout,
		Logger:   logger.Named("navigation"),
		Recorder: collector,
		Tracer:   tp.Tracer(),
	}

	r := runner.New(runner.Options{
		Targets:         cfg.Targets,
		Rounds:          cfg.Rounds,
		InterRoundDelay: cfg.InterRoundDelay,
		Concurrency:     cfg.Concurrency,
		QueueSize:       cfg.QueueSize,
		Executor:        task,
		OnRound: func(round int, at time.Time) {
			logger.Debug("round dispatched", zap.Int("round", round), zap.Time("at", at))
		},
	})

	var (
		dash     *dashboard.Dashboard
		progress *output.ProgressReporter
	)
	if cfg.Dashboard {
		dash, err = newDashboard(collector, dashboard.RunInfo{
			Targets:         cfg.Targets,
			Rounds:          cfg.Rounds,
			InterRoundDelay: cfg.InterRoundDelay,
			Timeout:         cfg.Timeout,
			Concurrency:     cfg.Concurrency,
			Identities:      len(pool.UserAgents()),
			ConfigFile:      cfg.ConfigFile,
		}, r.Round, cancel)
		if err != nil {
			return err
		}
		dash.Start()
	} else if cfg.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, stderr)
		progress.TrackRounds(r.Round, cfg.Rounds)
		progress.Start()
	}

	logger.Info("run starting",
		zap.Strings("targets", cfg.Targets),
		zap.Int("rounds", cfg.Rounds),
		zap.Duration("inter_round_delay", cfg.InterRoundDelay),
		zap.Duration("timeout", cfg.Timeout),
		zap.Int("identities", len(pool.UserAgents())),
		zap.Int("referrers", len(pool.Referrers())),
		zap.Bool("tracing", tp.Enabled()),
	)

	// Reset the reference time so visit rates exclude startup.
	collector.Start()
	res, runErr := r.Run(ctx)
	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
	}

	logFinished(logger, r.State(), res, runErr)

	report := output.NewReport(res, collector.Stats(res.Duration), runErr)
	report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(report.Navigations)
	if !threshold.AllPassed(report.Thresholds) {
		logger.Warn("thresholds failed", zap.Strings("checks", failedChecks(report.Thresholds)))
	}
	if err := output.Write(stdout, string(cfg.ReportFormat), report); err != nil {
		return err
	}
	return runErr
}

func logFinished(logger *zap.Logger, state runner.State, res runner.Result, runErr error) {
	fields := []zap.Field{
		zap.Stringer("state", state),
		zap.Int64("rounds", res.Rounds),
		zap.Int64("attempted", res.Attempted),
		zap.Int64("successes", res.Successes),
		zap.Int64("failures", res.Failures),
		zap.Int64("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	}
	switch {
	case runErr != nil:
		logger.Error("run aborted", append(fields, zap.Error(runErr))...)
	case res.Cancelled:
		logger.Warn("run cancelled", fields...)
	default:
		logger.Info("run finished", fields...)
	}
}

// newLogger writes to stderr unless a log file is configured. The dashboard
// owns the terminal, so without a file its logs are discarded.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	}
	switch {
	case cfg.Log.File != "":
		lc.OutputPaths = []string{cfg.Log.File}
	case cfg.Dashboard:
		return logging.Nop(), nil
	}
	return logging.New(lc)
}

func failedChecks(results []threshold.Result) []string {
	var out []string
	for _, r := range results {
		if !r.Pass {
			out = append(out, r.Check)
		}
	}
	return out
}

func browserConfig(c config.BrowserConfig) browser.Config {
	return browser.Config{
		Bin:       c.Bin,
		Headless:  c.Headless,
		NoSandbox: c.NoSandbox,
		RemoteURL: c.RemoteURL,
		Flags:     append([]string(nil), c.Flags...),
	}
}

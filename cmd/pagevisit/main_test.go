package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/technews/pagevisit/internal/browser"
	"github.com/technews/pagevisit/internal/browser/browsertest"
	"github.com/technews/pagevisit/internal/config"
	"github.com/technews/pagevisit/internal/runner"
)

// withFakeBrowser routes run through d and captures the report.
func withFakeBrowser(t *testing.T, d *browsertest.Driver) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	prevOut, prevErr, prevDriver := stdout, stderr, newDriver
	stdout, stderr = &out, &bytes.Buffer{}
	newDriver = func(browser.Config) browser.Driver { return d }
	t.Cleanup(func() { stdout, stderr, newDriver = prevOut, prevErr, prevDriver })
	return &out
}

type jsonReport struct {
	Rounds    int64  `json:"rounds"`
	Attempted int64  `json:"attempted"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
	AbortedBy string `json:"aborted_by"`

	Thresholds []struct {
		Check string `json:"check"`
		Pass  bool   `json:"pass"`
	} `json:"thresholds"`
}

func decodeReport(t *testing.T, buf *bytes.Buffer) jsonReport {
	t.Helper()
	var r jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r), buf.String())
	return r
}

func baseArgs(extra ...string) []string {
	return append([]string{
		"--inter-round-delay=0",
		"--report-format=json",
		"--log-level=error",
		"--timeout-ms=1000",
	}, extra...)
}

func TestRunTwoTargetsThreeRounds(t *testing.T) {
	d := &browsertest.Driver{Latency: 5 * time.Millisecond}
	out := withFakeBrowser(t, d)

	start := time.Now()
	err := run(baseArgs("--rounds=3", "https://a.example/", "https://b.example/"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	r := decodeReport(t, out)
	assert.EqualValues(t, 3, r.Rounds)
	assert.EqualValues(t, 6, r.Attempted)
	assert.EqualValues(t, 6, r.Successes)
	assert.Zero(t, r.Failures)
	assert.Zero(t, d.OpenTotal())
	assert.EqualValues(t, 1, d.Closed(), "driver is released once the run ends")
}

func TestRunNavigationFailuresDoNotFailTheRun(t *testing.T) {
	d := &browsertest.Driver{Fail: map[string]error{"https://b.example/": errors.New("net::ERR_CONNECTION_REFUSED")}}
	out := withFakeBrowser(t, d)

	err := run(baseArgs("--rounds=2", "https://a.example/", "https://b.example/"))
	require.NoError(t, err)

	r := decodeReport(t, out)
	assert.EqualValues(t, 2, r.Successes)
	assert.EqualValues(t, 2, r.Failures)
}

func TestRunThresholdsAreReportedNotFatal(t *testing.T) {
	d := &browsertest.Driver{Fail: map[string]error{"https://b.example/": errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	out := withFakeBrowser(t, d)

	err := run(baseArgs("--rounds=2",
		"--threshold", "navigation_failed{https://a.example/}:count == 0",
		"--threshold", "navigation_failed:rate < 0.1",
		"https://a.example/", "https://b.example/"))
	require.NoError(t, err)

	r := decodeReport(t, out)
	require.Len(t, r.Thresholds, 2)
	assert.True(t, r.Thresholds[0].Pass)
	assert.False(t, r.Thresholds[1].Pass)
}

func TestRunAbortsWhenBrowserUnavailable(t *testing.T) {
	d := &browsertest.Driver{FailLaunch: true}
	out := withFakeBrowser(t, d)

	err := run(baseArgs("--rounds=50", "https://a.example/"))
	require.ErrorIs(t, err, runner.ErrResourceExhausted)

	r := decodeReport(t, out)
	assert.NotEmpty(t, r.AbortedBy)
	assert.Less(t, r.Attempted, int64(50))
	assert.EqualValues(t, 1, d.Closed())
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	withFakeBrowser(t, &browsertest.Driver{})

	err := run([]string{"--rounds=0", "not a url"})
	var cfgErr *runner.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.GreaterOrEqual(t, len(cfgErr.Issues), 2)

	err = run(baseArgs("--user-agent= ", "https://a.example/"))
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunHelp(t *testing.T) {
	withFakeBrowser(t, &browsertest.Driver{})
	assert.NoError(t, run([]string{"--help"}))
	assert.NoError(t, run(nil))
}

func TestRunTextReportWithProgress(t *testing.T) {
	out := withFakeBrowser(t, &browsertest.Driver{})

	require.NoError(t, run([]string{
		"--inter-round-delay=0", "--log-level=error", "--progress", "--seed=7",
		"--rounds=2", "https://a.example/",
	}))
	assert.Contains(t, out.String(), "--- Page Visit Results ---")
	assert.Contains(t, out.String(), "Attempted:         2")
}

func TestBrowserConfig(t *testing.T) {
	in := config.BrowserConfig{
		Bin:       "/opt/chrome",
		Headless:  true,
		NoSandbox: true,
		RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x",
		Flags:     []string{"disable-gpu"},
	}
	got := browserConfig(in)
	assert.Equal(t, browser.Config{
		Bin:       "/opt/chrome",
		Headless:  true,
		NoSandbox: true,
		RemoteURL: "ws://127.0.0.1:9222/devtools/browser/x",
		Flags:     []string{"disable-gpu"},
	}, got)

	in.Flags[0] = "mutated"
	assert.Equal(t, "disable-gpu", got.Flags[0])
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Dashboard = true
	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel), "dashboard without a log file should discard logs")

	path := filepath.Join(t.TempDir(), "visit.log")
	cfg.Log.File = path
	logger, err = newLogger(cfg)
	require.NoError(t, err)
	logger.Info("written to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

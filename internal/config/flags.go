package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pagevisit [flags] [target ...]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")

	// Dispatch flags
	flags.StringSliceP("target", "u", nil, "Target URL to visit every round (repeatable)")
	flags.String("targets-file", "", "File of target URLs (.txt one per line, .csv with a url column, or .json)")
	flags.IntP("rounds", "n", DefaultRounds, "Number of rounds to dispatch")
	flags.Float64P("inter-round-delay", "d", DefaultInterRoundDelay.Seconds(), "Seconds between the start of consecutive rounds")
	flags.Int("timeout-ms", int(DefaultTimeout.Milliseconds()), "Per-navigation timeout in milliseconds")
	flags.IntP("concurrency", "c", 0, "Maximum navigations in flight (0 means one per target)")
	flags.Int("queue-size", 0, "Dispatched navigations waiting for a worker (0 means one per target)")

	// Identity flags
	flags.StringSlice("user-agent", nil, "User agent to pick from (repeatable, replaces the built-in pool)")
	flags.String("user-agents-file", "", "File of user agents replacing the pool (.txt, .csv user_agent column, or .json)")
	flags.StringSlice("referrer", nil, "Referrer to pick from (repeatable, replaces the built-in pool)")
	flags.String("referrers-file", "", "File of referrers replacing the pool (.txt, .csv referrer column, or .json)")
	flags.Int64("seed", 0, "Seed for identity selection (0 means random)")

	// Browser flags
	flags.String("browser-bin", "", "Path to the Chromium binary (default: auto-detect or download)")
	flags.Bool("headless", true, "Run the browser without a window")
	flags.Bool("no-sandbox", false, "Disable the Chromium sandbox (needed in most containers)")
	flags.String("remote-url", "", "DevTools endpoint of an already running browser (ws://... or http://host:9222)")
	flags.StringSlice("browser-flag", nil, "Extra Chromium flag in name or name=value form (repeatable)")

	// Output flags
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "json", "Log encoding: json or console")
	flags.Bool("log-development", false, "Use zap's development logger settings")
	flags.String("log-file", "", "Write logs to this file instead of stderr")
	flags.StringP("report-format", "o", string(ReportText), "Final report format: text, json or yaml")
	flags.Bool("progress", false, "Show a live progress line on stderr")
	flags.Bool("dashboard", false, "Show a live terminal dashboard (press q to stop the run)")
	flags.StringArray("threshold", nil, "Pass/fail check shown in the report, e.g. 'navigation_duration:p99 < 5000' (repeatable)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port); tracing is off when empty")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of navigations to trace (0.0 to 1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetStringSlice("target")
		if err != nil {
			return err
		}
		cfg.Targets = val
	}
	if fs.Changed("targets-file") {
		val, err := fs.GetString("targets-file")
		if err != nil {
			return err
		}
		cfg.TargetsFile = strings.TrimSpace(val)
	}
	if fs.Changed("rounds") {
		val, err := fs.GetInt("rounds")
		if err != nil {
			return err
		}
		cfg.Rounds = val
	}
	if fs.Changed("inter-round-delay") {
		val, err := fs.GetFloat64("inter-round-delay")
		if err != nil {
			return err
		}
		cfg.InterRoundDelay = secondsToDuration(val)
	}
	if fs.Changed("timeout-ms") {
		val, err := fs.GetInt("timeout-ms")
		if err != nil {
			return err
		}
		cfg.Timeout = time.Duration(val) * time.Millisecond
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}
	if fs.Changed("queue-size") {
		val, err := fs.GetInt("queue-size")
		if err != nil {
			return err
		}
		cfg.QueueSize = val
	}
	if fs.Changed("user-agent") {
		val, err := fs.GetStringSlice("user-agent")
		if err != nil {
			return err
		}
		cfg.UserAgents = val
	}
	if fs.Changed("user-agents-file") {
		val, err := fs.GetString("user-agents-file")
		if err != nil {
			return err
		}
		cfg.UserAgentsFile = strings.TrimSpace(val)
	}
	if fs.Changed("referrer") {
		val, err := fs.GetStringSlice("referrer")
		if err != nil {
			return err
		}
		cfg.Referrers = val
	}
	if fs.Changed("referrers-file") {
		val, err := fs.GetString("referrers-file")
		if err != nil {
			return err
		}
		cfg.ReferrersFile = strings.TrimSpace(val)
	}
	if fs.Changed("seed") {
		val, err := fs.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = val
	}
	if fs.Changed("browser-bin") {
		val, err := fs.GetString("browser-bin")
		if err != nil {
			return err
		}
		cfg.Browser.Bin = strings.TrimSpace(val)
	}
	if fs.Changed("headless") {
		val, err := fs.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.Browser.Headless = val
	}
	if fs.Changed("no-sandbox") {
		val, err := fs.GetBool("no-sandbox")
		if err != nil {
			return err
		}
		cfg.Browser.NoSandbox = val
	}
	if fs.Changed("remote-url") {
		val, err := fs.GetString("remote-url")
		if err != nil {
			return err
		}
		cfg.Browser.RemoteURL = strings.TrimSpace(val)
	}
	if fs.Changed("browser-flag") {
		val, err := fs.GetStringSlice("browser-flag")
		if err != nil {
			return err
		}
		cfg.Browser.Flags = val
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-development") {
		val, err := fs.GetBool("log-development")
		if err != nil {
			return err
		}
		cfg.Log.Development = val
	}
	if fs.Changed("log-file") {
		val, err := fs.GetString("log-file")
		if err != nil {
			return err
		}
		cfg.Log.File = strings.TrimSpace(val)
	}
	if fs.Changed("report-format") {
		val, err := fs.GetString("report-format")
		if err != nil {
			return err
		}
		cfg.ReportFormat = ReportFormat(val)
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/technews/pagevisit/internal/identity"
	"github.com/technews/pagevisit/internal/logging"
	"github.com/technews/pagevisit/internal/runner"
	"github.com/technews/pagevisit/internal/threshold"
)

// Defaults applied before the config file and flags are read.
const (
	DefaultRounds          = 5000
	DefaultInterRoundDelay = time.Second
	DefaultTimeout         = 30 * time.Second
)

// Each in-flight navigation owns a Chromium process.
const highConcurrency = 64

type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
	ReportYAML ReportFormat = "yaml"
)

type Config struct {
	Targets         []string      `mapstructure:"targets"`
	TargetsFile     string        `mapstructure:"targets_file"`
	Rounds          int           `mapstructure:"rounds"`
	InterRoundDelay time.Duration `mapstructure:"inter_round_delay"`
	Timeout         time.Duration `mapstructure:"timeout_ms"`
	Concurrency     int           `mapstructure:"concurrency"`
	QueueSize       int           `mapstructure:"queue_size"`
	UserAgents      []string      `mapstructure:"user_agents"`
	UserAgentsFile  string        `mapstructure:"user_agents_file"`
	Referrers       []string      `mapstructure:"referrers"`
	ReferrersFile   string        `mapstructure:"referrers_file"`
	Seed            int64         `mapstructure:"seed"`
	Browser         BrowserConfig `mapstructure:"browser"`
	Log             LogConfig     `mapstructure:"log"`
	ReportFormat    ReportFormat  `mapstructure:"report_format"`
	Progress        bool          `mapstructure:"progress"`
	Dashboard       bool          `mapstructure:"dashboard"`
	Thresholds      []string      `mapstructure:"thresholds"`
	Tracing         TracingConfig `mapstructure:"tracing"`
	ConfigFile      string        `mapstructure:"-"`
}

type BrowserConfig struct {
	Bin       string   `mapstructure:"bin"`
	Headless  bool     `mapstructure:"headless"`
	NoSandbox bool     `mapstructure:"no_sandbox"`
	RemoteURL string   `mapstructure:"remote_url"`
	Flags     []string `mapstructure:"flags"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// TracingConfig configures OTLP span export. An empty Endpoint leaves the
// decision to OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		Rounds:          DefaultRounds,
		InterRoundDelay: DefaultInterRoundDelay,
		Timeout:         DefaultTimeout,
		UserAgents:      append([]string(nil), identity.DefaultUserAgents...),
		Referrers:       append([]string(nil), identity.DefaultReferrers...),
		Browser:         BrowserConfig{Headless: true},
		Log:             LogConfig{Level: "info", Format: "json"},
		ReportFormat:    ReportText,
		Tracing:         TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Validate reports every problem at once as a *runner.ConfigurationError.
func (c Config) Validate() error {
	var issues []string

	if len(c.Targets) == 0 {
		issues = append(issues, "at least one target is required (use --help for usage information)")
	}
	for _, t := range c.Targets {
		if err := validateTarget(t); err != nil {
			issues = append(issues, err.Error())
		}
	}

	if c.Rounds < 1 {
		issues = append(issues, "rounds must be at least 1")
	}
	if c.InterRoundDelay < 0 {
		issues = append(issues, "inter_round_delay must not be negative")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout_ms must be greater than zero")
	}
	if c.Concurrency < 0 {
		issues = append(issues, "concurrency must not be negative")
	}
	if c.QueueSize < 0 {
		issues = append(issues, "queue_size must not be negative")
	}
	if !hasNonBlank(c.UserAgents) {
		issues = append(issues, "user_agents must contain at least one entry")
	}
	if !hasNonBlank(c.Referrers) {
		issues = append(issues, "referrers must contain at least one entry")
	}

	switch c.ReportFormat {
	case ReportText, ReportJSON, ReportYAML:
	default:
		issues = append(issues, fmt.Sprintf("report_format must be text, json or yaml, got %q", c.ReportFormat))
	}

	if _, err := threshold.ParseMultiple(c.Thresholds); err != nil {
		issues = append(issues, fmt.Sprintf("thresholds: %v", err))
	}

	issues = append(issues, validateBrowserConfig(c.Browser)...)
	issues = append(issues, validateLogConfig(c.Log)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return &runner.ConfigurationError{Issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Concurrency > highConcurrency || (c.Concurrency == 0 && len(c.Targets) > highConcurrency) {
		warnings = append(warnings, fmt.Sprintf("high concurrency: up to %d browser processes may run at once", max(c.Concurrency, len(c.Targets))))
	}
	if c.Browser.NoSandbox {
		warnings = append(warnings, "chromium sandbox disabled")
	}
	if c.Dashboard && c.Progress {
		warnings = append(warnings, "progress line disabled while the dashboard is active")
	}
	return warnings
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target %q: %v", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target %q must be an absolute http or https URL", raw)
	}
	return nil
}

func validateBrowserConfig(b BrowserConfig) []string {
	if b.RemoteURL == "" {
		return nil
	}
	u, err := url.Parse(b.RemoteURL)
	if err != nil || u.Host == "" {
		return []string{fmt.Sprintf("browser.remote_url %q is not a valid URL", b.RemoteURL)}
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return nil
	default:
		return []string{fmt.Sprintf("browser.remote_url must use ws, wss, http or https, got %q", u.Scheme)}
	}
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	if _, err := logging.ParseLevel(l.Level); err != nil {
		issues = append(issues, fmt.Sprintf("log.level: %v", err))
	}
	switch strings.ToLower(l.Format) {
	case "", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log.format must be json or console, got %q", l.Format))
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func hasNonBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/technews/pagevisit/internal/feeder"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the optional configuration file.
// File settings are applied first; flags that were set explicitly override
// them. Positional arguments are appended to the target list.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// Nothing to do without arguments or a config file.
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	cfg.Targets = append(cfg.Targets, flagSet.Args()...)

	if err := loadListFiles(cfg); err != nil {
		return nil, err
	}

	cfg.Targets = trimAll(cfg.Targets)
	cfg.UserAgents = trimAll(cfg.UserAgents)
	cfg.Referrers = trimAll(cfg.Referrers)
	cfg.Thresholds = trimAll(cfg.Thresholds)
	cfg.ReportFormat = ReportFormat(strings.ToLower(strings.TrimSpace(string(cfg.ReportFormat))))

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "targets", "target"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}
		cfg.Targets = val
	}

	if raw, ok := lookupSetting(settings, "targetsfile", "targets_file", "targets-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("targets_file: %w", err)
		}
		cfg.TargetsFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "rounds"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rounds: %w", err)
		}
		cfg.Rounds = val
	}

	if raw, ok := lookupSetting(settings, "interrounddelay", "inter_round_delay", "inter-round-delay",
		"interrounddelayseconds", "inter_round_delay_seconds"); ok {
		val, err := asSeconds(raw)
		if err != nil {
			return fmt.Errorf("inter_round_delay: %w", err)
		}
		cfg.InterRoundDelay = val
	}

	if raw, ok := lookupSetting(settings, "timeoutms", "timeout_ms", "timeout-ms",
		"pernavigationtimeoutms", "per_navigation_timeout_ms"); ok {
		val, err := asMillis(raw)
		if err != nil {
			return fmt.Errorf("timeout_ms: %w", err)
		}
		cfg.Timeout = val
	}

	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "queuesize", "queue_size", "queue-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("queue_size: %w", err)
		}
		cfg.QueueSize = val
	}

	if raw, ok := lookupSetting(settings, "useragents", "user_agents", "user-agents"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("user_agents: %w", err)
		}
		cfg.UserAgents = val
	}

	if raw, ok := lookupSetting(settings, "useragentsfile", "user_agents_file", "user-agents-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("user_agents_file: %w", err)
		}
		cfg.UserAgentsFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "referrers"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("referrers: %w", err)
		}
		cfg.Referrers = val
	}

	if raw, ok := lookupSetting(settings, "referrersfile", "referrers_file", "referrers-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("referrers_file: %w", err)
		}
		cfg.ReferrersFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt64(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = val
	}

	if raw, ok := lookupSetting(settings, "reportformat", "report_format", "report-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("report_format: %w", err)
		}
		cfg.ReportFormat = ReportFormat(val)
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "thresholds", "threshold"); ok {
		val, err := asStringList(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "browser"); ok {
		if err := applySection(raw, &cfg.Browser, applyBrowserSettings); err != nil {
			return fmt.Errorf("browser: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log", "logging"); ok {
		if err := applySection(raw, &cfg.Log, applyLogSettings); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applySection(raw, &cfg.Tracing, applyTracingSettings); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

// applySection normalizes a nested settings block and applies it on top of
// the defaults already held in dst.
func applySection[T any](raw interface{}, dst *T, apply func(*T, map[string]interface{}) error) error {
	if raw == nil {
		return nil
	}
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	return apply(dst, settings)
}

func applyBrowserSettings(b *BrowserConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "bin", "binary", "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("bin: %w", err)
		}
		b.Bin = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headless"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("headless: %w", err)
		}
		b.Headless = val
	}
	if raw, ok := lookupSetting(settings, "nosandbox", "no_sandbox", "no-sandbox"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("no_sandbox: %w", err)
		}
		b.NoSandbox = val
	}
	if raw, ok := lookupSetting(settings, "remoteurl", "remote_url", "remote-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("remote_url: %w", err)
		}
		b.RemoteURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "flags"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("flags: %w", err)
		}
		b.Flags = val
	}
	return nil
}

func applyLogSettings(l *LogConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		l.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		l.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "development"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("development: %w", err)
		}
		l.Development = val
	}
	if raw, ok := lookupSetting(settings, "file", "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}
		l.File = strings.TrimSpace(val)
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}

// loadListFiles appends targets read from TargetsFile and replaces the
// identity pools with the contents of their files.
func loadListFiles(cfg *Config) error {
	if cfg.TargetsFile != "" {
		urls, err := feeder.Load(cfg.TargetsFile, feeder.FieldURL)
		if err != nil {
			return fmt.Errorf("targets_file: %w", err)
		}
		cfg.Targets = append(cfg.Targets, urls...)
	}
	if cfg.UserAgentsFile != "" {
		agents, err := feeder.Load(cfg.UserAgentsFile, feeder.FieldUserAgent)
		if err != nil {
			return fmt.Errorf("user_agents_file: %w", err)
		}
		cfg.UserAgents = agents
	}
	if cfg.ReferrersFile != "" {
		refs, err := feeder.Load(cfg.ReferrersFile, feeder.FieldReferrer)
		if err != nil {
			return fmt.Errorf("referrers_file: %w", err)
		}
		cfg.Referrers = refs
	}
	return nil
}

func trimAll(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

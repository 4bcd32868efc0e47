package jobpoller

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the polling engine.
type Config struct {
	// SubmitTimeout bounds a single Submit call to the executor.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	// QueryTimeout bounds a single status query to the executor.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// PollInterval is the base wait between status polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// OverallDeadline is the total budget of a run, measured from its
	// creation. A run still polling at the deadline ends as timed out.
	OverallDeadline time.Duration `yaml:"overall_deadline"`

	// MinPollDelay is the floor applied to every computed poll delay.
	MinPollDelay time.Duration `yaml:"min_poll_delay"`

	// Backoff selects the policy that spaces polls.
	Backoff BackoffConfig `yaml:"backoff"`

	// MaxConcurrentRuns limits how many runs execute at once in this
	// process. Zero means unlimited.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// FetchFinalStatus re-queries the executor once after a success to
	// record the final payload.
	FetchFinalStatus bool `yaml:"fetch_final_status"`

	// LeaseTTL is how long a worker's claim on a run outlives its next
	// executor call. It must exceed both call timeouts.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// ResumeInterval is how often a started engine looks for active runs
	// that no worker is executing. Zero disables the rescan.
	ResumeInterval time.Duration `yaml:"resume_interval"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Cron      CronConfig        `yaml:"cron"`
	Store     StoreConfig       `yaml:"store"`
	Executor  ExecutorConfig    `yaml:"executor"`
	HTTP      HTTPConfig        `yaml:"http"`
	Status    StatusConfig      `yaml:"status"`
	Log       LogConfig         `yaml:"log"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
	Crons     []CronEntryConfig `yaml:"crons"`
}

// BackoffConfig selects a poll spacing strategy.
type BackoffConfig struct {
	// Strategy is one of "constant", "linear", "exponential" or
	// "exponential_jitter".
	Strategy string `yaml:"strategy"`

	// MaxInterval caps growing strategies. Zero means no cap.
	MaxInterval time.Duration `yaml:"max_interval"`

	// Seed feeds the deterministic jitter of "exponential_jitter".
	Seed uint64 `yaml:"seed"`
}

// CronConfig tunes the cron trigger source.
type CronConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	Disabled     bool          `yaml:"disabled"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "postgres" or "redis".
	Driver string `yaml:"driver"`

	// DSN is the PostgreSQL connection URL.
	DSN string `yaml:"dsn"`

	// RedisAddr, RedisPassword and RedisDB configure the Redis client.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Migrate runs schema migrations on startup.
	Migrate bool `yaml:"migrate"`
}

// ExecutorConfig configures the HTTP executor client.
type ExecutorConfig struct {
	BaseURL string `yaml:"base_url"`

	// QueryRateLimit is the sustained status queries per second shared by
	// all runs. Zero disables throttling.
	QueryRateLimit float64 `yaml:"query_rate_limit"`
	QueryBurst     int     `yaml:"query_burst"`

	// Fake swaps the HTTP client for an in-process executor that succeeds
	// every job after FakePolls polls. Development only.
	Fake      bool `yaml:"fake"`
	FakePolls int  `yaml:"fake_polls"`
}

// HTTPConfig configures the admin API listener.
type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

// StatusConfig overrides the status vocabulary. Empty lists keep the
// defaults.
type StatusConfig struct {
	Running   []string `yaml:"running"`
	Succeeded []string `yaml:"succeeded"`
	Failed    []string `yaml:"failed"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// File, when set, sends logs to a size-rotated file instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`

	// Audit records every run lifecycle notification as an audit log line.
	Audit bool `yaml:"audit"`
}

// TelemetryConfig configures OpenTelemetry trace and metric export.
type TelemetryConfig struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`

	// MetricInterval is how often metrics are pushed.
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// CronEntryConfig declares a cron entry registered at startup.
type CronEntryConfig struct {
	Name       string `yaml:"name"`
	Schedule   string `yaml:"schedule"`
	Parameters string `yaml:"parameters"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout:   30 * time.Second,
		QueryTimeout:    30 * time.Second,
		PollInterval:    30 * time.Second,
		OverallDeadline: 5 * time.Minute,
		MinPollDelay:    1 * time.Second,
		Backoff:         BackoffConfig{Strategy: "constant"},
		LeaseTTL:        1 * time.Minute,
		ResumeInterval:  15 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Cron: CronConfig{
			TickInterval: 1 * time.Second,
			LockTTL:      30 * time.Second,
		},
		Store: StoreConfig{Driver: "memory", Migrate: true},
		Executor: ExecutorConfig{
			QueryRateLimit: 10,
			QueryBurst:     5,
			FakePolls:      2,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Telemetry: TelemetryConfig{
			Exporter:       "none",
			ServiceName:    "jobpoller",
			SampleRatio:    1,
			MetricInterval: 15 * time.Second,
		},
	}
}

// Validate reports configuration values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.OverallDeadline <= 0 {
		errs = append(errs, errors.New("overall_deadline must be positive"))
	}
	if c.MinPollDelay <= 0 {
		errs = append(errs, errors.New("min_poll_delay must be positive"))
	}
	if c.SubmitTimeout < 0 || c.QueryTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.LeaseTTL <= c.SubmitTimeout || c.LeaseTTL <= c.QueryTimeout {
		errs = append(errs, errors.New("lease_ttl must exceed submit_timeout and query_timeout"))
	}
	if c.ResumeInterval < 0 {
		errs = append(errs, errors.New("resume_interval must not be negative"))
	}
	if c.MaxConcurrentRuns < 0 {
		errs = append(errs, errors.New("max_concurrent_runs must not be negative"))
	}
	switch c.Store.Driver {
	case "memory", "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig and applies
// JOBPOLLER_* environment overrides. An empty path loads defaults and
// environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("jobpoller: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("jobpoller: parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("JOBPOLLER_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("JOBPOLLER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("JOBPOLLER_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("JOBPOLLER_EXECUTOR_URL"); v != "" {
		cfg.Executor.BaseURL = v
	}
	if v := os.Getenv("JOBPOLLER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("JOBPOLLER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JOBPOLLER_OTEL_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := os.Getenv("JOBPOLLER_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	durations := map[string]*time.Duration{
		"JOBPOLLER_POLL_INTERVAL":    &cfg.PollInterval,
		"JOBPOLLER_OVERALL_DEADLINE": &cfg.OverallDeadline,
		"JOBPOLLER_SUBMIT_TIMEOUT":   &cfg.SubmitTimeout,
		"JOBPOLLER_QUERY_TIMEOUT":    &cfg.QueryTimeout,
		"JOBPOLLER_LEASE_TTL":        &cfg.LeaseTTL,
		"JOBPOLLER_RESUME_INTERVAL":  &cfg.ResumeInterval,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("jobpoller: %s: %w", key, err)
		}
		*dst = d
	}
	if v := os.Getenv("JOBPOLLER_MAX_CONCURRENT_RUNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("jobpoller: JOBPOLLER_MAX_CONCURRENT_RUNS: %w", err)
		}
		cfg.MaxConcurrentRuns = n
	}
	return nil
}

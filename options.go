package jobpoller

import "time"

// Option adjusts a Config. Options are applied in order by NewConfig.
type Option func(*Config)

// NewConfig returns DefaultConfig with the given options applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPollInterval sets the base wait between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithOverallDeadline sets the total budget of each run.
func WithOverallDeadline(d time.Duration) Option {
	return func(c *Config) { c.OverallDeadline = d }
}

// WithSubmitTimeout bounds each Submit call.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Config) { c.SubmitTimeout = d }
}

// WithQueryTimeout bounds each status query.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) { c.QueryTimeout = d }
}

// WithBackoff selects the poll spacing strategy.
func WithBackoff(strategy string, maxInterval time.Duration) Option {
	return func(c *Config) {
		c.Backoff.Strategy = strategy
		c.Backoff.MaxInterval = maxInterval
	}
}

// WithMaxConcurrentRuns limits how many runs execute at once.
func WithMaxConcurrentRuns(n int) Option {
	return func(c *Config) { c.MaxConcurrentRuns = n }
}

// WithFetchFinalStatus enables the extra status query after success.
func WithFetchFinalStatus(enabled bool) Option {
	return func(c *Config) { c.FetchFinalStatus = enabled }
}

// WithLeaseTTL sets how long a run claim outlives the next executor call.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Config) { c.LeaseTTL = d }
}

// WithResumeInterval sets how often a started engine rescans for
// unexecuted active runs.
func WithResumeInterval(d time.Duration) Option {
	return func(c *Config) { c.ResumeInterval = d }
}

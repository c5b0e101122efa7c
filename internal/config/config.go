package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for huntcore.
type Config struct {
	Session   SessionConfig   `mapstructure:"session"   yaml:"session"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"  yaml:"scheduler"`
	Execution ExecutionConfig `mapstructure:"execution"  yaml:"execution"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"   yaml:"pipeline"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Adaptive  AdaptiveConfig  `mapstructure:"adaptive"   yaml:"adaptive"`
	Retry     RetryConfig     `mapstructure:"retry"      yaml:"retry"`
	Output    OutputConfig    `mapstructure:"output"     yaml:"output"`
	Metrics   MetricsConfig   `mapstructure:"metrics"    yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"    yaml:"logging"`
}

// SessionConfig controls the shared HTTP client: transport pooling,
// redirects, proxy, and TLS defaults.
type SessionConfig struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`

	ProxyEnabled  bool     `mapstructure:"proxy_enabled"  yaml:"proxy_enabled"`
	ProxyURLs     []string `mapstructure:"proxy_urls"     yaml:"proxy_urls"`
	ProxyRotation string   `mapstructure:"proxy_rotation" yaml:"proxy_rotation"`
}

// SchedulerConfig controls the worker pool and backpressure.
type SchedulerConfig struct {
	ConcurrentRequests int           `mapstructure:"concurrent_requests" yaml:"concurrent_requests"`
	PendingRequests    int           `mapstructure:"pending_requests"    yaml:"pending_requests"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"       yaml:"drain_timeout"`
}

// ExecutionConfig controls run-level timeouts.
type ExecutionConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`
}

// PipelineConfig controls the item dispatcher.
type PipelineConfig struct {
	StrictUnknownItems bool `mapstructure:"strict_unknown_items" yaml:"strict_unknown_items"`
}

// RateLimitConfig selects the rate limiter mode (fixed or adaptive) and
// its per-group defaults.
type RateLimitConfig struct {
	Mode            string        `mapstructure:"mode"             yaml:"mode"` // "fixed" or "adaptive"
	DefaultInterval time.Duration `mapstructure:"default_interval" yaml:"default_interval"`
	CleanupTimeout  time.Duration `mapstructure:"cleanup_timeout"  yaml:"cleanup_timeout"`
}

// AdaptiveConfig tunes the EWMA+AIMD limiter when rate_limit.mode=adaptive.
type AdaptiveConfig struct {
	MinInterval      time.Duration `mapstructure:"min_interval"      yaml:"min_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"      yaml:"max_interval"`
	IncreaseFactor   float64       `mapstructure:"increase_factor"   yaml:"increase_factor"`
	DecreaseStep     time.Duration `mapstructure:"decrease_step"     yaml:"decrease_step"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	EWMAAlpha        float64       `mapstructure:"ewma_alpha"        yaml:"ewma_alpha"`
}

// RetryConfig controls the retry middleware.
type RetryConfig struct {
	Enabled    bool          `mapstructure:"enabled"     yaml:"enabled"`
	Strategy   string        `mapstructure:"strategy"    yaml:"strategy"` // constant, linear, exponential, exponential_jitter
	BaseDelay  time.Duration `mapstructure:"base_delay"  yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"   yaml:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// OutputConfig configures the example item-sink pipeline processor.
type OutputConfig struct {
	Type      string `mapstructure:"type"       yaml:"type"` // jsonl, json, csv, mongo
	Path      string `mapstructure:"path"       yaml:"path"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// MetricsConfig controls Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
	Output string `mapstructure:"output" yaml:"output"` // stdout or stderr
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents:      []string{"huntcore/1.0"},
			ProxyRotation:   "round_robin",
		},
		Scheduler: SchedulerConfig{
			ConcurrentRequests: 8,
			PendingRequests:    1000,
			DrainTimeout:       30 * time.Second,
		},
		Execution: ExecutionConfig{
			RequestTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			StrictUnknownItems: false,
		},
		RateLimit: RateLimitConfig{
			Mode:            "fixed",
			DefaultInterval: 500 * time.Millisecond,
			CleanupTimeout:  10 * time.Minute,
		},
		Adaptive: AdaptiveConfig{
			MinInterval:      200 * time.Millisecond,
			MaxInterval:      30 * time.Second,
			IncreaseFactor:   2.0,
			DecreaseStep:     100 * time.Millisecond,
			SuccessThreshold: 5,
			EWMAAlpha:        0.3,
		},
		Retry: RetryConfig{
			Enabled:    true,
			Strategy:   "exponential_jitter",
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			MaxRetries: 3,
		},
		Output: OutputConfig{
			Type:      "jsonl",
			Path:      "./output",
			BatchSize: 100,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

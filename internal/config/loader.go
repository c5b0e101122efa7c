package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("HUNTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("huntcore")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".huntcore"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("session.follow_redirects", cfg.Session.FollowRedirects)
	v.SetDefault("session.max_redirects", cfg.Session.MaxRedirects)
	v.SetDefault("session.max_body_size", cfg.Session.MaxBodySize)
	v.SetDefault("session.tls_insecure", cfg.Session.TLSInsecure)
	v.SetDefault("session.idle_conn_timeout", cfg.Session.IdleConnTimeout)
	v.SetDefault("session.max_idle_conns", cfg.Session.MaxIdleConns)
	v.SetDefault("session.user_agents", cfg.Session.UserAgents)
	v.SetDefault("session.proxy_enabled", cfg.Session.ProxyEnabled)
	v.SetDefault("session.proxy_rotation", cfg.Session.ProxyRotation)

	v.SetDefault("scheduler.concurrent_requests", cfg.Scheduler.ConcurrentRequests)
	v.SetDefault("scheduler.pending_requests", cfg.Scheduler.PendingRequests)
	v.SetDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout)

	v.SetDefault("execution.request_timeout", cfg.Execution.RequestTimeout)
	v.SetDefault("execution.execution_timeout", cfg.Execution.ExecutionTimeout)

	v.SetDefault("pipeline.strict_unknown_items", cfg.Pipeline.StrictUnknownItems)

	v.SetDefault("rate_limit.mode", cfg.RateLimit.Mode)
	v.SetDefault("rate_limit.default_interval", cfg.RateLimit.DefaultInterval)
	v.SetDefault("rate_limit.cleanup_timeout", cfg.RateLimit.CleanupTimeout)

	v.SetDefault("adaptive.min_interval", cfg.Adaptive.MinInterval)
	v.SetDefault("adaptive.max_interval", cfg.Adaptive.MaxInterval)
	v.SetDefault("adaptive.increase_factor", cfg.Adaptive.IncreaseFactor)
	v.SetDefault("adaptive.decrease_step", cfg.Adaptive.DecreaseStep)
	v.SetDefault("adaptive.success_threshold", cfg.Adaptive.SuccessThreshold)
	v.SetDefault("adaptive.ewma_alpha", cfg.Adaptive.EWMAAlpha)

	v.SetDefault("retry.enabled", cfg.Retry.Enabled)
	v.SetDefault("retry.strategy", cfg.Retry.Strategy)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.max_retries", cfg.Retry.MaxRetries)

	v.SetDefault("output.type", cfg.Output.Type)
	v.SetDefault("output.path", cfg.Output.Path)
	v.SetDefault("output.batch_size", cfg.Output.BatchSize)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}

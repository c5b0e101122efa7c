package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Scheduler.ConcurrentRequests < 1 {
		return fmt.Errorf("scheduler.concurrent_requests must be >= 1, got %d", cfg.Scheduler.ConcurrentRequests)
	}
	if cfg.Scheduler.ConcurrentRequests > 1000 {
		return fmt.Errorf("scheduler.concurrent_requests must be <= 1000, got %d", cfg.Scheduler.ConcurrentRequests)
	}
	if cfg.Scheduler.PendingRequests < 1 {
		return fmt.Errorf("scheduler.pending_requests must be >= 1, got %d", cfg.Scheduler.PendingRequests)
	}

	if cfg.Execution.RequestTimeout <= 0 {
		return fmt.Errorf("execution.request_timeout must be > 0")
	}

	if cfg.Session.MaxBodySize <= 0 {
		return fmt.Errorf("session.max_body_size must be > 0")
	}
	if cfg.Session.MaxRedirects < 0 {
		return fmt.Errorf("session.max_redirects must be >= 0")
	}
	if cfg.Session.ProxyEnabled {
		if cfg.Session.ProxyRotation != "round_robin" && cfg.Session.ProxyRotation != "random" {
			return fmt.Errorf("session.proxy_rotation must be 'round_robin' or 'random', got %q", cfg.Session.ProxyRotation)
		}
		for _, proxyURL := range cfg.Session.ProxyURLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if cfg.RateLimit.Mode != "fixed" && cfg.RateLimit.Mode != "adaptive" {
		return fmt.Errorf("rate_limit.mode must be 'fixed' or 'adaptive', got %q", cfg.RateLimit.Mode)
	}
	if cfg.RateLimit.DefaultInterval < 0 {
		return fmt.Errorf("rate_limit.default_interval must be >= 0")
	}

	if cfg.Adaptive.MinInterval <= 0 {
		return fmt.Errorf("adaptive.min_interval must be > 0")
	}
	if cfg.Adaptive.MaxInterval < cfg.Adaptive.MinInterval {
		return fmt.Errorf("adaptive.max_interval must be >= adaptive.min_interval")
	}
	if cfg.Adaptive.IncreaseFactor <= 1.0 {
		return fmt.Errorf("adaptive.increase_factor must be > 1.0, got %f", cfg.Adaptive.IncreaseFactor)
	}

	validStrategies := map[string]bool{
		"constant": true, "linear": true, "exponential": true, "exponential_jitter": true,
	}
	if cfg.Retry.Enabled && !validStrategies[cfg.Retry.Strategy] {
		return fmt.Errorf("retry.strategy %q is not supported", cfg.Retry.Strategy)
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", cfg.Retry.MaxRetries)
	}

	validOutputTypes := map[string]bool{"json": true, "jsonl": true, "csv": true, "mongo": true}
	if !validOutputTypes[cfg.Output.Type] {
		return fmt.Errorf("output.type %q is not supported (valid: json, jsonl, csv, mongo)", cfg.Output.Type)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for dispatch.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

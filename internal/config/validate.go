package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	c := cfg.Cloud

	if c.Endpoint == "" {
		return errors.New("cloud.endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("cloud.endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("cloud.endpoint: unsupported scheme %q", u.Scheme)
	}
	if c.DeviceID == "" {
		return errors.New("cloud.device_id is required")
	}

	if c.Product.Name == "" {
		return errors.New("cloud.product.name is required")
	}
	if c.Product.Model == "" {
		return errors.New("cloud.product.model is required")
	}

	key, secret := c.Credentials()
	mode := "production"
	if c.Sandbox {
		mode = "sandbox"
	}
	if key == "" || secret == "" {
		return fmt.Errorf("cloud.product: %s key and secret are required", mode)
	}

	if c.RetryMultiplier < 1 {
		return fmt.Errorf("cloud.retry_multiplier must be >= 1, got %v", c.RetryMultiplier)
	}
	if c.MinRetryBackoff > c.MaxRetryBackoff {
		return errors.New("cloud.min_retry_backoff must not exceed cloud.max_retry_backoff")
	}
	if c.DownlinkQueue < 0 {
		return fmt.Errorf("cloud.downlink_queue must be > 0, got %d", c.DownlinkQueue)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("cloud.rate_limit_rps must be > 0, got %v", c.RateLimitRPS)
	}

	if cfg.Device.WriteInterval <= 0 {
		return errors.New("device.write_interval must be > 0")
	}
	if cfg.Device.WriteTimeout <= 0 {
		return errors.New("device.write_timeout must be > 0")
	}

	if cfg.Healthcheck.Port < 0 || cfg.Healthcheck.Port > 65535 {
		return fmt.Errorf("healthcheck.port out of range: %d", cfg.Healthcheck.Port)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}

	return nil
}

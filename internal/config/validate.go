package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("backend.base_url is required. Set SIGHTLINE_BACKEND_URL or edit %s (create with 'sightline config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("backend.base_url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("backend.base_url must include a host")
	}
	return nil
}

func (c *Config) validateCapture() error {
	for _, domain := range append(append([]string{}, c.Capture.AllowDomains...), c.Capture.DenyDomains...) {
		if strings.ContainsAny(domain, "/:? ") {
			return fmt.Errorf("capture domain %q must be a bare host name", domain)
		}
	}
	if c.Capture.HistoryLimit > 100 {
		return errors.New("capture.history_limit must be <= 100")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if err := ensurePositiveMap(map[string]int{
		"scheduler.max_concurrent":   c.Scheduler.MaxConcurrent,
		"scheduler.poll_interval_ms": c.Scheduler.PollIntervalMS,
		"scheduler.max_batch_size":   c.Scheduler.MaxBatchSize,
	}); err != nil {
		return err
	}
	if c.Scheduler.MaxRetries < 0 {
		return errors.New("scheduler.max_retries must be >= 0")
	}
	if c.Scheduler.RetentionMinutes < 0 {
		return errors.New("scheduler.retention_minutes must be >= 0")
	}
	if c.Scheduler.MaxBatchSize > 100 {
		return errors.New("scheduler.max_batch_size must be <= 100")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) topic URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

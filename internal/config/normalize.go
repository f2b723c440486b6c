package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeBackend()
	if err := c.normalizeAuth(); err != nil {
		return err
	}
	c.normalizeCapture()
	c.normalizeScheduler()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SIGHTLINE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("SIGHTLINE_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeBackend() {
	if value, ok := os.LookupEnv("SIGHTLINE_BACKEND_URL"); ok && strings.TrimSpace(value) != "" {
		c.Backend.BaseURL = value
	}
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.RequestTimeoutSeconds <= 0 {
		c.Backend.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	c.Backend.HealthPath = normalizeEndpoint(c.Backend.HealthPath, defaultHealthPath)
	c.Backend.CapturePath = normalizeEndpoint(c.Backend.CapturePath, defaultCapturePath)
	c.Backend.AnalysisPath = normalizeEndpoint(c.Backend.AnalysisPath, defaultAnalysisPath)
}

func (c *Config) normalizeAuth() error {
	var err error
	if c.Auth.CredentialsFile, err = expandPath(strings.TrimSpace(c.Auth.CredentialsFile)); err != nil {
		return fmt.Errorf("auth.credentials_file: %w", err)
	}
	c.Auth.RefreshPath = normalizeEndpoint(c.Auth.RefreshPath, defaultRefreshPath)
	c.Auth.Token = strings.TrimSpace(c.Auth.Token)
	if c.Auth.Token == "" {
		if value, ok := os.LookupEnv("SIGHTLINE_TOKEN"); ok {
			c.Auth.Token = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.AllowDomains = normalizeDomains(c.Capture.AllowDomains)
	c.Capture.DenyDomains = normalizeDomains(c.Capture.DenyDomains)
	if c.Capture.DwellSeconds < 0 {
		c.Capture.DwellSeconds = 0
	}
	if c.Capture.HistoryLimit <= 0 {
		c.Capture.HistoryLimit = defaultHistoryLimit
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.MaxConcurrent == 0 {
		c.Scheduler.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Scheduler.PollIntervalMS == 0 {
		c.Scheduler.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Scheduler.MaxBatchSize == 0 {
		c.Scheduler.MaxBatchSize = defaultMaxBatchSize
	}
	if c.Connectivity.ProbeIntervalSeconds <= 0 {
		c.Connectivity.ProbeIntervalSeconds = defaultProbeIntervalSeconds
	}
	if c.Status.ThrottleMS <= 0 {
		c.Status.ThrottleMS = defaultStatusThrottleMS
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = "auto"
	case "console", "json":
	default:
		c.Logging.Format = "auto"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeEndpoint(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}

// normalizeDomains lowercases entries, strips leading "*." and "." wildcards,
// and drops duplicates while preserving order.
func normalizeDomains(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		domain := strings.ToLower(strings.TrimSpace(value))
		domain = strings.TrimPrefix(domain, "*.")
		domain = strings.TrimPrefix(domain, ".")
		domain = strings.TrimSuffix(domain, ".")
		if domain == "" {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}
	return out
}

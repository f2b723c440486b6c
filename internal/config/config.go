package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the local command surface settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Backend contains the remote analysis service endpoints.
type Backend struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	HealthPath            string `toml:"health_path"`
	CapturePath           string `toml:"capture_path"`
	AnalysisPath          string `toml:"analysis_path"`
}

// Auth contains bearer credential storage and refresh settings.
type Auth struct {
	CredentialsFile string `toml:"credentials_file"`
	RefreshPath     string `toml:"refresh_path"`
	// Token is an optional static access token; normally read from SIGHTLINE_TOKEN.
	Token string `toml:"token"`
}

// Capture contains auto-capture policy.
type Capture struct {
	AutoCapture         bool     `toml:"auto_capture"`
	DwellSeconds        int      `toml:"dwell_seconds"`
	AllowDomains        []string `toml:"allow_domains"`
	DenyDomains         []string `toml:"deny_domains"`
	AnalyzeAfterCapture bool     `toml:"analyze_after_capture"`
	HistoryLimit        int      `toml:"history_limit"`
}

// Scheduler contains analysis task scheduling settings.
type Scheduler struct {
	MaxConcurrent    int `toml:"max_concurrent"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
	MaxRetries       int `toml:"max_retries"`
	RetentionMinutes int `toml:"retention_minutes"`
	MaxBatchSize     int `toml:"max_batch_size"`
}

// Connectivity contains backend reachability probing settings.
type Connectivity struct {
	ProbeIntervalSeconds int  `toml:"probe_interval_seconds"`
	NetlinkEnabled       bool `toml:"netlink_enabled"`
}

// Status contains aggregate status publishing settings.
type Status struct {
	ThrottleMS int `toml:"throttle_ms"`
}

// Notifications contains ntfy push settings. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	Connectivity          bool   `toml:"connectivity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Sightline.
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Backend       Backend       `toml:"backend"`
	Auth          Auth          `toml:"auth"`
	Capture       Capture       `toml:"capture"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Status        Status        `toml:"status"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sightline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the location of the durable state database.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "sightline.db")
}

// LockPath returns the location of the single-instance daemon lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "sightline.lock")
}

// RequestTimeout returns the per-request backend timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns the scheduler polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalMS) * time.Millisecond
}

// Retention returns how long unqueried terminal tasks are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Scheduler.RetentionMinutes) * time.Minute
}

// DwellTime returns the minimum time a page must stay loaded before auto-capture.
func (c *Config) DwellTime() time.Duration {
	return time.Duration(c.Capture.DwellSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeIntervalSeconds) * time.Second
}

// StatusThrottle returns the minimum interval between status snapshots.
func (c *Config) StatusThrottle() time.Duration {
	return time.Duration(c.Status.ThrottleMS) * time.Millisecond
}

// BackendURL joins the configured base URL with a path.
func (c *Config) BackendURL(path string) string {
	base := strings.TrimRight(c.Backend.BaseURL, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

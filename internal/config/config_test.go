package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"sightline/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "sightline")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Scheduler.MaxConcurrent != 2 {
		t.Fatalf("expected max_concurrent default 2, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.PollInterval().Milliseconds() != 5000 {
		t.Fatalf("expected poll interval 5000ms, got %s", cfg.PollInterval())
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Fatalf("expected max_retries default 3, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Capture.HistoryLimit != 100 {
		t.Fatalf("expected history limit 100, got %d", cfg.Capture.HistoryLimit)
	}
	if cfg.StatusThrottle().Seconds() != 1 {
		t.Fatalf("expected 1s status throttle, got %s", cfg.StatusThrottle())
	}
	if cfg.Logging.Format != "auto" {
		t.Fatalf("expected auto log format, got %q", cfg.Logging.Format)
	}
}

func TestLoadCustomConfigNormalizesDomains(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := config.Default()
	cfg.Backend.BaseURL = "https://analysis.example.com/"
	cfg.Capture.AllowDomains = []string{" Example.COM ", "*.news.example.org", "example.com"}
	cfg.Capture.DenyDomains = []string{".ads.example.com"}
	cfg.Backend.CapturePath = "v2/captures"

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q exists=%v", path, resolved, exists)
	}
	if loaded.Backend.BaseURL != "https://analysis.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", loaded.Backend.BaseURL)
	}
	if got := strings.Join(loaded.Capture.AllowDomains, ","); got != "example.com,news.example.org" {
		t.Fatalf("unexpected allow domains %q", got)
	}
	if got := strings.Join(loaded.Capture.DenyDomains, ","); got != "ads.example.com" {
		t.Fatalf("unexpected deny domains %q", got)
	}
	if loaded.Backend.CapturePath != "/v2/captures" {
		t.Fatalf("expected capture path normalized, got %q", loaded.Backend.CapturePath)
	}
	if got := loaded.BackendURL(loaded.Backend.CapturePath); got != "https://analysis.example.com/v2/captures" {
		t.Fatalf("unexpected backend url %q", got)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("SIGHTLINE_BACKEND_URL", "https://env.example.com")
	t.Setenv("SIGHTLINE_TOKEN", "env-token")
	t.Setenv("SIGHTLINE_API_TOKEN", "api-secret")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://env.example.com" {
		t.Fatalf("expected backend url from env, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Auth.Token != "env-token" {
		t.Fatalf("expected auth token from env, got %q", cfg.Auth.Token)
	}
	if cfg.API.Token != "api-secret" {
		t.Fatalf("expected api token from env, got %q", cfg.API.Token)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad scheme", func(c *config.Config) { c.Backend.BaseURL = "ftp://example.com" }, "backend.base_url"},
		{"missing url", func(c *config.Config) { c.Backend.BaseURL = "" }, "backend.base_url is required"},
		{"negative retries", func(c *config.Config) { c.Scheduler.MaxRetries = -1 }, "scheduler.max_retries"},
		{"zero concurrency", func(c *config.Config) { c.Scheduler.MaxConcurrent = -2 }, "scheduler.max_concurrent"},
		{"oversized batch", func(c *config.Config) { c.Scheduler.MaxBatchSize = 500 }, "scheduler.max_batch_size"},
		{"oversized history", func(c *config.Config) { c.Capture.HistoryLimit = 500 }, "capture.history_limit"},
		{"bad bind", func(c *config.Config) { c.API.Bind = "localhost" }, "api.bind"},
		{"domain with path", func(c *config.Config) { c.Capture.DenyDomains = []string{"example.com/ads"} }, "bare host"},
		{"bad ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }, "notifications.ntfy_topic"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Scheduler.MaxConcurrent != 2 || cfg.Capture.HistoryLimit != 100 {
		t.Fatalf("sample config defaults drifted: %+v", cfg.Scheduler)
	}
}

package testsupport

import (
	"path/filepath"
	"testing"

	"sightline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Netlink is disabled, the API binds an ephemeral port, and the scheduler
// and status publisher run on short intervals.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Auth.CredentialsFile = ""
	cfgVal.Connectivity.NetlinkEnabled = false
	cfgVal.Scheduler.PollIntervalMS = 20
	cfgVal.Status.ThrottleMS = 10
	cfgVal.Backend.RequestTimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithBackend points the config at a backend base URL, usually an httptest server.
func WithBackend(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backend.BaseURL = baseURL
	}
}

// WithAPIToken requires bearer authentication on the command surface.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithCredentialsFile stores backend credentials under the temp directory.
func WithCredentialsFile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Auth.CredentialsFile = filepath.Join(b.baseDir, name)
	}
}

// WithAutoCapture enables dwell-based auto-capture.
func WithAutoCapture(dwellSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Capture.AutoCapture = true
		b.cfg.Capture.DwellSeconds = dwellSeconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sightline/internal/config"
	"sightline/internal/daemonrun"
	"sightline/internal/logging"
	"sightline/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	runtime    *daemonrun.Runtime
	apiAddr    string
	configPath string
}

func fakeBackendHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/health":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/analysis":
			_, _ = w.Write([]byte(`{"job_id":"job-1"}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/analysis/"):
			_, _ = w.Write([]byte(`{"status":"completed","result":{"summary":"ok"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/captures":
			_, _ = w.Write([]byte(`{"capture_id":"cap-1"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	backend := httptest.NewServer(fakeBackendHandler())
	t.Cleanup(backend.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend.URL), testsupport.WithAPIToken("cli-token"))
	configPath := filepath.Join(testsupport.BaseDir(cfg), "sightline.toml")
	writeTestConfig(t, configPath, cfg)

	rt, err := daemonrun.Build(context.Background(), cfg, "cli-test", backend.Client(), logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Daemon.Start(ctx); err != nil {
		cancel()
		_ = rt.Close()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		rt.Daemon.Stop()
		cancel()
		_ = rt.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		runtime:    rt,
		apiAddr:    rt.Daemon.Status().APIAddress,
		configPath: configPath,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flags := []string{"--api", e.apiAddr, "--token", "cli-token", "--config", e.configPath}
	stdout, _, err := runCLI(t, append(flags, args...))
	return stdout, err
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\n\n[api]\nbind = %q\ntoken = %q\n\n[backend]\nbase_url = %q\n\n[connectivity]\nnetlink_enabled = false\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.API.Bind,
		cfg.API.Token,
		cfg.Backend.BaseURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sightline/internal/api"
	"sightline/internal/logging"
)

func TestQueueAddAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "add", "https://example.com/a")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	if !strings.HasPrefix(out, "Queued task ") {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = env.run(t, "queue", "list", "--all")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "https://example.com/a") {
		t.Fatalf("expected url in list, got:\n%s", out)
	}
}

func TestQueueAddJSONAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "--json", "queue", "add", "https://example.com/json", "--param", "depth=2")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	var queued api.QueueTaskResponse
	if err := json.Unmarshal([]byte(out), &queued); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if queued.TaskID == "" {
		t.Fatal("expected task id")
	}

	out, err = env.run(t, "queue", "show", queued.TaskID)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	if !strings.Contains(out, "Task "+queued.TaskID) || !strings.Contains(out, "https://example.com/json") {
		t.Fatalf("unexpected show output:\n%s", out)
	}
}

func TestQueueAddMultipleCreatesBatch(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "add", "https://example.com/1", "https://example.com/2")
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	if !strings.Contains(out, "with 2 tasks") {
		t.Fatalf("unexpected output %q", out)
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		t.Fatalf("unexpected output %q", out)
	}
	batchID := fields[2]

	out, err = env.run(t, "batch", "show", batchID)
	if err != nil {
		t.Fatalf("batch show: %v", err)
	}
	if !strings.Contains(out, "Batch "+batchID) {
		t.Fatalf("unexpected batch output:\n%s", out)
	}
}

func TestQueueAddReadsURLFile(t *testing.T) {
	env := setupCLITestEnv(t)
	listPath := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(listPath, []byte("# reading list\nhttps://example.com/x\n\nhttps://example.com/y\n"), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}

	out, err := env.run(t, "queue", "add", "--file", listPath)
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	if !strings.Contains(out, "with 2 tasks") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueAddRequiresURL(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "queue", "add"); err == nil {
		t.Fatal("expected error without urls")
	}
	if _, err := env.run(t, "queue", "add", "not a url"); err == nil {
		t.Fatal("expected the daemon to reject an invalid url")
	}
}

func TestQueueShowUnknownTask(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "queue", "show", "missing")
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	var respErr *api.ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != 404 {
		t.Fatalf("expected 404 response error, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Daemon:", "Backend:", "Offline queue:", "Pending"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in status output:\n%s", want, out)
		}
	}
}

func TestCaptureURLAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "capture", "url", "https://example.com/saved", "--title", "Saved")
	if err != nil {
		t.Fatalf("capture url: %v", err)
	}
	if !strings.Contains(out, "Submitted") || !strings.Contains(out, "cap-1") {
		t.Fatalf("unexpected capture output:\n%s", out)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, err = env.run(t, "history")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if strings.Contains(out, "https://example.com/saved") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("capture missing from history:\n%s", out)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(out, "Bookmark") {
		t.Fatalf("expected bookmark source in history:\n%s", out)
	}
}

func TestCaptureActiveWithoutTabs(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "capture", "active"); err == nil {
		t.Fatal("expected not found without an active tab")
	}
}

func TestCaptureTabRejectsBadID(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "capture", "tab", "abc"); err == nil || !strings.Contains(err.Error(), "invalid tab id") {
		t.Fatalf("expected invalid tab id error, got %v", err)
	}
}

func TestOfflineList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "offline", "list")
	if err != nil {
		t.Fatalf("offline list: %v", err)
	}
	if !strings.Contains(out, "Queued:") || !strings.Contains(out, "reachable") {
		t.Fatalf("unexpected offline output:\n%s", out)
	}

	out, err = env.run(t, "--json", "offline", "replay")
	if err != nil {
		t.Fatalf("offline replay: %v", err)
	}
	var replay api.ReplayResponse
	if err := json.Unmarshal([]byte(out), &replay); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if replay.Attempted != 0 {
		t.Fatalf("expected empty replay, got %+v", replay)
	}
}

func TestWrongTokenReported(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"--api", env.apiAddr, "--token", "wrong", "--config", env.configPath, "status"})
	if err == nil || !strings.Contains(err.Error(), "API token") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestDaemonUnavailable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "missing.toml")
	t.Setenv("HOME", t.TempDir())
	_, _, err := runCLI(t, []string{"--api", "127.0.0.1:1", "--config", configPath, "status"})
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected target in output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"--config", target, "config", "path"})
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(out) != target {
		t.Fatalf("config path = %q, want %q", out, target)
	}

	out, _, err = runCLI(t, []string{"--config", target, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output %q", out)
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"depth=2", " mode = fast "})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if got["depth"] != "2" || got["mode"] != "fast" {
		t.Fatalf("unexpected params %v", got)
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if got, err := parseParams(nil); err != nil || got != nil {
		t.Fatalf("expected nil params, got %v %v", got, err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestTestNotifyDisabledByDefault(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "Notifications disabled") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLogsCommandFilters(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := logging.FilePath(env.cfg.Paths.LogDir)
	content := "INFO scheduler started\nWARN capture failed\nINFO status published\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, err := env.run(t, "logs", "-n", "5", "--grep", "capture")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != "WARN capture failed" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

func TestDoctorCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	for _, want := range []string{"Data directory", "Backend", "Credentials", "OK"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output:\n%s", want, out)
		}
	}
}

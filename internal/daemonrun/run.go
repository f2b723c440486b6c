package daemonrun

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"sightline/internal/config"
	"sightline/internal/logging"
	"sightline/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the sightline daemon and blocks until ctx ends or a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:   level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stdout", logging.FilePath(cfg.Paths.LogDir)},
		Source:  opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldRunID, runID))

	pidPath := filepath.Join(cfg.Paths.DataDir, "sightline.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	httpClient := &http.Client{}
	checks := preflight.RunAll(signalCtx, cfg, preflight.Options{
		HTTP:        httpClient,
		Credentials: CredentialProvider(cfg, httpClient, logger),
	})
	for _, check := range checks {
		if check.Passed {
			logger.Debug("preflight check passed", logging.String("check", check.Name), logging.String("detail", check.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.Bool("required", check.Required),
			logging.String(logging.FieldErrorHint, "run `sightline doctor` for a full report"),
		)
	}
	if err := preflight.RequiredFailure(checks); err != nil {
		return err
	}

	rt, err := Build(signalCtx, cfg, runID, httpClient, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon initialization failed", "daemon_init_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and state database access"),
		)
		return err
	}
	defer rt.Close()

	if err := rt.Daemon.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("sightline daemon running",
		logging.String("backend", cfg.Backend.BaseURL),
		logging.String("api", rt.Daemon.Status().APIAddress),
		logging.String("store", cfg.StorePath()),
	)

	<-signalCtx.Done()
	logger.Info("sightline daemon shutting down")
	rt.Daemon.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

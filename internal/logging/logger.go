package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"sightline/internal/config"
)

// LogFileName is the daemon log written inside paths.log_dir.
const LogFileName = "sightline.log"

// FilePath returns the daemon log path for logDir.
func FilePath(logDir string) string {
	return filepath.Join(logDir, LogFileName)
}

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Outputs lists sinks: "stdout", "stderr" or a file path. Empty means stdout.
	Outputs []string
	// Source adds file:line to each record. Debug level always includes it.
	Source bool
}

// New constructs a slog logger from opts.
func New(opts Options) (*slog.Logger, error) {
	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	w, terminal, err := openSinks(outputs)
	if err != nil {
		return nil, err
	}
	level := ParseLevel(opts.Level)
	source := opts.Source || level <= slog.LevelDebug

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "auto":
		if terminal {
			return slog.New(newConsoleHandler(w, level, source)), nil
		}
		return slog.New(newJSONHandler(w, level, source)), nil
	case "console":
		return slog.New(newConsoleHandler(w, level, source)), nil
	case "json":
		return slog.New(newJSONHandler(w, level, source)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig logs to stdout and, when a log directory is configured, to
// the daemon log file.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, FilePath(cfg.Paths.LogDir))
	}
	return New(Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Outputs: outputs})
}

// ParseLevel accepts debug, info, warn and error in any case. Anything else is info.
func ParseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// openSinks opens every distinct output. terminal reports whether the first
// output is an interactive stream, which decides the "auto" format.
func openSinks(outputs []string) (io.Writer, bool, error) {
	var (
		writers  []io.Writer
		terminal bool
		seen     = make(map[string]bool, len(outputs))
	)
	for i, raw := range outputs {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var w *os.File
		switch name {
		case "stdout":
			w = os.Stdout
		case "stderr":
			w = os.Stderr
		default:
			if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
				return nil, false, fmt.Errorf("ensure log directory: %w", err)
			}
			file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, false, fmt.Errorf("open log file %s: %w", name, err)
			}
			w = file
		}
		if i == 0 && (w == os.Stdout || w == os.Stderr) {
			terminal = isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
		}
		writers = append(writers, w)
	}
	switch len(writers) {
	case 0:
		return os.Stdout, false, nil
	case 1:
		return writers[0], terminal, nil
	default:
		return io.MultiWriter(writers...), terminal, nil
	}
}

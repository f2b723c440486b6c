package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// field is a flattened attribute; group names are joined into the key with dots.
type field struct {
	key   string
	value slog.Value
}

// consoleHandler renders one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO [scheduler] Task 3f2a91c0 (batch 91c0aa12) - task admitted attempts=1
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	source bool
	prefix string
	fields []field
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = append(append([]field(nil), h.fields...), flatten(h.prefix, attrs)...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = joinKey(h.prefix, name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := append([]field(nil), h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, flatten(h.prefix, []slog.Attr{attr})...)
		return true
	})

	// Identity keys move to the line header; the last value of every other key wins.
	var component, taskID, batchID, tabID string
	rest := make([]field, 0, len(fields))
	index := make(map[string]int, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			if component == "" {
				component = plain(f.value)
			}
		case FieldTaskID:
			taskID = plain(f.value)
		case FieldBatchID:
			batchID = plain(f.value)
		case FieldTabID:
			tabID = plain(f.value)
		default:
			if pos, ok := index[f.key]; ok {
				rest[pos] = f
				continue
			}
			index[f.key] = len(rest)
			rest = append(rest, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	if component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	if subject := subjectOf(taskID, batchID, tabID); subject != "" {
		b.WriteByte(' ')
		b.WriteString(subject)
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(" - ")
	b.WriteString(msg)
	if h.source && record.PC != 0 {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range rest {
		if f.key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(quoted(plain(f.value)))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// subjectOf renders the identifiers a line is about, such as "Task 3f2a91c0 (batch 91c0aa12)".
func subjectOf(taskID, batchID, tabID string) string {
	var parts []string
	switch {
	case taskID != "" && batchID != "":
		parts = append(parts, "Task "+short(taskID), "(batch "+short(batchID)+")")
	case taskID != "":
		parts = append(parts, "Task "+short(taskID))
	case batchID != "":
		parts = append(parts, "Batch "+short(batchID))
	}
	if tabID != "" {
		parts = append(parts, "Tab #"+tabID)
	}
	return strings.Join(parts, " ")
}

func short(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func flatten(prefix string, attrs []slog.Attr) []field {
	var out []field
	for _, attr := range attrs {
		if attr.Equal(slog.Attr{}) {
			continue
		}
		value := attr.Value.Resolve()
		if value.Kind() == slog.KindGroup {
			out = append(out, flatten(joinKey(prefix, attr.Key), value.Group())...)
			continue
		}
		out = append(out, field{key: joinKey(prefix, attr.Key), value: value})
	}
	return out
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}

// plain renders v without quoting.
func plain(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoted(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

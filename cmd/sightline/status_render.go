package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.English)

// displayLabel turns wire values such as "already_in_progress" into "Already In Progress".
func displayLabel(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

// renderStatusLine renders "  Label:          [OK] message", coloured by kind
// when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	line := fmt.Sprintf("%s%-*s [%s]", statusIndent, statusLabelWidth, label+":", kind)
	if message != "" {
		line += " " + message
	}
	if !colorize {
		return line
	}
	return kind.colors().Sprint(line)
}

func (kind statusKind) String() string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (kind statusKind) colors() text.Colors {
	switch kind {
	case statusOK:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusError:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgBlue}
	}
}

// taskKind maps a task status onto a display severity.
func taskKind(status string) statusKind {
	switch status {
	case "complete", "submitted":
		return statusOK
	case "error", "failed":
		return statusError
	case "queued", "already_in_progress", "excluded":
		return statusWarn
	default:
		return statusInfo
	}
}

// shouldColorize reports whether w is a terminal and NO_COLOR is unset.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd()))
}

// Package logging provides the styled, tag-prefixed console output used
// across the dispatch server's background loops. It generalizes the
// teacher's pkg/styles color helpers with a level tag so that interleaved
// goroutine output stays attributable to the activity that produced it.
package logging

import (
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	defaultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F45E6E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6ef4a1"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6EC4F4"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D35E"))
)

// Level controls which style renders a line.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warn    Level = "warn"
	Error   Level = "error"
	Default Level = "default"
)

func styleFor(l Level) lipgloss.Style {
	switch l {
	case Error:
		return errorStyle
	case Success:
		return successStyle
	case Warn:
		return warnStyle
	case Info:
		return infoStyle
	default:
		return defaultStyle
	}
}

// Logger tags every line with a fixed component name, e.g. "[DISPATCH]".
type Logger struct {
	tag string
}

// New returns a Logger for the given component tag, without brackets.
func New(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) render(level Level, format string, a ...interface{}) string {
	msg := fmt.Sprintf(format, a...)
	line := fmt.Sprintf("[%s] %s", l.tag, msg)
	return styleFor(level).Render(line)
}

// Printf logs at the default level.
func (l *Logger) Printf(format string, a ...interface{}) {
	log.Println(l.render(Default, format, a...))
}

// Info logs an informational line.
func (l *Logger) Info(format string, a ...interface{}) {
	log.Println(l.render(Info, format, a...))
}

// Success logs a positive-outcome line.
func (l *Logger) Success(format string, a ...interface{}) {
	log.Println(l.render(Success, format, a...))
}

// Warn logs a recoverable-condition line.
func (l *Logger) Warn(format string, a ...interface{}) {
	log.Println(l.render(Warn, format, a...))
}

// Error logs a failure line. Per spec §7 this never terminates the process.
func (l *Logger) Error(format string, a ...interface{}) {
	log.Println(l.render(Error, format, a...))
}

// Fatal logs an error line and terminates the process. Reserved for the
// handful of unrecoverable startup failures spec §7 allows.
func (l *Logger) Fatal(format string, a ...interface{}) {
	log.Fatalln(l.render(Error, format, a...))
}

// Timestamp formats a time the way dead-letter audit log lines do.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

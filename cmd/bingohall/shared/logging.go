package shared

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// ParseLevel maps a config level name to a log level. Unknown names fall
// back to info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// SetupLogger returns a timestamped logger writing to stderr.
func SetupLogger(level string) *log.Logger {
	return NewLogger(os.Stderr, level)
}

// NewLogger builds a logger with bold level badges.
func NewLogger(w io.Writer, level string) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(level),
		ReportTimestamp: true,
	})
	logger.SetStyles(levelStyles())
	return logger
}

func levelStyles() *log.Styles {
	styles := log.DefaultStyles()
	badge := func(label, color string) lipgloss.Style {
		return lipgloss.NewStyle().
			SetString(label).
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color(color))
	}
	styles.Levels[log.DebugLevel] = badge("DEBUG", "63")
	styles.Levels[log.InfoLevel] = badge("INFO", "86")
	styles.Levels[log.WarnLevel] = badge("WARN", "192")
	styles.Levels[log.ErrorLevel] = badge("ERROR", "204")
	styles.Levels[log.FatalLevel] = badge("FATAL", "134")
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	styles.Keys["error"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	return styles
}

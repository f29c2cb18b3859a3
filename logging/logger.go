// Package logging provides pre-configured logrus loggers for locmux
// components. Each component gets a singleton *logrus.Entry tagged with its
// name; level and sinks are controlled by environment variables so library
// consumers and the daemon share one configuration surface.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// NewLogger creates and returns a pre-configured logger for a specific
// component. It uses a singleton pattern per component to avoid
// re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logger := logrus.New()

	// Configure Level
	levelStr := "info"
	if env := os.Getenv("LOCMUX_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Configure Caller Reporting
	if os.Getenv("LOCMUX_LOG_CALLER") == "true" {
		logger.SetReportCaller(true)
	}

	// Configure Formatter
	switch os.Getenv("LOCMUX_LOG_FORMAT") {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&TextFormatter{})
	}

	// Configure Output Sinks
	var writers []io.Writer

	if path := os.Getenv("LOCMUX_LOG_FILE"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				writers = append(writers, file)
			} else {
				logger.Warnf("Failed to open log file %s: %v", path, err)
			}
		}
	}

	// Write to stderr when debugging or when output is piped; suppress
	// structured logs in normal interactive use of the library.
	isDebug := logger.GetLevel() >= logrus.DebugLevel
	isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if isDebug || !isInteractive || os.Getenv("LOCMUX_LOG_STDERR") == "always" {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

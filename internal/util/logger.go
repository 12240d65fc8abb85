package util

import (
	"log/slog"
	"os"
	"strings"
)

// GlobalLogger is the process-wide structured logger.
var GlobalLogger *slog.Logger

func init() {
	GlobalLogger = NewLogger()
}

// NewLogger builds a JSON slog.Logger with its level taken from LOG_LEVEL
// (DEBUG, INFO, WARN, ERROR; default INFO).
func NewLogger() *slog.Logger {
	levelStr := strings.ToUpper(os.Getenv("LOG_LEVEL"))
	var level slog.Level
	switch levelStr {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

func Info(msg string, attrs ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Info(msg, attrs...)
	}
}

func Warn(msg string, attrs ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Warn(msg, attrs...)
	}
}

func Error(msg string, attrs ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Error(msg, attrs...)
	}
}

func Debug(msg string, attrs ...any) {
	if GlobalLogger != nil {
		GlobalLogger.Debug(msg, attrs...)
	}
}

// WithContext returns a logger carrying fixed attributes, e.g. a blockchain slug.
func WithContext(attrs ...any) *slog.Logger {
	if GlobalLogger != nil {
		return GlobalLogger.With(attrs...)
	}
	return GlobalLogger
}

package logger

import (
	"io"
	"log/slog"
	"os"
)

var Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the process logger from DEBUG and LOG_FORMAT.
func Init() {
	InitWriter(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("DEBUG") == "true")
}

func InitWriter(w io.Writer, format string, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Component returns a child logger tagged with the component name.
func Component(name string) *slog.Logger {
	return Logger.With("component", name)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

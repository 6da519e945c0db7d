package logger

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

func Init() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// With returns a child logger with the given attributes attached.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init()
	}
	return Logger.With(args...)
}

func Info(msg string, args ...any) {
	if Logger == nil {
		Init()
	}
	Logger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	if Logger == nil {
		Init()
	}
	Logger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	if Logger == nil {
		Init()
	}
	Logger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	if Logger == nil {
		Init()
	}
	Logger.Warn(msg, args...)
}

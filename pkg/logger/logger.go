package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

// Options select the handler behind the process logger. Production defaults
// to JSON at info, anything else to text at debug.
type Options struct {
	Env    string
	Level  string
	Format string
	Output io.Writer
}

func Init(opts Options) {
	format, level := "text", slog.LevelDebug
	if opts.Env == "production" {
		format, level = "json", slog.LevelInfo
	}
	if opts.Format != "" {
		format = strings.ToLower(opts.Format)
	}
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level))
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func LoggerWrapper() *slog.Logger {
	if defaultLogger == nil {
		// lazy initialize a development logger to avoid nil pointer panics
		Init(Options{Env: "development"})
	}
	return defaultLogger
}

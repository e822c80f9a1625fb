package logger

import (
	"io"
	"log/slog"
	"os"
)

var Log = slog.Default()

// Setup initializes the global logger based on the environment.
// "production" logs JSON at Info; anything else logs text at Debug.
func Setup(env string) *slog.Logger {
	Log = New(env, os.Stdout)
	slog.SetDefault(Log)
	return Log
}

// New builds a logger for env writing to w.
func New(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	if env == "production" {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// Init sets up the default slog logger. Development gets a human-readable
// text handler, everything else JSON for log aggregation.
func Init(env string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: levelFor(env)}

	if env == "development" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", "hiv-care-hub")
	slog.SetDefault(logger)
	return logger
}

func levelFor(env string) slog.Level {
	if env == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

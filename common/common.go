// Package common holds build metadata and logger setup shared by all binaries.
package common

import (
	"log/slog"
	"os"
)

// Version is set by the build system (ldflags).
var Version = "dev"

type LoggingOpts struct {
	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// JSON emits JSON log lines instead of text.
	JSON bool

	// Service is added as a 'service' attribute on every record when set.
	Service string

	// Version is added as a 'version' attribute on every record when set.
	Version string
}

func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}

// Package logging builds the root logger of the oracle commands.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs a root logger for cfg and returns it together with a function
// that flushes the log file, if any.
func Setup(cfg config.Log) (log.Logger, func() error) {
	level := log.FromLegacyLevel(cfg.Verbosity)

	var (
		output   io.Writer = os.Stderr
		useColor           = false
		closer             = func() error { return nil }
	)
	if cfg.File != "" {
		f := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		output = f
		closer = f.Close
	} else if isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb" {
		output = colorable.NewColorableStderr()
		useColor = true
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = log.JSONHandlerWithLevel(output, level)
	default:
		handler = log.NewTerminalHandlerWithLevel(output, level, useColor)
	}

	logger := log.NewLogger(handler)
	log.SetDefault(logger)
	return logger, closer
}

// Package logging builds the process-wide structured logger. Mirrors
// the teacher's pattern of constructing one *slog.Logger at startup
// and threading it through every subsystem via constructor injection.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and how they rotate.
type Config struct {
	FilePath   string // empty disables file rotation, stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool
}

// New builds a *slog.Logger writing to stdout, and additionally to a
// rotating log file when cfg.FilePath is set.
func New(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    firstNonZero(cfg.MaxSizeMB, 50),
			MaxBackups: firstNonZero(cfg.MaxBackups, 5),
			MaxAge:     firstNonZero(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		w = io.MultiWriter(os.Stdout, rotator)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

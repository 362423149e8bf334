// Package logging wires mp4vfsd's structured logger: log/slog writing
// JSON to a rotating file.
package logging

import (
	"log/slog"
	"strings"

	"github.com/javi11/mp4vfsd/internal/config"
	"github.com/natefinch/lumberjack"
)

// New builds the daemon logger. Callers should slog.SetDefault(New(cfg))
// once during startup.
func New(cfg config.LoggingConfig) *slog.Logger {
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package core

import (
	"log/slog"
	"os"
	"strings"

	"estatecrm/internal/types"
)

// SlogAdapter wraps *slog.Logger to implement types.Logger. slog satisfies
// Info/Warn/Error directly, but With returns *slog.Logger, so an adapter is
// needed.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewLogger builds the application's JSON slog logger at the given level
// and returns both the raw *slog.Logger and the types.Logger adapter.
func NewLogger(level, service, environment string) (*slog.Logger, types.Logger) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With("service", service, "env", environment)
	return logger, &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) With(args ...any) types.Logger {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*SlogAdapter)(nil)

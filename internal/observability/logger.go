// Package observability owns the process-wide zap loggers.
//
// CLILogger writes human-readable console output to stderr so stdout stays
// clean for JSONL records. ServerLogger writes structured JSON for the HTTP
// server. Both default to no-op loggers until initialised.
package observability

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

var (
	// CLILogger is used by commands for operator-facing output.
	CLILogger = zap.NewNop()

	// ServerLogger is used by the HTTP server and request middleware.
	ServerLogger = zap.NewNop()

	mu sync.Mutex
)

// InitCLILogger configures CLILogger. verbose lowers the level to debug.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.NameKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	mu.Lock()
	defer mu.Unlock()
	CLILogger = zap.New(core).Named(name)
}

// InitServerLogger configures ServerLogger from a level name and a profile.
// Unknown levels fall back to info; unknown profiles to structured.
func InitServerLogger(name, level, profile string) {
	lvl := ParseLevel(level)

	var encoder zapcore.Encoder
	if strings.EqualFold(profile, ProfileConsole) {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl)

	mu.Lock()
	defer mu.Unlock()
	ServerLogger = zap.New(core, zap.AddCaller()).Named(name)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Sync flushes both loggers. Errors from syncing a terminal are ignored.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

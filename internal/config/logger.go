// internal/config/logger.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Without a log directory it writes
// console lines to stdout and errors to stderr; with one it appends JSON to
// standard.log and errors.log, mirroring to the console in debug mode.
func NewLogger(level string, debug bool, logDir string) (*zap.Logger, error) {
	logDir = strings.TrimSpace(logDir)

	minLevel := zapcore.InfoLevel
	if level != "" {
		if err := minLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if debug {
		minLevel = zapcore.DebugLevel
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= minLevel && lvl < zapcore.ErrorLevel
	})

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	console := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), highPriority),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), lowPriority),
	}

	if logDir == "" {
		return zap.New(zapcore.NewTee(console...)), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", logDir, err)
	}

	errFilepath := filepath.Join(logDir, "errors.log")
	errFile, err := os.OpenFile(errFilepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log file %s: %w", errFilepath, err)
	}

	stdFilepath := filepath.Join(logDir, "standard.log")
	stdFile, err := os.OpenFile(stdFilepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		errFile.Close()
		return nil, fmt.Errorf("open standard log file %s: %w", stdFilepath, err)
	}

	jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder, zapcore.Lock(zapcore.AddSync(errFile)), highPriority),
		zapcore.NewCore(jsonEncoder, zapcore.Lock(zapcore.AddSync(stdFile)), lowPriority),
	}
	if debug {
		cores = append(cores, console...)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

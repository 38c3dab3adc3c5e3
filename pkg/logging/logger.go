package logging

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Global logger instance and synchronization
var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
	isInited bool
)

// Config holds logger configuration
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	OutputPath string // Empty for stdout, or file path
	Format     string // "json" or "console"
}

// Init initializes the global logger with the given configuration.
// This should be called once at application startup; subsequent calls
// return an error to prevent multiple initialization.
func Init(config Config) error {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if isInited {
		return errors.New("logger already initialized; call Close() first to reinitialize")
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	outputPath := "stdout"
	if config.OutputPath != "" {
		outputPath = config.OutputPath
	}

	encoding := "console"
	if config.Format == "json" {
		encoding = "json"
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}

	logger = built
	isInited = true
	return nil
}

// InitDefault initializes the logger with sensible defaults: info level,
// console encoding, stdout. Safe to call multiple times; only the first
// call takes effect.
func InitDefault() {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if isInited {
		return
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zapcore.InfoLevel,
	)
	logger = zap.New(core)
	isInited = true
}

// Get returns the global logger, initializing defaults lazily.
func Get() *zap.Logger {
	loggerMu.RLock()
	if isInited {
		defer loggerMu.RUnlock()
		return logger
	}
	loggerMu.RUnlock()

	InitDefault()

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Close flushes buffered log entries and resets the global logger so Init
// may be called again.
func Close() {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger != nil {
		_ = logger.Sync()
	}
	logger = nil
	isInited = false
}

// Package observability owns the process loggers.
//
// CLILogger serves the command-line commands and ServerLogger the HTTP
// server. Both default to no-op loggers until initialised, so library
// code and tests can log unconditionally.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

var (
	// CLILogger is used by commands. Writes to stderr so stdout stays free
	// for JSONL records.
	CLILogger = zap.NewNop()

	// ServerLogger is used by the HTTP server and the jobs it launches.
	ServerLogger = zap.NewNop()
)

// FileConfig configures the optional rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// Config configures a logger.
type Config struct {
	Level   string
	Profile string
	Service string
	File    FileConfig
}

// InitCLILogger replaces CLILogger with a human-readable stderr logger.
// verbose enables debug output.
func InitCLILogger(serviceName string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(Config{Level: level, Profile: ProfileConsole, Service: serviceName})
	if err != nil {
		return
	}
	CLILogger = logger
}

// InitServerLogger replaces ServerLogger according to cfg.
func InitServerLogger(cfg Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	ServerLogger = logger
	return nil
}

// NewLogger builds a logger writing to stderr and, when cfg.File.Path is
// set, to a size-rotated file.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoder, err := newEncoder(cfg.Profile)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if cfg.File.Path != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDays,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}
		// Files always get JSON so they can be shipped as-is.
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(sink), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}
	return logger, nil
}

// ParseLevel maps a level name (debug, info, warn, error) to a zap level.
// An empty name means info.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	if name == "warning" {
		name = "warn"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return level, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

func newEncoder(profile string) (zapcore.Encoder, error) {
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	case ProfileConsole:
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return zapcore.NewConsoleEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("invalid log profile %q (want %s or %s)", profile, ProfileStructured, ProfileConsole)
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level    string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format   string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	Output   string `mapstructure:"output" validate:"omitempty,oneof=stdout file"`
	Filename string `mapstructure:"filename"`
}

// Logger wraps zap.SugaredLogger with fieldsync's structured field helpers.
type Logger struct {
	*zap.SugaredLogger
}

func New(cfg Config) (*Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output == "file" && cfg.Filename != "" {
		zapConfig.OutputPaths = []string{cfg.Filename}
		zapConfig.ErrorOutputPaths = []string{cfg.Filename}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	if cfg.Format != "json" {
		zapConfig.Development = true
		zapConfig.DisableStacktrace = true
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// Nop returns a logger that discards everything; used by tests and as the
// default when a component is constructed without one.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(fields...)}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// Component returns the sugared logger for one subsystem, tolerating nil.
func Component(l *Logger, component string) *zap.SugaredLogger {
	if l == nil || l.SugaredLogger == nil {
		return zap.NewNop().Sugar()
	}
	return l.WithComponent(component).SugaredLogger
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.SugaredLogger.Sync()
}

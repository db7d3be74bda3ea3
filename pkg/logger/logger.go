// Package logger provides a centralized logging configuration for PulseWatch
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global logger instance
	pulseLogger *zap.Logger

	mu sync.RWMutex
)

// LogConfig holds the logging configuration
type LogConfig struct {
	Level       string
	OutputPath  string
	MaxSize     int // megabytes
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
	Development bool
	EnableJSON  bool
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *LogConfig {
	home, _ := os.UserHomeDir()
	return &LogConfig{
		Level:       "info",
		OutputPath:  filepath.Join(home, ".pulsewatch", "logs", "pulsewatch.log"),
		MaxSize:     100,
		MaxBackups:  5,
		MaxAge:      30,
		Compress:    true,
		Development: false,
		EnableJSON:  false,
	}
}

// Initialize sets up the global logger with the given configuration
func Initialize(cfg *LogConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Development && !cfg.EnableJSON {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else if cfg.EnableJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	logDir := filepath.Dir(cfg.OutputPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	// Configure file output with rotation
	fileWriter := &lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(fileWriter)}

	// In development mode, also log to stderr so event output on stdout stays clean
	if cfg.Development {
		writers = append(writers, zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(writers...),
		zap.NewAtomicLevelAt(level),
	)

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	set(zap.New(core, opts...))
	return nil
}

// InitializeNop installs a logger that discards everything (used by tests)
func InitializeNop() {
	set(zap.NewNop())
}

func set(l *zap.Logger) {
	mu.Lock()
	pulseLogger = l
	mu.Unlock()

	zap.ReplaceGlobals(l)
}

// Get returns the global logger instance
func Get() *zap.Logger {
	mu.RLock()
	l := pulseLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	// Initialize with default config if not already initialized
	if err := Initialize(DefaultConfig()); err != nil {
		InitializeNop()
	}

	mu.RLock()
	defer mu.RUnlock()
	return pulseLogger
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	l := pulseLogger
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	Get().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// WithSessionID tags l, or the global logger when l is nil, with a watch session ID
func WithSessionID(l *zap.Logger, sessionID string) *zap.Logger {
	if l == nil {
		l = Get()
	}
	return l.With(zap.String("session_id", sessionID))
}

package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value helpers.
type Logger struct {
	*zap.Logger
}

type Config struct {
	Level  string
	Format string
	Output string
}

// New builds a logger. Format "json" selects the production encoder, anything
// else the console encoder.
func New(cfg Config) (*Logger, error) {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.Encoding = "json"
	} else {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		config.Encoding = "console"
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	config.EncoderConfig = encoderConfig
	config.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output != "" && cfg.Output != "stdout" {
		config.OutputPaths = []string{cfg.Output}
		config.ErrorOutputPaths = []string{cfg.Output}
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{zapLogger}, nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{l.Logger.With(convertFields(fields...)...)}
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.Logger.Info(msg, convertFields(fields...)...)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.Logger.Error(msg, convertFields(fields...)...)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.Logger.Warn(msg, convertFields(fields...)...)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.Logger.Debug(msg, convertFields(fields...)...)
}

func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.Logger.Fatal(msg, convertFields(fields...)...)
}

// convertFields pairs up alternating keys and values. Error values are
// logged under their key with zap.NamedError so the message is kept.
func convertFields(fields ...interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if err, ok := fields[i+1].(error); ok {
			zapFields = append(zapFields, zap.NamedError(key, err))
			continue
		}
		zapFields = append(zapFields, zap.Any(key, fields[i+1]))
	}
	return zapFields
}

// NewNopLogger creates a no-op logger for testing.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// Package logging builds the zap loggers used across conductor from
// config.LogConfig.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/najoast/conductor/config"
)

// TraceLevel is a custom level below Debug for per-message detail.
const TraceLevel = zapcore.Level(-2)

// ErrInvalidFormat is returned for an unknown log format.
var ErrInvalidFormat = errors.New("invalid log format")

// ParseLevel converts a configured level, supporting "trace".
func ParseLevel(level config.LogLevel) (zapcore.Level, error) {
	if level == config.LogLevelTrace {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, level)
	}
	return l, nil
}

// New creates a logger from cfg. The returned AtomicLevel controls the
// logger's level after creation, which is how config reloads apply.
func New(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	atom := zap.NewAtomicLevelAt(level)

	encoder, err := newEncoder(cfg.Format, cfg.Color)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, atom),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		logger = logger.With(fields...)
	}

	return logger, atom, nil
}

// SetLevel applies a configured level to atom.
func SetLevel(atom zap.AtomicLevel, level config.LogLevel) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	atom.SetLevel(l)
	return nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string, color bool) (zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel(false)

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encoderCfg), nil
	case "", "console", "text":
		encoderCfg.EncodeLevel = encodeLevel(color)
		return zapcore.NewConsoleEncoder(encoderCfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

// encodeLevel names TraceLevel, which zap would print as "Level(-2)".
func encodeLevel(color bool) zapcore.LevelEncoder {
	base := zapcore.LowercaseLevelEncoder
	if color {
		base = zapcore.LowercaseColorLevelEncoder
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			enc.AppendString("trace")
			return
		}
		base(l, enc)
	}
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	default:
		sink, _, err := zap.Open(output)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", output, err)
		}
		return sink, nil
	}
}

// Sync flushes logger, ignoring the harmless errors returned when syncing a
// terminal or pipe.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}

package logging

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// FromContext returns the logger stored in ctx or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// Named returns a context whose logger is a named child of the current one.
func Named(ctx context.Context, name string, fields ...zap.Field) (context.Context, *zap.Logger) {
	logger := FromContext(ctx).Named(name).With(fields...)
	return NewContext(ctx, logger), logger
}

// New builds a logger writing to stderr and, if logFileName is set, to a
// rotating file. The file always receives debug output.
func New(level zapcore.LevelEnabler, logFileName string, json bool) *zap.Logger {
	return NewWithWriter(os.Stderr, level, logFileName, json)
}

func NewWithWriter(w io.Writer, level zapcore.LevelEnabler, logFileName string, json bool) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)}

	if logFileName != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   logFileName,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}

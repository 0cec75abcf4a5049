// Package monitoring provides the production logger, Prometheus metrics and
// OpenTelemetry tracing of the S2S trust layer.
package monitoring

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/logger"
)

const masked = "***"

// secretKeyFragments marks field keys whose values never reach the log.
var secretKeyFragments = []string{"token", "signature", "authorization", "secret", "password", "digest"}

type zapLogger struct {
	*zap.Logger
}

// NewZapLogger builds a JSON (or console, for format "console") zap logger.
func NewZapLogger(cfg *config.LogConfig) (logger.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		ws, _, err := zap.Open(cfg.OutputPath)
		if err != nil {
			return nil, err
		}
		sink = ws
	}

	core := zapcore.NewCore(encoder, sink, level)
	return NewLoggerFromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))), nil
}

// NewLoggerFromZap wraps an existing zap logger, e.g. one built on an observer core.
func NewLoggerFromZap(z *zap.Logger) logger.Logger {
	return &zapLogger{z}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Debug(msg, l.convertFields(ctx, fields...)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Info(msg, l.convertFields(ctx, fields...)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...logger.Fields) {
	l.Logger.Warn(msg, l.convertFields(ctx, fields...)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Fields) {
	zf := l.convertFields(ctx, fields...)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.Logger.Error(msg, zf...)
}

func (l *zapLogger) WithFields(fields logger.Fields) logger.Logger {
	return &zapLogger{l.Logger.With(l.convertFields(context.Background(), fields)...)}
}

func (l *zapLogger) WithComponent(component string) logger.Logger {
	return &zapLogger{l.Logger.With(zap.String("component", component))}
}

func (l *zapLogger) convertFields(ctx context.Context, fields ...logger.Fields) []zap.Field {
	zapFields := make([]zap.Field, 0, 4)
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			zapFields = append(zapFields, zap.String("trace_id", sc.TraceID().String()))
		} else if traceID, ok := ctx.Value(constants.ContextKeyTraceID).(string); ok {
			zapFields = append(zapFields, zap.String("trace_id", traceID))
		}
		if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
			zapFields = append(zapFields, zap.String("request_id", requestID))
		}
	}

	for _, f := range fields {
		for k, v := range f {
			if isSecretKey(k) {
				zapFields = append(zapFields, zap.String(k, masked))
				continue
			}
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if k == "digest_len" || k == "signature_len" {
		return false
	}
	for _, frag := range secretKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

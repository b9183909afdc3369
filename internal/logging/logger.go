package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var requestIDKey ctxKey

type Logger struct {
	*zap.Logger
}

// Options configures NewLoggerWithOptions.
type Options struct {
	Level      string
	File       string // rotated with lumberjack when set
	MaxSizeMB  int
	MaxBackups int
}

func NewLogger(level string) (*Logger, error) {
	return NewLoggerWithOptions(Options{Level: level})
}

// NewLoggerWithOptions builds a JSON logger writing to stderr, and also to
// a rotating file when opts.File is set.
func NewLoggerWithOptions(opts Options) (*Logger, error) {
	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, err
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}

	if opts.File != "" {
		if opts.MaxSizeMB == 0 {
			opts.MaxSizeMB = 100
		}
		if opts.MaxBackups == 0 {
			opts.MaxBackups = 5
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(zapLevel))
	return &Logger{zap.New(core, zap.AddCaller())}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

// ContextWithRequestID stores the request id on ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored on ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if reqID := RequestID(ctx); reqID != "" {
		return l.With(zap.String("request_id", reqID))
	}
	return l.Logger
}

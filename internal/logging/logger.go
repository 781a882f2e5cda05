package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const loggerKey ctxKey = "logging_logger"

// Option customizes loggers returned by New.
type Option func(*loggerOptions)

type loggerOptions struct {
	writer io.Writer
	fields map[string]interface{}
	caller bool
}

// WithWriter directs the logger's output to w instead of the base writer.
func WithWriter(w io.Writer) Option {
	return func(o *loggerOptions) {
		o.writer = w
	}
}

// WithFields attaches static fields to every event the logger emits.
func WithFields(fields map[string]interface{}) Option {
	return func(o *loggerOptions) {
		o.fields = fields
	}
}

// WithCaller annotates events with the calling file and line.
func WithCaller() Option {
	return func(o *loggerOptions) {
		o.caller = true
	}
}

// New derives a component logger from the package baseline. An empty
// component inherits the component configured via Init.
func New(component string, opts ...Option) zerolog.Logger {
	var options loggerOptions
	for _, opt := range opts {
		opt(&options)
	}

	mu.RLock()
	writer := baseWriter
	inherited := baseComponent
	mu.RUnlock()

	if options.writer != nil {
		writer = options.writer
	}
	component = strings.TrimSpace(component)
	if component == "" {
		component = inherited
	}

	builder := zerolog.New(writer).With().Timestamp()
	if component != "" {
		builder = builder.Str("component", component)
	}
	if len(options.fields) > 0 {
		builder = builder.Fields(options.fields)
	}
	if options.caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

// WithLogger stores a logger on the context for FromContext to retrieve.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context's logger (or the package baseline),
// annotated with the context's request ID when one is present.
func FromContext(ctx context.Context) zerolog.Logger {
	var logger zerolog.Logger
	if ctx != nil {
		if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
			logger = ctxLogger
		} else {
			mu.RLock()
			logger = baseLogger
			mu.RUnlock()
		}
	} else {
		mu.RLock()
		logger = baseLogger
		mu.RUnlock()
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}
	return logger
}

// InitFromConfig validates cfg, applies LOG_LEVEL / LOG_FORMAT environment
// overrides, and initializes the package baseline logger.
func InitFromConfig(ctx context.Context, cfg Config) (zerolog.Logger, error) {
	if env := strings.TrimSpace(os.Getenv("LOG_LEVEL")); env != "" {
		cfg.Level = env
	}
	if env := strings.TrimSpace(os.Getenv("LOG_FORMAT")); env != "" {
		cfg.Format = env
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	switch level {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch format {
	case "", "auto", "json", "console":
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return Init(cfg), nil
}

package logger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	opentracing "github.com/opentracing/opentracing-go"
)

var (
	Plain      *zap.Logger
	Sugar      *WrappedLogger
	undoLogger func()
	Recorded   *observer.ObservedLogs
)

const (
	serviceNameKey = "servicename"
	// Repeated here so that logger does not depend on the tracing package.
	TraceIDKey = "x-b3-traceid"
)

// so we dont have to import zap everywhere
type Option = zap.Option

type WrappedLogger struct {
	*zap.SugaredLogger
}

func keyValues(args []any) []any {
	keyVals := make([]any, 0, 2*len(args))
	for i, v := range args {
		keyVals = append(keyVals, fmt.Sprintf("arg%d", i), v)
	}
	return keyVals
}

// InfoR logs msg with each arg recorded as a separate structured field.
func (wl *WrappedLogger) InfoR(msg string, args ...any) {
	wl.WithOptions(zap.AddCallerSkip(1)).Infow(msg, keyValues(args)...)
}

func (wl *WrappedLogger) DebugR(msg string, args ...any) {
	wl.WithOptions(zap.AddCallerSkip(1)).Debugw(msg, keyValues(args)...)
}

// OnExit should be deferred immediately after calling New.
func OnExit() {
	if Sugar != nil {
		_ = Sugar.Sync()
	}
	if Plain != nil {
		_ = Plain.Sync()
	}
	if undoLogger != nil {
		undoLogger()
		undoLogger = nil
	}
	Recorded = nil
}

// Resource carries the output options of the logger.
type Resource struct {
	console  bool
	filename string
}

type ResourceOption func(*Resource)

func WithFile(filename string) ResourceOption {
	return func(r *Resource) {
		r.filename = filename
	}
}

func WithConsole() ResourceOption {
	return func(r *Resource) {
		r.console = true
	}
}

func (r *Resource) apply(cfg *zap.Config) {
	if r.filename != "" {
		cfg.OutputPaths = []string{r.filename}
	}
	if r.console {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zapcore.EncoderConfig{
			MessageKey: "message",
		}
	}
}

// New creates 2 loggers (plain and sugared) as global variables according
// to the desired loglevel ("DEBUG", "NOOP", "TEST", default is "INFO").
// Log output from the standard library logger is redirected to INFO.
// Both ResourceOption and zap.Option types are accepted, zap.Options are
// passed on to the zap logger.
func New(level string, opts ...any) {
	r := &Resource{}
	var zopts []zap.Option
	for _, iopt := range opts {
		switch opt := iopt.(type) {
		case ResourceOption:
			opt(r)
		case zap.Option:
			zopts = append(zopts, opt)
		}
	}

	var err error
	switch strings.ToUpper(level) {
	case DebugLevel:
		cfg := zap.NewDevelopmentConfig()
		r.apply(&cfg)
		Plain, err = cfg.Build(zopts...)

	case NoopLevel:
		Plain = zap.NewNop()

	case TestLevel:
		core, recorded := observer.New(zapcore.DebugLevel)
		cfg := zap.NewDevelopmentConfig()
		r.apply(&cfg)
		var plain *zap.Logger
		plain, err = cfg.Build(zopts...)
		if err == nil {
			Plain = plain.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core {
				return core
			}))
			Recorded = recorded
		}

	default:
		cfg := zap.NewProductionConfig()
		r.apply(&cfg)
		Plain, err = cfg.Build(zopts...)
	}
	if err != nil {
		log.Panicf("cannot initialise zap logger: %v", err)
	}

	undoLogger = zap.RedirectStdLog(Plain)
	Sugar = &WrappedLogger{
		Plain.Sugar(),
	}
	Sugar.Debugf("Go version %s", runtime.Version())
}

// FromContext returns a child logger carrying the trace id of the span
// found in ctx. The receiver is returned unchanged when there is no span.
func (wl *WrappedLogger) FromContext(ctx context.Context) *WrappedLogger {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return wl
	}
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier)
	if err != nil {
		wl.Debugf("FromContext: can't inject span: %v", err)
		return wl
	}

	traceID, found := carrier[TraceIDKey]
	if !found || traceID == "" {
		return wl
	}
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(TraceIDKey, traceID)),
	}
}

func (wl *WrappedLogger) WithServiceName(servicename string) *WrappedLogger {
	return wl.WithIndex(serviceNameKey, servicename)
}

func (wl *WrappedLogger) WithIndex(key, value string) *WrappedLogger {
	return &WrappedLogger{
		SugaredLogger: wl.With(zap.String(key, strings.ToLower(value))),
	}
}

func (wl *WrappedLogger) WithOptions(opts ...Option) *WrappedLogger {
	return &WrappedLogger{
		SugaredLogger: wl.SugaredLogger.WithOptions(opts...),
	}
}

// Close attempts to flush any buffered log entries.
func (wl *WrappedLogger) Close() {
	err := wl.Sync()

	// This is usually 'sync /dev/stderr invalid argument' which is pointless
	if err != nil && !errors.Is(err, syscall.EINVAL) {
		wl.Debugf("Close: Failed to flush log: %v", err)
	}
}

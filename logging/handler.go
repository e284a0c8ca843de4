// Package logging builds the structured logger of the accounts service and
// adapts it to the printf style Logger the library components accept.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// traceHandler stamps every record with the service identity and, when the
// context carries a span, its trace and span ids.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// Options configures Setup
type Options struct {
	Service string
	Version string
	// Format is "json" or "text"
	Format string
	Level  slog.Level
	Writer io.Writer
}

// Setup returns a slog logger writing json (default) or text records.
func Setup(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(w, handlerOpts)
	} else {
		base = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(&traceHandler{
		handler: base,
		service: opts.Service,
		version: opts.Version,
	})
}

// ParseLevel maps debug, info, warn and error. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Printf adapts a slog logger to the Debug/Info/Warn/Error printf methods
// used across the accounts package.
type Printf struct {
	logger *slog.Logger
}

// NewPrintf wraps logger. A nil logger uses slog.Default.
func NewPrintf(logger *slog.Logger) *Printf {
	if logger == nil {
		logger = slog.Default()
	}
	return &Printf{logger: logger}
}

func (p *Printf) Debug(format string, args ...any) {
	p.log(slog.LevelDebug, format, args...)
}

func (p *Printf) Info(format string, args ...any) {
	p.log(slog.LevelInfo, format, args...)
}

func (p *Printf) Warn(format string, args ...any) {
	p.log(slog.LevelWarn, format, args...)
}

func (p *Printf) Error(format string, args ...any) {
	p.log(slog.LevelError, format, args...)
}

func (p *Printf) log(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !p.logger.Enabled(ctx, level) {
		return
	}
	p.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

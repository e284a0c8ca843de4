package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans started by this package
const TracerName = "github.com/goliatone/go-accounts"

// Options configures Telemetry
type Options struct {
	// MetricsAddr, when set, serves /metrics on a dedicated listener
	MetricsAddr string
	Logger      *slog.Logger
	// TracerProvider defaults to the global otel provider
	TracerProvider trace.TracerProvider
}

// Telemetry owns the metrics registry, the tracer and the optional
// standalone metrics listener.
type Telemetry struct {
	addr       string
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *Metrics
	tracer     trace.Tracer
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// New builds a Telemetry with its own registry, so tests never collide on
// the global one.
func New(opts Options) *Telemetry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Telemetry{
		addr:     opts.MetricsAddr,
		logger:   logger,
		registry: registry,
		metrics:  NewMetrics(registry),
		tracer:   tp.Tracer(TracerName),
	}
}

func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Handler serves the Prometheus exposition of the registry
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// FiberHandler mounts Handler on a fiber route
func (t *Telemetry) FiberHandler() fiber.Handler {
	return adaptor.HTTPHandler(t.Handler())
}

// Start serves /metrics on MetricsAddr. Without an address it is a no-op
// and the returned channel is nil. The channel receives a serve failure
// and is closed when the listener stops.
func (t *Telemetry) Start() (<-chan error, error) {
	if t.addr == "" {
		return nil, nil
	}

	if !t.running.CompareAndSwap(false, true) {
		return nil, goerrors.New("telemetry server already running", goerrors.CategoryConflict)
	}

	listener, err := net.Listen("tcp", t.addr)
	if err != nil {
		t.running.Store(false)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to listen for metrics").
			WithMetadata(map[string]any{"addr": t.addr})
	}
	t.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.httpServer = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := srv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			t.logger.Error("metrics server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	t.logger.Info("metrics server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Shutdown stops the metrics listener, if one is running.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	if t.httpServer != nil {
		if err := t.httpServer.Shutdown(ctx); err != nil {
			t.running.Store(true)
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to stop metrics server")
		}
	}

	t.logger.Info("metrics server stopped")
	return nil
}

// Addr returns the metrics listener address, empty when not running.
func (t *Telemetry) Addr() string {
	if t.listener != nil && t.running.Load() {
		return t.listener.Addr().String()
	}
	return ""
}

// Middleware starts a server span per request, continuing any trace the
// caller propagated, and records request count and latency.
func (t *Telemetry) Middleware() fiber.Handler {
	propagator := otel.GetTextMapPropagator()

	return func(c *fiber.Ctx) error {
		start := time.Now()

		carrier := propagation.HeaderCarrier(http.Header(c.GetReqHeaders()))
		ctx := propagator.Extract(c.UserContext(), carrier)

		ctx, span := t.tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)

		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path

		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.String("http.route", route),
		)
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}

		t.metrics.RequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		t.metrics.RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return nil
	}
}

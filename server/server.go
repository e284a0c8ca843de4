// Package server assembles the fiber application of accountsd.
package server

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	goerrors "github.com/goliatone/go-errors"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/logging"
	"github.com/goliatone/go-accounts/middleware/ratelimit"
	"github.com/goliatone/go-accounts/middleware/requestlog"
	"github.com/goliatone/go-accounts/observability"
)

// Options holds the collaborators of the HTTP server
type Options struct {
	Config    *config.Config
	Service   *accounts.Service
	Telemetry *observability.Telemetry
	Logger    *slog.Logger
	Version   string
	Clock     accounts.Clock
}

// Server owns the fiber app and its listener
type Server struct {
	app     *fiber.App
	addr    string
	logger  *slog.Logger
	started time.Time
	version string
	service *accounts.Service
	now     accounts.Clock
	running atomic.Bool
}

// New builds the app. Middleware order is recover, request id, access
// log, tracing, global rate limit, then the routes.
func New(opts Options) *Server {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	printf := logging.NewPrintf(logger)

	app := fiber.New(fiber.Config{
		AppName:               "accountsd",
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          accounts.ErrorHandler(printf, cfg.Server.Debug),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           2 * time.Minute,
		// the proxy header is only read from trusted peers, rate limits key
		// on the resulting client address
		ProxyHeader:             cfg.Server.ProxyHeader,
		EnableTrustedProxyCheck: cfg.Server.ProxyHeader != "",
		TrustedProxies:          cfg.Server.TrustedProxies,
		EnableIPValidation:      cfg.Server.ProxyHeader != "",
	})

	s := &Server{
		app:     app,
		addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		logger:  logger,
		started: now(),
		version: opts.Version,
		service: opts.Service,
		now:     now,
	}

	app.Use(recover.New(recover.Config{EnableStackTrace: cfg.Server.Debug}))
	app.Use(requestlog.RequestID())
	app.Use(requestlog.AccessLog(logger))

	if opts.Telemetry != nil {
		app.Use(opts.Telemetry.Middleware())
		app.Get("/metrics", opts.Telemetry.FiberHandler())
	}

	app.Get("/health", s.health)
	app.Get("/status", s.status)

	controllerOpts := []accounts.ControllerOption{
		accounts.WithControllerLogger(printf),
		accounts.WithControllerDebug(cfg.Server.Debug),
	}

	if cfg.RateLimit.Enabled {
		app.Use(accounts.APIPrefix, ratelimit.Global(cfg.RateLimit.Max, cfg.RateLimit.Window))
		controllerOpts = append(controllerOpts,
			accounts.WithLoginLimiter(ratelimit.Login(cfg.RateLimit.LoginMax, cfg.RateLimit.LoginWindow)),
		)
	}

	accounts.RegisterRoutes(app, opts.Service, controllerOpts...)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "route not found")
	})

	return s
}

// App exposes the fiber app, tests drive it with app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Addr() string {
	return s.addr
}

// Start listens in the background. The channel receives a listen failure
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, goerrors.New("http server already running", goerrors.CategoryConflict)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.app.Listen(s.addr); err != nil {
			s.logger.Error("http server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("http server started", "addr", s.addr, "version", s.version)
	return errCh, nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to stop http server")
	}

	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"status":  "ok",
	})
}

// status reports readiness. The store must answer a ping.
func (s *Server) status(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	body := fiber.Map{
		"version": s.version,
		"uptime":  s.now().Sub(s.started).Round(time.Second).String(),
	}

	if err := s.service.Repo().Ping(ctx); err != nil {
		s.logger.Warn("status check failed", "error", err)
		body["success"] = false
		body["status"] = "unavailable"
		body["database"] = "unreachable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}

	body["success"] = true
	body["status"] = "ok"
	body["database"] = "ok"
	return c.JSON(body)
}

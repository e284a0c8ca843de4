// Package ratelimit limits requests per client IP with a sliding window.
package ratelimit

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Limits used when the configuration leaves them unset.
const (
	DefaultMax         = 100
	DefaultWindow      = 15 * time.Minute
	DefaultLoginMax    = 5
	DefaultLoginWindow = 15 * time.Minute
)

// Config describes a single limiter
type Config struct {
	Max    int
	Window time.Duration
	// Message is rendered in the 429 envelope
	Message string
	// Next skips the limiter when it returns true
	Next func(c *fiber.Ctx) bool
	// Storage keeps the counters, in memory when nil
	Storage fiber.Storage
}

// New returns a per-IP sliding window limiter. Excess requests receive a
// 429 envelope with a Retry-After header and never reach the handler. The
// key is c.IP(), which reads the app's proxy header only from trusted peers.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Message == "" {
		cfg.Message = "too many requests, please try again later"
	}

	return limiter.New(limiter.Config{
		Next:       cfg.Next,
		Max:        cfg.Max,
		Expiration: cfg.Window,
		Storage:    cfg.Storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": cfg.Message,
				"code":    "TOO_MANY_REQUESTS",
			})
		},
		LimiterMiddleware: limiter.SlidingWindow{},
	})
}

// Global is the limiter applied to every route
func Global(max int, window time.Duration) fiber.Handler {
	return New(Config{Max: max, Window: window})
}

// Login is the tighter limiter in front of credential checks
func Login(max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = DefaultLoginMax
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	return New(Config{
		Max:     max,
		Window:  window,
		Message: "too many login attempts, please try again later",
	})
}

// Package requestlog tags every request with an id and writes a structured
// access log line once the handler chain returns.
package requestlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
)

type contextKey string

// RequestIDKey is the context and locals key for the request ID.
const RequestIDKey contextKey = "request_id"

// HeaderRequestID is read from the client and echoed on the response.
const HeaderRequestID = "X-Request-ID"

// RequestID assigns a ULID to each request unless the client already sent
// one. The id is set on the response header, the locals and the user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Set(HeaderRequestID, id)
		c.Locals(string(RequestIDKey), id)
		c.SetUserContext(context.WithValue(c.UserContext(), RequestIDKey, id))
		return c.Next()
	}
}

// GetRequestID extracts the request ID from the context. Returns an empty
// string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// AccessLog logs method, path, status, duration and request id. Errors
// returned by the chain are rendered by the app error handler first, so
// the logged status is the one the client sees.
func AccessLog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
			"bytes", len(c.Response().Body()),
			"request_id", GetRequestID(c.UserContext()),
			"remote_addr", c.IP(),
		)

		return nil
	}
}

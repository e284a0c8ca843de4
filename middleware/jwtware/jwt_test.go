package jwtware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-accounts/middleware/jwtware"
)

var errBadToken = errors.New("bad token")

type principal struct {
	ID string
}

func resolver(valid string) jwtware.Resolver {
	return func(_ context.Context, token string) (any, error) {
		if token != valid {
			return nil, errBadToken
		}
		return &principal{ID: "12345"}, nil
	}
}

func newApp(t *testing.T, cfg jwtware.Config) *fiber.App {
	t.Helper()

	app := fiber.New()
	app.Get("/protected/:jwt?", jwtware.New(cfg), func(c *fiber.Ctx) error {
		p, ok := c.Locals("user").(*principal)
		if !ok {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendString(p.ID)
	})
	return app
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestJWTWare_BasicHeaderExtraction(t *testing.T) {
	app := newApp(t, jwtware.Config{Resolver: resolver("good")})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "12345", body(t, resp))

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, jwtware.ErrJWTMissingOrMalformed.Error(), body(t, resp))

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTWare_RejectsWrongScheme(t *testing.T) {
	app := newApp(t, jwtware.Config{Resolver: resolver("good")})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearergood")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestJWTWare_CustomTokenLookup(t *testing.T) {
	app := newApp(t, jwtware.Config{
		Resolver:    resolver("good"),
		TokenLookup: "query:token,param:jwt,cookie:jwt_cookie",
	})

	req := httptest.NewRequest(http.MethodGet, "/protected?token=good", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/protected/good", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "jwt_cookie", Value: "good"})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTWare_ErrorHandlerReceivesResolverError(t *testing.T) {
	var got error
	app := newApp(t, jwtware.Config{
		Resolver: resolver("good"),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			got = err
			return c.SendStatus(fiber.StatusForbidden)
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer other")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.ErrorIs(t, got, errBadToken)
}

func TestJWTWare_FilterSkipsMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/open", jwtware.New(jwtware.Config{
		Resolver: resolver("good"),
		Filter:   func(*fiber.Ctx) bool { return true },
	}), func(c *fiber.Ctx) error {
		return c.SendString("open")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/open", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTWare_ValidationListenersAndEnricher(t *testing.T) {
	type ctxKey struct{}
	var listened bool

	app := fiber.New()
	app.Get("/protected", jwtware.New(jwtware.Config{
		Resolver: resolver("good"),
		ValidationListeners: []jwtware.ValidationListener{
			func(c *fiber.Ctx, p any) error {
				listened = p.(*principal).ID == "12345"
				return nil
			},
		},
		ContextEnricher: func(ctx context.Context, p any) context.Context {
			return context.WithValue(ctx, ctxKey{}, p)
		},
	}), func(c *fiber.Ctx) error {
		p, _ := c.UserContext().Value(ctxKey{}).(*principal)
		if p == nil {
			return c.SendStatus(fiber.StatusTeapot)
		}
		return c.SendString(p.ID)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, listened)
}

func TestJWTWare_ListenerErrorStopsRequest(t *testing.T) {
	app := newApp(t, jwtware.Config{
		Resolver: resolver("good"),
		ValidationListeners: []jwtware.ValidationListener{
			func(*fiber.Ctx, any) error { return errors.New("denied") },
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTWare_PanicsWithoutResolver(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}

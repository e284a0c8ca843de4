package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/database"
	"github.com/goliatone/go-accounts/logging"
	"github.com/goliatone/go-accounts/middleware/requestlog"
	"github.com/goliatone/go-accounts/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{Host: "127.0.0.1", Port: 8080, BodyLimit: 1 << 20},
		Auth: config.Auth{
			AccessSecret:  "test-access-secret-0123456789abcdef",
			RefreshSecret: "test-refresh-secret-0123456789abcdef",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			Issuer:        "test",
			Audience:      []string{"test"},
			CookieName:    "refresh_token",
		},
		Mail: config.Mail{Driver: "log", From: "noreply@example.com", BaseURL: "http://localhost"},
		RateLimit: config.RateLimit{
			Enabled:     true,
			Max:         100,
			Window:      time.Minute,
			LoginMax:    2,
			LoginWindow: time.Minute,
		},
	}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *bun.DB) {
	t.Helper()

	db, err := database.Open(context.Background(), database.Options{DSN: database.MemoryDSN})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := accounts.NewRepositoryManager(db)
	require.NoError(t, repo.Migrate(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	for _, fn := range mutate {
		fn(cfg)
	}
	tel := observability.New(observability.Options{Logger: logger})

	svc := accounts.NewService(accounts.Dependencies{
		Repo:     repo,
		Hasher:   accounts.NewBcryptHasher(bcrypt.MinCost),
		Config:   cfg,
		Logger:   logging.NewPrintf(logger),
		Activity: tel.Metrics().ActivitySink(),
	})

	srv := New(Options{
		Config:    cfg,
		Service:   svc,
		Telemetry: tel,
		Logger:    logger,
		Version:   "test",
	})

	return srv, db
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestlog.HeaderRequestID))

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
}

func TestServer_Status(t *testing.T) {
	srv, db := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "test", body["version"])

	require.NoError(t, db.Close())

	resp, err = srv.App().Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body = decode(t, resp)
	assert.Equal(t, false, body["success"])
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.App().Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "accounts_http_requests_total")
}

func TestServer_NotFoundEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "route not found", body["message"])
}

func TestServer_LoginRateLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	login := func() *http.Response {
		req := httptest.NewRequest("POST", accounts.APIPrefix+"/auth/login",
			strings.NewReader(`{"email":"nobody@example.com","password":"whatever"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := srv.App().Test(req)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, fiber.StatusUnauthorized, login().StatusCode)
	assert.Equal(t, fiber.StatusUnauthorized, login().StatusCode)

	resp := login()
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
}

func TestServer_LoginRateLimitBehindProxy(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		// third request from a second client address
		want int
	}{
		{"trusted proxy keys on the forwarded address", []string{"0.0.0.0", "127.0.0.1"}, fiber.StatusUnauthorized},
		{"untrusted peer keys on the remote address", []string{"10.9.9.9"}, fiber.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, func(cfg *config.Config) {
				cfg.Server.ProxyHeader = fiber.HeaderXForwardedFor
				cfg.Server.TrustedProxies = tt.trusted
			})

			login := func(client string) int {
				req := httptest.NewRequest("POST", accounts.APIPrefix+"/auth/login",
					strings.NewReader(`{"email":"nobody@example.com","password":"whatever"}`))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set(fiber.HeaderXForwardedFor, client)
				resp, err := srv.App().Test(req)
				require.NoError(t, err)
				return resp.StatusCode
			}

			assert.Equal(t, fiber.StatusUnauthorized, login("203.0.113.1"))
			assert.Equal(t, fiber.StatusUnauthorized, login("203.0.113.1"))
			assert.Equal(t, tt.want, login("203.0.113.2"))
		})
	}
}

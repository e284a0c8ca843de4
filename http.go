package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-accounts/middleware/jwtware"
)

// APIPrefix is the mount point of every account route
const APIPrefix = "/api/v1"

// DefaultRefreshCookieName is used when the config leaves it empty
const DefaultRefreshCookieName = "refresh_token"

const genericServerMessage = "an unexpected error occurred"

// Controller serves the account HTTP surface over a Service
type Controller struct {
	Debug        bool
	Logger       Logger
	Service      *Service
	LoginLimiter fiber.Handler
	cookieName   string
	production   bool
}

type ControllerOption func(*Controller) *Controller

// WithControllerLogger overrides the controller logger
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerDebug renders internal error details in responses
func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithLoginLimiter puts a tighter rate limit in front of login and OTP
// verification.
func WithLoginLimiter(limiter fiber.Handler) ControllerOption {
	return func(c *Controller) *Controller {
		c.LoginLimiter = limiter
		return c
	}
}

func NewController(svc *Service, opts ...ControllerOption) *Controller {
	if svc == nil || svc.Sessions == nil {
		panic("Missing Service or SessionIssuer in accounts controller...")
	}

	c := &Controller{
		Service:    svc,
		Logger:     svc.Logger(),
		cookieName: DefaultRefreshCookieName,
	}

	if cfg := svc.Config(); cfg != nil {
		if name := cfg.GetRefreshCookieName(); name != "" {
			c.cookieName = name
		}
		c.production = cfg.GetProduction()
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// RegisterRoutes mounts the auth and admin routes under APIPrefix.
func RegisterRoutes(router fiber.Router, svc *Service, opts ...ControllerOption) *Controller {
	c := NewController(svc, opts...)
	protected := c.Protected()

	api := router.Group(APIPrefix)

	auth := api.Group("/auth")
	auth.Post("/register", c.Register)
	auth.Get("/activate/:token", c.Activate)
	auth.Post("/resend-activation", c.ResendActivation)
	auth.Post("/login", c.limited(c.Login)...)
	auth.Post("/verify-otp", c.limited(c.VerifyOTP)...)
	auth.Post("/refresh-token", c.RefreshToken)
	auth.Post("/logout", protected, c.Logout)
	auth.Get("/me", protected, c.Me)
	auth.Post("/forgot-password", c.ForgotPassword)
	auth.Post("/reset-password/:token", c.ResetPassword)
	auth.Post("/change-password", protected, c.ChangePassword)
	auth.Get("/validate-token", protected, c.ValidateToken)

	admin := api.Group("/admin", protected, RequireRolesHandler(RoleAdmin, RoleSuperAdmin))
	admin.Get("/users", c.ListAccounts)
	admin.Post("/users", c.CreateAccount)
	admin.Get("/users/:id", c.GetAccount)
	admin.Put("/users/:id", c.UpdateAccount)
	admin.Delete("/users/:id", c.DeleteAccount)
	admin.Post("/users/:id/reset-password", c.AdminResetPassword)

	return c
}

func (c *Controller) limited(h fiber.Handler) []fiber.Handler {
	if c.LoginLimiter == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{c.LoginLimiter, h}
}

// Protected requires a valid bearer access token. The resolved Principal
// is stored in the locals and in the user context.
func (c *Controller) Protected() fiber.Handler {
	sessions := c.Service.Sessions
	return jwtware.New(jwtware.Config{
		ContextKey: PrincipalContextKey,
		Resolver: func(ctx context.Context, token string) (any, error) {
			account, claims, err := sessions.Verify(ctx, token)
			if err != nil {
				return nil, err
			}
			return &Principal{Account: account, Claims: claims}, nil
		},
		ContextEnricher: func(ctx context.Context, principal any) context.Context {
			p, _ := principal.(*Principal)
			return WithPrincipal(ctx, p)
		},
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				err = newInvalidSessionError(err)
			}
			if reason := SessionRejectReason(err); reason != "" {
				c.Logger.Debug("session rejected on %s %s: %s", ctx.Method(), ctx.Path(), reason)
			}
			return err
		},
	})
}

// RequireRolesHandler rejects principals outside roles with ErrForbidden.
func RequireRolesHandler(roles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFromFiber(c)
		if !ok {
			return ErrInvalidSession
		}
		if err := RequireRoles(p.Account, roles...); err != nil {
			return err
		}
		return c.Next()
	}
}

// ErrorHandler renders every error as the response envelope. Rich errors
// keep their status, text code and metadata; anything else is a 500 whose
// detail is only exposed when debug is set.
func ErrorHandler(logger Logger, debug bool) fiber.ErrorHandler {
	logger = normalizeLogger(logger)
	return func(c *fiber.Ctx, err error) error {
		status, body := errorEnvelope(err, debug)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request %s %s failed: %v", c.Method(), c.Path(), err)
		}
		return c.Status(status).JSON(body)
	}
}

func errorEnvelope(err error, debug bool) (int, fiber.Map) {
	body := fiber.Map{"success": false}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		body["message"] = fiberErr.Message
		if fiberErr.Code == fiber.StatusTooManyRequests {
			body["code"] = TextCodeTooManyRequests
		}
		return fiberErr.Code, body
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		body["message"] = genericServerMessage
		body["code"] = TextCodeServerError
		if debug && err != nil {
			body["error"] = err.Error()
		}
		return fiber.StatusInternalServerError, body
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusInternalServerError
	}

	body["message"] = richErr.Message
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	if fields, ok := richErr.Metadata["fields"]; ok {
		body["errors"] = fields
	}
	if until, ok := richErr.Metadata["locked_until"]; ok {
		body["locked_until"] = until
	}

	if status >= fiber.StatusInternalServerError {
		if debug {
			body["error"] = richErr.Error()
		}
	}

	return status, body
}

func respond(c *fiber.Ctx, status int, message string, payload fiber.Map) error {
	body := fiber.Map{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

func (c *Controller) sessionPayload(ctx *fiber.Ctx, session *Session) fiber.Map {
	c.setRefreshCookie(ctx, session.RefreshToken)
	return fiber.Map{
		"user":         session.Account.View(),
		"access_token": session.AccessToken.Token,
		"token_type":   "Bearer",
		"expires_at":   session.AccessToken.ExpiresAt,
	}
}

func (c *Controller) setRefreshCookie(ctx *fiber.Ctx, token SignedToken) {
	ctx.Cookie(&fiber.Cookie{
		Name:     c.cookieName,
		Value:    token.Token,
		Path:     APIPrefix + "/auth",
		Expires:  token.ExpiresAt,
		HTTPOnly: true,
		Secure:   c.production,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (c *Controller) clearRefreshCookie(ctx *fiber.Ctx) {
	ctx.Cookie(&fiber.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Path:     APIPrefix + "/auth",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   c.production,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// bind parses the JSON body into payload. A body that does not parse is a
// validation failure, not a server error.
func bind(ctx *fiber.Ctx, payload any) error {
	if len(ctx.Body()) == 0 {
		return nil
	}
	if err := ctx.BodyParser(payload); err != nil {
		return NewValidationError("request body is not valid JSON", nil)
	}
	return nil
}

func principal(ctx *fiber.Ctx) (*Principal, error) {
	p, ok := PrincipalFromFiber(ctx)
	if !ok || p.Account == nil {
		return nil, ErrInvalidSession
	}
	return p, nil
}

package accounts

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyOTPRequest payload
type VerifyOTPRequest struct {
	UserID string `json:"user_id"`
	OTP    string `json:"otp"`
}

// EmailRequest is the payload of resend-activation and forgot-password
type EmailRequest struct {
	Email string `json:"email"`
}

func (c *Controller) Register(ctx *fiber.Ctx) error {
	payload := RegisterAccountMessage{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	var resp *RegisterAccountResponse
	payload.OnResponse = func(r *RegisterAccountResponse) {
		resp = r
	}

	if err := c.Service.Register.Execute(ctx.UserContext(), payload); err != nil {
		return err
	}

	return respond(ctx, fiber.StatusCreated,
		"registration successful, check your email to activate your account",
		fiber.Map{"user": resp.Account.View()},
	)
}

func (c *Controller) Activate(ctx *fiber.Ctx) error {
	var resp *ActivateAccountResponse
	err := c.Service.Activate.Execute(ctx.UserContext(), ActivateAccountMessage{
		Token: ctx.Params("token"),
		OnResponse: func(r *ActivateAccountResponse) {
			resp = r
		},
	})
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "account activated", c.sessionPayload(ctx, resp.Session))
}

func (c *Controller) ResendActivation(ctx *fiber.Ctx) error {
	payload := EmailRequest{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	err := c.Service.ResendActivation.Execute(ctx.UserContext(), ResendActivationMessage{
		Email: payload.Email,
	})
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK,
		"if an account with that email is pending activation, a new link has been sent", nil)
}

func (c *Controller) Login(ctx *fiber.Ctx) error {
	payload := LoginRequest{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	result, err := c.Service.Auth.Login(ctx.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	if result.OTPRequired {
		return respond(ctx, fiber.StatusOK, "a one-time code has been sent to your email", fiber.Map{
			"otp_required": true,
			"user_id":      result.AccountID.String(),
		})
	}

	return respond(ctx, fiber.StatusOK, "login successful", c.sessionPayload(ctx, result.Session))
}

func (c *Controller) VerifyOTP(ctx *fiber.Ctx) error {
	payload := VerifyOTPRequest{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	id, err := uuid.Parse(payload.UserID)
	if err != nil || payload.OTP == "" {
		return ErrInvalidOrExpiredOTP
	}

	result, err := c.Service.Auth.VerifyOTP(ctx.UserContext(), id, payload.OTP)
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "login successful", c.sessionPayload(ctx, result.Session))
}

func (c *Controller) RefreshToken(ctx *fiber.Ctx) error {
	token := ctx.Cookies(c.cookieName)
	if token == "" {
		return ErrInvalidSession
	}

	session, err := c.Service.Sessions.Refresh(ctx.UserContext(), token)
	if err != nil {
		c.clearRefreshCookie(ctx)
		return err
	}

	return respond(ctx, fiber.StatusOK, "", c.sessionPayload(ctx, session))
}

func (c *Controller) Logout(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	if err := c.Service.Sessions.Logout(ctx.UserContext(), p.Account); err != nil {
		return err
	}

	c.clearRefreshCookie(ctx)
	return respond(ctx, fiber.StatusOK, "logged out", nil)
}

func (c *Controller) Me(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, "", fiber.Map{"user": p.Account.View()})
}

// ForgotPassword answers the same way whether the email is known or not.
func (c *Controller) ForgotPassword(ctx *fiber.Ctx) error {
	payload := EmailRequest{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	err := c.Service.ForgotPassword.Execute(ctx.UserContext(), InitializePasswordResetMessage{
		Email: payload.Email,
	})
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK,
		"if an account with that email exists, a password reset link has been sent", nil)
}

func (c *Controller) ResetPassword(ctx *fiber.Ctx) error {
	payload := FinalizePasswordResetMessage{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}
	payload.Token = ctx.Params("token")

	if err := c.Service.ResetPassword.Execute(ctx.UserContext(), payload); err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "password has been reset, you can now log in", nil)
}

func (c *Controller) ChangePassword(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	payload := ChangePasswordMessage{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	var session *Session
	payload.AccountID = p.Account.ID
	payload.OnResponse = func(s *Session) {
		session = s
	}

	if err := c.Service.ChangePassword.Execute(ctx.UserContext(), payload); err != nil {
		return err
	}

	if session == nil {
		return respond(ctx, fiber.StatusOK, "password changed", nil)
	}
	return respond(ctx, fiber.StatusOK, "password changed", c.sessionPayload(ctx, session))
}

func (c *Controller) ValidateToken(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	payload := fiber.Map{
		"valid": true,
		"user":  p.Account.View(),
	}
	if p.Claims != nil {
		payload["expires_at"] = p.Claims.Expires()
	}

	return respond(ctx, fiber.StatusOK, "", payload)
}

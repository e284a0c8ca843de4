package accounts

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation             = "VALIDATION_ERROR"
	TextCodeConflict               = "IDENTITY_CONFLICT"
	TextCodeInvalidCreds           = "INVALID_CREDENTIALS"
	TextCodeAccountLocked          = "ACCOUNT_LOCKED"
	TextCodeAccountNotActive       = "ACCOUNT_NOT_ACTIVE"
	TextCodeInvalidOrExpiredToken  = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeInvalidSession         = "INVALID_SESSION"
	TextCodeInvalidOrExpiredOTP    = "INVALID_OR_EXPIRED_OTP"
	TextCodeForbidden              = "FORBIDDEN"
	TextCodeNotFound               = "NOT_FOUND"
	TextCodeServerError            = "SERVER_ERROR"
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodeSelfDeletion           = "SELF_DELETION"
	TextCodeInvalidTransition      = "INVALID_ACCOUNT_STATE_TRANSITION"
	TextCodeTooManyRequests        = "TOO_MANY_REQUESTS"
	TextCodeEmailDeliveryFailed    = "EMAIL_DELIVERY_FAILED"
	TextCodeCurrentPasswordInvalid = "CURRENT_PASSWORD_INVALID"
)

// ErrInvalidCredentials never tells whether the email or the password was wrong.
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotActive is returned when a valid session or token resolves to an
// account that has not been activated.
var ErrAccountNotActive = goerrors.New("account is not active", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountNotActive).
	WithCode(goerrors.CodeForbidden)

// ErrLoginAccountNotActive is the login-path variant of ErrAccountNotActive.
// The caller is not authenticated yet, so it maps to 401.
var ErrLoginAccountNotActive = goerrors.New("account is not active, check your email to activate it", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountNotActive).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidOrExpiredToken uses the same message for unknown and expired
// one-time tokens.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidSession covers missing, malformed, expired and revoked session tokens.
var ErrInvalidSession = goerrors.New("invalid or expired session token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidSession).
	WithCode(goerrors.CodeUnauthorized)

var ErrInvalidOrExpiredOTP = goerrors.New("invalid or expired one-time code", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidOrExpiredOTP).
	WithCode(goerrors.CodeUnauthorized)

var ErrForbidden = goerrors.New("you do not have permission to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrConflict = goerrors.New("username or email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeBadRequest)

var ErrSelfDeletion = goerrors.New("you cannot delete your own account", goerrors.CategoryValidation).
	WithTextCode(TextCodeSelfDeletion).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the hasher level mismatch; the
// authenticator converts it to ErrInvalidCredentials.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

var ErrCurrentPasswordInvalid = goerrors.New("current password is incorrect", goerrors.CategoryValidation).
	WithTextCode(TextCodeCurrentPasswordInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailDelivery is surfaced when a rollback-triggering email send fails.
var ErrEmailDelivery = goerrors.New("we could not send the email, please try again later", goerrors.CategoryInternal).
	WithTextCode(TextCodeEmailDeliveryFailed).
	WithCode(goerrors.CodeInternal)

// NewAccountLockedError carries the instant the lock expires.
func NewAccountLockedError(until time.Time) *goerrors.Error {
	return goerrors.New("account is temporarily locked due to too many failed login attempts", goerrors.CategoryAuth).
		WithTextCode(TextCodeAccountLocked).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(map[string]any{
			"locked_until": until.UTC().Format(time.RFC3339),
		})
}

// NewValidationError wraps field level messages into a single error.
func NewValidationError(message string, fields map[string]string) *goerrors.Error {
	if message == "" {
		message = "validation failed"
	}
	meta := map[string]any{}
	if len(fields) > 0 {
		meta["fields"] = fields
	}
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(meta)
}

// NewServerError wraps an unexpected failure.
func NewServerError(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeServerError).
		WithCode(goerrors.CodeInternal)
}

// HasTextCode reports whether err is a rich error carrying code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsNotFound reports a missing account
func IsNotFound(err error) bool {
	return HasTextCode(err, TextCodeNotFound)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jwt.ErrTokenExpired) ||
		strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// Reasons a session token was rejected, kept in the error metadata.
const (
	SessionRejectExpired   = "expired"
	SessionRejectMalformed = "malformed"
	SessionRejectInvalid   = "invalid"
)

// newInvalidSessionError keeps the uniform session error and records why
// the token was refused for logs and metrics.
func newInvalidSessionError(cause error) *goerrors.Error {
	reason := SessionRejectInvalid
	switch {
	case IsTokenExpiredError(cause):
		reason = SessionRejectExpired
	case IsMalformedError(cause):
		reason = SessionRejectMalformed
	}
	return ErrInvalidSession.Clone().WithMetadata(map[string]any{"reason": reason})
}

// SessionRejectReason returns the reason recorded on a rejected session
// token, empty for any other error.
func SessionRejectReason(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodeInvalidSession {
		return ""
	}
	reason, _ := richErr.Metadata["reason"].(string)
	return reason
}

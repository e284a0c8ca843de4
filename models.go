package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Lifecycle policy.
const (
	// MaxLoginAttempts is the number of consecutive failures that locks an account
	MaxLoginAttempts = 5
	// LockoutDuration is how long a locked account stays unusable
	LockoutDuration = 15 * time.Minute
	// ActivationTokenTTL bounds the activation link
	ActivationTokenTTL = 24 * time.Hour
	// PasswordResetTokenTTL bounds the password reset link
	PasswordResetTokenTTL = time.Hour
	// OTPTTL bounds a login one-time code
	OTPTTL = 10 * time.Minute
	// MaxOTPAttempts wrong codes burn the outstanding OTP
	MaxOTPAttempts = 5
)

// Account is the persisted credential record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Username      string    `bun:"username,notnull,unique" json:"username"`
	Email         string    `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string    `bun:"password_hash" json:"-"`
	Role          Role      `bun:"role,notnull" json:"role"`
	Active        bool      `bun:"active,notnull" json:"active"`
	EmailVerified bool      `bun:"email_verified,notnull" json:"email_verified"`

	ActivationTokenHash string     `bun:"activation_token_hash,nullzero" json:"-"`
	ActivationExpiresAt *time.Time `bun:"activation_expires_at,nullzero" json:"-"`
	ResetTokenHash      string     `bun:"reset_token_hash,nullzero" json:"-"`
	ResetExpiresAt      *time.Time `bun:"reset_expires_at,nullzero" json:"-"`
	OTPCode             string     `bun:"otp_code,nullzero" json:"-"`
	OTPExpiresAt        *time.Time `bun:"otp_expires_at,nullzero" json:"-"`
	OTPAttempts         int        `bun:"otp_attempts,notnull" json:"-"`
	OTPVerified         bool       `bun:"otp_verified,notnull" json:"otp_verified"`

	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts"`
	LockedUntil         *time.Time `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	TokenVersion        int        `bun:"token_version,notnull" json:"-"`

	LastLoginAt *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// NewAccount returns a fully derived, pending account. The password must
// already be hashed.
func NewAccount(username, email, passwordHash string, role Role, now time.Time) *Account {
	if !role.IsValid() {
		role = RoleUser
	}
	return &Account{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(username),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lower cases and trims email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Touch stamps the modification time
func (a *Account) Touch(now time.Time) *Account {
	a.UpdatedAt = now
	return a
}

// IsLocked reports whether the lockout window is still open at now
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// SetActivation replaces any outstanding activation secret
func (a *Account) SetActivation(hash string, expiresAt time.Time) *Account {
	a.ActivationTokenHash = hash
	a.ActivationExpiresAt = &expiresAt
	return a
}

func (a *Account) ClearActivation() *Account {
	a.ActivationTokenHash = ""
	a.ActivationExpiresAt = nil
	return a
}

// HasLiveActivation reports an unexpired activation secret
func (a *Account) HasLiveActivation(now time.Time) bool {
	return a.ActivationTokenHash != "" && a.ActivationExpiresAt != nil && a.ActivationExpiresAt.After(now)
}

// Activate marks the account active and verified and consumes the
// activation secret.
func (a *Account) Activate(now time.Time) *Account {
	a.Active = true
	a.EmailVerified = true
	a.ClearActivation()
	return a.Touch(now)
}

// SetPasswordReset replaces any outstanding reset secret
func (a *Account) SetPasswordReset(hash string, expiresAt time.Time) *Account {
	a.ResetTokenHash = hash
	a.ResetExpiresAt = &expiresAt
	return a
}

func (a *Account) ClearPasswordReset() *Account {
	a.ResetTokenHash = ""
	a.ResetExpiresAt = nil
	return a
}

// HasLiveReset reports an unexpired password reset secret
func (a *Account) HasLiveReset(now time.Time) bool {
	return a.ResetTokenHash != "" && a.ResetExpiresAt != nil && a.ResetExpiresAt.After(now)
}

// SetOTP replaces any outstanding one-time code
func (a *Account) SetOTP(code string, expiresAt time.Time) *Account {
	a.OTPCode = code
	a.OTPExpiresAt = &expiresAt
	a.OTPAttempts = 0
	a.OTPVerified = false
	return a
}

func (a *Account) ClearOTP() *Account {
	a.OTPCode = ""
	a.OTPExpiresAt = nil
	a.OTPAttempts = 0
	return a
}

// HasLiveOTP reports an unexpired one-time code
func (a *Account) HasLiveOTP(now time.Time) bool {
	return a.OTPCode != "" && a.OTPExpiresAt != nil && a.OTPExpiresAt.After(now)
}

// RecordOTPFailure counts a wrong code and burns the slot once the
// attempt budget is spent.
func (a *Account) RecordOTPFailure(now time.Time) *Account {
	a.OTPAttempts++
	if a.OTPAttempts >= MaxOTPAttempts {
		a.ClearOTP()
	}
	return a.Touch(now)
}

// RecordLoginFailure increments the failure counter and locks the account
// when the threshold is reached. It returns true if the account is now locked.
func (a *Account) RecordLoginFailure(now time.Time) bool {
	// an elapsed lock starts a fresh window
	if a.LockedUntil != nil && !a.LockedUntil.After(now) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
	}
	a.FailedLoginAttempts++
	a.Touch(now)
	if a.FailedLoginAttempts >= MaxLoginAttempts {
		until := now.Add(LockoutDuration)
		a.LockedUntil = &until
		return true
	}
	return false
}

// RecordLoginSuccess resets failure counter and lockout
func (a *Account) RecordLoginSuccess(now time.Time) *Account {
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &now
	return a.Touch(now)
}

// ChangePassword swaps the hash, consumes any reset secret, lifts any
// lockout and revokes outstanding refresh tokens.
func (a *Account) ChangePassword(passwordHash string, now time.Time) *Account {
	a.PasswordHash = passwordHash
	a.ClearPasswordReset()
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	a.TokenVersion++
	return a.Touch(now)
}

// RevokeRefreshTokens invalidates every refresh token minted so far
func (a *Account) RevokeRefreshTokens(now time.Time) *Account {
	a.TokenVersion++
	return a.Touch(now)
}

// View returns the public projection of the account
func (a *Account) View() AccountView {
	return AccountView{
		ID:            a.ID.String(),
		Username:      a.Username,
		Email:         a.Email,
		Role:          a.Role,
		Active:        a.Active,
		EmailVerified: a.EmailVerified,
		LastLoginAt:   a.LastLoginAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// AccountView is what the HTTP surface returns for an account
type AccountView struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Role          Role       `json:"role"`
	Active        bool       `json:"active"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// identity adapts an Account to Identity
type identity struct {
	account *Account
}

// IdentityOf returns the Identity view of an account
func IdentityOf(a *Account) Identity {
	return identity{account: a}
}

func (i identity) ID() string       { return i.account.ID.String() }
func (i identity) Username() string { return i.account.Username }
func (i identity) Email() string    { return i.account.Email }
func (i identity) Role() string     { return string(i.account.Role) }

package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginResult is either a session or, when the second factor is enabled,
// a pending OTP challenge for AccountID.
type LoginResult struct {
	Session     *Session
	OTPRequired bool
	AccountID   uuid.UUID
	// OTP holds the issued code. It is never rendered over HTTP.
	OTP string
}

// Auther verifies credentials and drives the lockout and OTP rules
type Auther struct {
	deps       Dependencies
	otpEnabled bool
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(deps Dependencies) *Auther {
	deps = deps.normalize()
	otp := false
	if deps.Config != nil {
		otp = deps.Config.GetOTPEnabled()
	}
	return &Auther{
		deps:       deps,
		otpEnabled: otp,
	}
}

// WithOTP toggles the second factor
func (s *Auther) WithOTP(enabled bool) *Auther {
	s.otpEnabled = enabled
	return s
}

type loginOutcome int

const (
	loginOK loginOutcome = iota
	loginUnknown
	loginWrongPassword
	loginLocked
)

// Login checks email and password. The lock is evaluated before the
// password, the active flag after it.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, commandCancelled(ctx, "login")
	default:
	}

	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		account *Account
		outcome loginOutcome
		otpCode string
	)

	// failures are persisted, so the transaction commits and the error is
	// returned once it is done
	err := s.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = s.deps.Repo.Accounts().FindByIdentityTx(ctx, tx, email, WithCredentials())
		if err != nil {
			if IsNotFound(err) {
				s.dummyCompare(password)
				outcome = loginUnknown
				return nil
			}
			return err
		}

		now := s.deps.Clock()
		if account.IsLocked(now) {
			return NewAccountLockedError(*account.LockedUntil)
		}

		if err := s.deps.Hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
			if !errors.Is(err, ErrMismatchedHashAndPassword) {
				s.deps.Logger.Warn("password compare failed for account %s: %v", account.ID, err)
			}
			outcome = loginWrongPassword
			return s.deps.StateMachine.Transition(ctx, ActorOf(account), account, StateLocked,
				func(ctx context.Context, a *Account) error {
					if a.RecordLoginFailure(now) {
						outcome = loginLocked
					}
					_, err := s.deps.Repo.Accounts().SaveTx(ctx, tx, a)
					return err
				},
				WithTransitionReason("failed login"),
			)
		}

		if !account.Active {
			return ErrLoginAccountNotActive
		}

		account.RecordLoginSuccess(now)

		if s.otpEnabled {
			code, err := GenerateOTP()
			if err != nil {
				return err
			}
			account.SetOTP(code, now.Add(OTPTTL))
			otpCode = code
		}

		_, err = s.deps.Repo.Accounts().SaveTx(ctx, tx, account)
		return err
	})

	if err != nil {
		s.emitFailure(ctx, account, email, err.Error())
		return nil, normalizeCommandError(err, "login failed")
	}

	switch outcome {
	case loginUnknown:
		s.emitFailure(ctx, nil, email, "unknown account")
		return nil, ErrInvalidCredentials
	case loginWrongPassword:
		s.emitFailure(ctx, account, email, "wrong password")
		return nil, ErrInvalidCredentials
	case loginLocked:
		s.emitFailure(ctx, account, email, "wrong password")
		s.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventLocked,
			Actor:     SystemActor,
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"failed_login_attempts": account.FailedLoginAttempts,
			},
		})
		// the attempt that trips the lock still reads as a bad password,
		// the lock is reported from the next attempt on
		return nil, ErrInvalidCredentials
	}

	if otpCode != "" {
		s.deps.notify(ctx, account, Message{
			Template: TemplateOTP,
			Variables: map[string]any{
				"code":       otpCode,
				"expires_in": humanDuration(OTPTTL),
			},
		})

		s.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventOTPIssued,
			Actor:     ActorOf(account),
			AccountID: account.ID.String(),
		})

		return &LoginResult{
			OTPRequired: true,
			AccountID:   account.ID,
			OTP:         otpCode,
		}, nil
	}

	return s.issue(ctx, account, ActivityEventLoginSuccess)
}

// VerifyOTP completes a login with the emailed code. Wrong codes count
// against the attempt budget and burn the code once it is spent.
func (s *Auther) VerifyOTP(ctx context.Context, accountID uuid.UUID, code string) (*LoginResult, error) {
	select {
	case <-ctx.Done():
		return nil, commandCancelled(ctx, "otp verification")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		account *Account
		wrong   bool
	)

	err := s.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = s.deps.Repo.Accounts().FindByIDTx(ctx, tx, accountID)
		if err != nil {
			if IsNotFound(err) {
				return ErrInvalidOrExpiredOTP
			}
			return err
		}

		now := s.deps.Clock()
		if !account.HasLiveOTP(now) {
			return ErrInvalidOrExpiredOTP
		}

		if !VerifyOTP(code, account.OTPCode) {
			wrong = true
			account.RecordOTPFailure(now)
			_, err = s.deps.Repo.Accounts().SaveTx(ctx, tx, account)
			return err
		}

		if !account.Active {
			return ErrLoginAccountNotActive
		}

		account.ClearOTP()
		account.OTPVerified = true
		account.Touch(now)
		_, err = s.deps.Repo.Accounts().SaveTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return nil, normalizeCommandError(err, "otp verification failed")
	}

	if wrong {
		s.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventOTPFailure,
			Actor:     ActorOf(account),
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"otp_attempts": account.OTPAttempts,
			},
		})
		return nil, ErrInvalidOrExpiredOTP
	}

	return s.issue(ctx, account, ActivityEventOTPVerified)
}

func (s *Auther) issue(ctx context.Context, account *Account, event ActivityEventType) (*LoginResult, error) {
	if s.deps.Sessions == nil {
		return nil, NewServerError(errors.New("session issuer is not configured"), "failed to create session")
	}

	session, err := s.deps.Sessions.Issue(ctx, account)
	if err != nil {
		return nil, err
	}

	s.deps.recorder().record(ctx, ActivityEvent{
		EventType: event,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	return &LoginResult{
		Session:   session,
		AccountID: account.ID,
	}, nil
}

// dummyCompare burns the same bcrypt work as a real comparison so a
// missing account is not distinguishable by response time.
func (s *Auther) dummyCompare(password string) {
	if dh, ok := s.deps.Hasher.(dummyHasher); ok {
		_ = s.deps.Hasher.ComparePasswordAndHash(password, dh.DummyHash())
	}
}

func (s *Auther) emitFailure(ctx context.Context, account *Account, email, reason string) {
	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: "unknown"},
		Metadata: map[string]any{
			"identifier": email,
			"reason":     reason,
		},
	}

	if account != nil {
		event.Actor = ActorOf(account)
		event.AccountID = account.ID.String()
	}

	s.deps.recorder().record(ctx, event)
}

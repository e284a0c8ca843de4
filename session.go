package accounts

import (
	"context"

	"github.com/uptrace/bun"
)

// Session is the pair of tokens minted for an authenticated account
type Session struct {
	Account      *Account
	AccessToken  SignedToken
	RefreshToken SignedToken
}

// SessionIssuer mints, verifies, rotates and revokes sessions
type SessionIssuer interface {
	Issue(ctx context.Context, account *Account) (*Session, error)
	Verify(ctx context.Context, accessToken string) (*Account, *Claims, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, account *Account) error
}

// SessionManager is the default SessionIssuer. Access tokens are stateless,
// refresh tokens are bound to the account token version.
type SessionManager struct {
	repo     RepositoryManager
	tokens   TokenService
	now      Clock
	logger   Logger
	activity activityRecorder
}

var _ SessionIssuer = (*SessionManager)(nil)

// NewSessionManager returns a session issuer over repo and tokens
func NewSessionManager(repo RepositoryManager, tokens TokenService) *SessionManager {
	s := &SessionManager{
		repo:   repo,
		tokens: tokens,
		now:    normalizeClock(nil),
		logger: defLogger{},
	}
	s.activity = newActivityRecorder(nil, s.logger, s.now)
	return s
}

// WithLogger overrides the logger
func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	s.logger = normalizeLogger(logger)
	s.activity.logger = s.logger
	return s
}

// WithClock overrides the clock
func (s *SessionManager) WithClock(clock Clock) *SessionManager {
	s.now = normalizeClock(clock)
	s.activity.now = s.now
	return s
}

// WithActivitySink configures an ActivitySink for session events
func (s *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	s.activity.sink = normalizeActivitySink(sink)
	return s
}

// Issue mints a new token pair bound to the current token version.
func (s *SessionManager) Issue(_ context.Context, account *Account) (*Session, error) {
	if account == nil {
		return nil, ErrInvalidSession
	}

	id := IdentityOf(account)

	access, err := s.tokens.GenerateAccess(id)
	if err != nil {
		return nil, err
	}

	refresh, err := s.tokens.GenerateRefresh(id, account.TokenVersion)
	if err != nil {
		return nil, err
	}

	return &Session{
		Account:      account,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Verify validates an access token and resolves its account. A valid token
// for an inactive account fails with ErrAccountNotActive.
func (s *SessionManager) Verify(ctx context.Context, accessToken string) (*Account, *Claims, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, nil, err
	}

	account, err := s.resolve(ctx, s.repo.Accounts(), nil, claims)
	if err != nil {
		return nil, nil, err
	}

	return account, claims, nil
}

// Refresh rotates the token pair. The presented refresh token must carry
// the current token version, which is bumped so it cannot be replayed.
func (s *SessionManager) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var account *Account
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = s.resolve(ctx, s.repo.Accounts(), tx, claims)
		if err != nil {
			return err
		}

		if claims.Version != account.TokenVersion {
			s.logger.Warn("refresh token version mismatch for account %s: got %d want %d",
				account.ID, claims.Version, account.TokenVersion)
			return ErrInvalidSession
		}

		account.RevokeRefreshTokens(s.now())
		_, err = s.repo.Accounts().SaveTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return nil, normalizeCommandError(err, "failed to refresh session")
	}

	session, err := s.Issue(ctx, account)
	if err != nil {
		return nil, err
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	return session, nil
}

// Logout revokes every outstanding refresh token of account.
func (s *SessionManager) Logout(ctx context.Context, account *Account) error {
	if account == nil {
		return ErrInvalidSession
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := s.repo.Accounts().FindByIDTx(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		current.RevokeRefreshTokens(s.now())
		if _, err := s.repo.Accounts().SaveTx(ctx, tx, current); err != nil {
			return err
		}
		account.TokenVersion = current.TokenVersion
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to log out")
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	return nil
}

func (s *SessionManager) resolve(ctx context.Context, store Accounts, tx bun.IDB, claims *Claims) (*Account, error) {
	id, err := claims.AccountID()
	if err != nil {
		return nil, ErrInvalidSession
	}

	var account *Account
	if tx != nil {
		account, err = store.FindByIDTx(ctx, tx, id)
	} else {
		account, err = store.FindByID(ctx, id)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if !account.Active {
		return nil, ErrAccountNotActive
	}

	return account, nil
}

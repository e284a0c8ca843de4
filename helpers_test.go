package accounts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/database"
)

type testConfig struct {
	otp bool
}

func (c testConfig) GetAccessTokenSecret() string      { return "access-secret-for-tests-0123456789abcdef" }
func (c testConfig) GetRefreshTokenSecret() string     { return "refresh-secret-for-tests-0123456789abcdef" }
func (c testConfig) GetAccessTokenTTL() time.Duration  { return 15 * time.Minute }
func (c testConfig) GetRefreshTokenTTL() time.Duration { return 7 * 24 * time.Hour }
func (c testConfig) GetIssuer() string                 { return "accounts-test" }
func (c testConfig) GetAudience() []string             { return []string{"accounts-test"} }
func (c testConfig) GetOTPEnabled() bool               { return c.otp }
func (c testConfig) GetRefreshCookieName() string      { return "refresh_token" }
func (c testConfig) GetProduction() bool               { return false }
func (c testConfig) GetBaseURL() string                { return "http://localhost:3000/" }

// testClock is a movable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mailbox captures every message sent
type mailbox struct {
	mu   sync.Mutex
	msgs []accounts.Message
	fail error
}

func (m *mailbox) Send(_ context.Context, msg accounts.Message) (accounts.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return accounts.Receipt{}, m.fail
	}
	m.msgs = append(m.msgs, msg)
	return accounts.Receipt{ID: "msg", SentAt: time.Now()}, nil
}

func (m *mailbox) count(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.Template == template {
			n++
		}
	}
	return n
}

// last returns the most recent message for template
func (m *mailbox) last(t *testing.T, template string) accounts.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Template == template {
			return m.msgs[i]
		}
	}
	t.Fatalf("no %s message sent", template)
	return accounts.Message{}
}

func (m *mailbox) token(t *testing.T, template string) string {
	t.Helper()
	token, _ := m.last(t, template).Variables["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// eventLog captures activity events
type eventLog struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (l *eventLog) Record(_ context.Context, event accounts.ActivityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) has(typ accounts.ActivityEventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.EventType == typ {
			return true
		}
	}
	return false
}

func (l *eventLog) of(typ accounts.ActivityEventType) []accounts.ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []accounts.ActivityEvent
	for _, e := range l.events {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type testEnv struct {
	svc    *accounts.Service
	db     *bun.DB
	repo   accounts.RepositoryManager
	clock  *testClock
	mail   *mailbox
	events *eventLog
}

type envOption func(*testConfig)

func withOTP() envOption {
	return func(c *testConfig) { c.otp = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Options{DSN: database.MemoryDSN})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := accounts.NewRepositoryManager(db)
	require.NoError(t, repo.Migrate(ctx))

	cfg := testConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		db:     db,
		repo:   repo,
		clock:  newTestClock(),
		mail:   &mailbox{},
		events: &eventLog{},
	}

	env.svc = accounts.NewService(accounts.Dependencies{
		Repo:     repo,
		Hasher:   accounts.NewBcryptHasher(bcrypt.MinCost),
		Mailer:   env.mail,
		Config:   cfg,
		Clock:    env.clock.Now,
		Logger:   quietLogger{},
		Activity: env.events,
	})

	return env
}

// register creates a pending account and returns it with its activation token
func (e *testEnv) register(t *testing.T, username, email, password string) (*accounts.Account, string) {
	t.Helper()

	var resp *accounts.RegisterAccountResponse
	err := e.svc.Register.Execute(context.Background(), accounts.RegisterAccountMessage{
		Username: username,
		Email:    email,
		Password: password,
		OnResponse: func(r *accounts.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp.Account, resp.ActivationToken
}

// activeAccount registers and activates an account
func (e *testEnv) activeAccount(t *testing.T, username, email, password string) *accounts.Account {
	t.Helper()

	_, token := e.register(t, username, email, password)
	var resp *accounts.ActivateAccountResponse
	err := e.svc.Activate.Execute(context.Background(), accounts.ActivateAccountMessage{
		Token: token,
		OnResponse: func(r *accounts.ActivateAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	return resp.Account
}

// seedAccount stores an active account with role directly
func (e *testEnv) seedAccount(t *testing.T, username string, role accounts.Role) *accounts.Account {
	t.Helper()

	hash, err := accounts.NewBcryptHasher(bcrypt.MinCost).HashPassword("password1")
	require.NoError(t, err)

	now := e.clock.Now()
	account := accounts.NewAccount(username, username+"@example.com", hash, role, now).Activate(now)
	account, err = e.repo.Accounts().Create(context.Background(), account)
	require.NoError(t, err)
	return account
}

func (e *testEnv) reload(t *testing.T, account *accounts.Account) *accounts.Account {
	t.Helper()
	found, err := e.repo.Accounts().FindByID(context.Background(), account.ID, accounts.WithCredentials())
	require.NoError(t, err)
	return found
}

func textCode(err error) string {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func httpCode(err error) int {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) {
		return richErr.Code
	}
	return 0
}

func validationFields(err error) map[string]string {
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		return nil
	}
	fields, _ := richErr.Metadata["fields"].(map[string]string)
	return fields
}

package accounts_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
)

func requestReset(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	var token string
	err := env.svc.ForgotPassword.Execute(context.Background(), accounts.InitializePasswordResetMessage{
		Email: email,
		OnToken: func(tok string) {
			token = tok
		},
	})
	require.NoError(t, err)
	return token
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.activeAccount(t, "alice", "a@x.com", "secret1")
	session := loginSession(t, env, "a@x.com", "secret1")

	token := requestReset(t, env, "a@x.com")
	require.NotEmpty(t, token)

	msg := env.mail.last(t, accounts.TemplatePasswordReset)
	assert.Equal(t, "a@x.com", msg.To)
	assert.True(t, strings.HasSuffix(msg.Variables["link"].(string), "/reset-password/"+token))

	stored := env.reload(t, account)
	assert.Equal(t, accounts.HashToken(token), stored.ResetTokenHash)
	assert.Equal(t, accounts.StatePasswordResetPending, accounts.AccountState(stored, env.clock.Now()))

	err := env.svc.ResetPassword.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:    token,
		Password: "brand-new-pass",
	})
	require.NoError(t, err)

	stored = env.reload(t, account)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Equal(t, accounts.StateActive, accounts.AccountState(stored, env.clock.Now()))
	assert.Equal(t, 1, env.mail.count(accounts.TemplatePasswordChanged))
	assert.True(t, env.events.has(accounts.ActivityEventPasswordResetSuccess))

	_, err = env.svc.Auth.Login(ctx, "a@x.com", "secret1")
	assert.Equal(t, accounts.TextCodeInvalidCreds, textCode(err))
	_, err = env.svc.Auth.Login(ctx, "a@x.com", "brand-new-pass")
	assert.NoError(t, err)

	t.Run("token is single use", func(t *testing.T) {
		err := env.svc.ResetPassword.Execute(ctx, accounts.FinalizePasswordResetMessage{
			Token:    token,
			Password: "another-pass",
		})
		assert.Equal(t, accounts.TextCodeInvalidOrExpiredToken, textCode(err))
	})

	t.Run("earlier refresh tokens are revoked", func(t *testing.T) {
		_, err := env.svc.Sessions.Refresh(ctx, session.RefreshToken.Token)
		assert.Equal(t, accounts.TextCodeInvalidSession, textCode(err))
	})
}

func TestPasswordReset_UnknownEmailLooksTheSame(t *testing.T) {
	env := newTestEnv(t)

	env.activeAccount(t, "alice", "a@x.com", "secret1")

	token := requestReset(t, env, "ghost@x.com")
	assert.Empty(t, token)
	assert.Zero(t, env.mail.count(accounts.TemplatePasswordReset))
}

func TestPasswordReset_PendingAccountLooksUnknown(t *testing.T) {
	env := newTestEnv(t)

	account, _ := env.register(t, "alice", "a@x.com", "secret1")

	token := requestReset(t, env, "a@x.com")
	assert.Empty(t, token)
	assert.Zero(t, env.mail.count(accounts.TemplatePasswordReset))

	stored := env.reload(t, account)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Equal(t, accounts.StatePending, accounts.AccountState(stored, env.clock.Now()))
}

func TestPasswordReset_Expired(t *testing.T) {
	env := newTestEnv(t)

	account := env.activeAccount(t, "alice", "a@x.com", "secret1")
	token := requestReset(t, env, "a@x.com")

	env.clock.Advance(accounts.PasswordResetTokenTTL + time.Second)
	assert.Equal(t, accounts.StateActive, accounts.AccountState(env.reload(t, account), env.clock.Now()))

	err := env.svc.ResetPassword.Execute(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    token,
		Password: "brand-new-pass",
	})
	assert.Equal(t, accounts.TextCodeInvalidOrExpiredToken, textCode(err))
}

func TestPasswordReset_NewRequestReplacesOld(t *testing.T) {
	env := newTestEnv(t)

	env.activeAccount(t, "alice", "a@x.com", "secret1")
	first := requestReset(t, env, "a@x.com")
	second := requestReset(t, env, "a@x.com")

	err := env.svc.ResetPassword.Execute(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    first,
		Password: "brand-new-pass",
	})
	assert.Equal(t, accounts.TextCodeInvalidOrExpiredToken, textCode(err))

	err = env.svc.ResetPassword.Execute(context.Background(), accounts.FinalizePasswordResetMessage{
		Token:    second,
		Password: "brand-new-pass",
	})
	assert.NoError(t, err)
}

func TestPasswordReset_ActivatesPendingAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, _ := env.register(t, "alice", "a@x.com", "secret1")
	token := requestReset(t, env, "a@x.com")
	require.NotEmpty(t, token)

	require.NoError(t, env.svc.ResetPassword.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:    token,
		Password: "brand-new-pass",
	}))

	stored := env.reload(t, account)
	assert.True(t, stored.Active)
	assert.True(t, stored.EmailVerified)

	_, err := env.svc.Auth.Login(ctx, "a@x.com", "brand-new-pass")
	assert.NoError(t, err)
}

func TestPasswordReset_UnlocksAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.activeAccount(t, "alice", "a@x.com", "secret1")
	for i := 0; i < accounts.MaxLoginAttempts; i++ {
		_, _ = env.svc.Auth.Login(ctx, "a@x.com", "wrong-password")
	}
	require.True(t, env.reload(t, account).IsLocked(env.clock.Now()))

	token := requestReset(t, env, "a@x.com")
	require.NoError(t, env.svc.ResetPassword.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:    token,
		Password: "brand-new-pass",
	}))

	_, err := env.svc.Auth.Login(ctx, "a@x.com", "brand-new-pass")
	assert.NoError(t, err)
}

func TestPasswordReset_DeliveryFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)

	account := env.activeAccount(t, "alice", "a@x.com", "secret1")
	env.mail.fail = assert.AnError

	err := env.svc.ForgotPassword.Execute(context.Background(), accounts.InitializePasswordResetMessage{Email: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, accounts.TextCodeEmailDeliveryFailed, textCode(err))
	assert.Equal(t, 500, httpCode(err))

	stored := env.reload(t, account)
	assert.Empty(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetExpiresAt)
}

func TestPasswordReset_Validation(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ResetPassword.Execute(context.Background(), accounts.FinalizePasswordResetMessage{Password: "brand-new-pass"})
	assert.Equal(t, accounts.TextCodeInvalidOrExpiredToken, textCode(err))

	err = env.svc.ResetPassword.Execute(context.Background(), accounts.FinalizePasswordResetMessage{Token: "abc", Password: "x"})
	assert.Equal(t, accounts.TextCodeValidation, textCode(err))

	err = env.svc.ForgotPassword.Execute(context.Background(), accounts.InitializePasswordResetMessage{Email: "not-an-email"})
	assert.Equal(t, accounts.TextCodeValidation, textCode(err))
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.activeAccount(t, "alice", "a@x.com", "secret1")
	old := loginSession(t, env, "a@x.com", "secret1")

	t.Run("wrong current password", func(t *testing.T) {
		err := env.svc.ChangePassword.Execute(ctx, accounts.ChangePasswordMessage{
			AccountID:       account.ID,
			CurrentPassword: "nope-nope",
			NewPassword:     "brand-new-pass",
		})
		assert.Equal(t, accounts.TextCodeCurrentPasswordInvalid, textCode(err))
	})

	var fresh *accounts.Session
	err := env.svc.ChangePassword.Execute(ctx, accounts.ChangePasswordMessage{
		AccountID:       account.ID,
		CurrentPassword: "secret1",
		NewPassword:     "brand-new-pass",
		OnResponse: func(s *accounts.Session) {
			fresh = s
		},
	})
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, 1, env.mail.count(accounts.TemplatePasswordChanged))

	_, err = env.svc.Sessions.Refresh(ctx, old.RefreshToken.Token)
	assert.Equal(t, accounts.TextCodeInvalidSession, textCode(err))

	_, err = env.svc.Sessions.Refresh(ctx, fresh.RefreshToken.Token)
	assert.NoError(t, err)

	_, err = env.svc.Auth.Login(ctx, "a@x.com", "brand-new-pass")
	assert.NoError(t, err)
}

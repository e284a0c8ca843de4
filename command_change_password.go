package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangePasswordMessage replaces the password of an authenticated account
type ChangePasswordMessage struct {
	AccountID       uuid.UUID `json:"-"`
	CurrentPassword string    `json:"current_password"`
	NewPassword     string    `json:"new_password"`
	OnResponse      func(session *Session) `json:"-"`
}

func (m ChangePasswordMessage) Type() string { return "account.password.change" }

func (m ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.CurrentPassword, validation.Required),
		validation.Field(&m.NewPassword, passwordRules()...),
	)
}

type ChangePasswordHandler struct {
	deps Dependencies
}

func NewChangePasswordHandler(deps Dependencies) *ChangePasswordHandler {
	return &ChangePasswordHandler{deps: deps.normalize()}
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "password change")
	default:
		return h.execute(ctx, event)
	}
}

// execute verifies the current password. Changing it revokes every refresh
// token, so a new session is minted for the caller.
func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := event.Validate(); err != nil {
		return asValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var account *Account
	err := h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = h.deps.Repo.Accounts().FindByIDTx(ctx, tx, event.AccountID, WithCredentials())
		if err != nil {
			return err
		}

		if err := h.deps.Hasher.ComparePasswordAndHash(event.CurrentPassword, account.PasswordHash); err != nil {
			return ErrCurrentPasswordInvalid
		}

		passwordHash, err := hashPassword(h.deps.Hasher, event.NewPassword)
		if err != nil {
			return err
		}

		account.ChangePassword(passwordHash, h.deps.Clock())
		_, err = h.deps.Repo.Accounts().SaveTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return normalizeCommandError(err, "failed to change password")
	}

	h.deps.notify(ctx, account, Message{Template: TemplatePasswordChanged})

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	if event.OnResponse != nil && h.deps.Sessions != nil {
		session, err := h.deps.Sessions.Issue(ctx, account)
		if err != nil {
			return err
		}
		event.OnResponse(session)
	}

	return nil
}

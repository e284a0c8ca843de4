package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

// InitializePasswordResetMessage requests a reset link. The outcome is
// identical for known and unknown emails.
type InitializePasswordResetMessage struct {
	Email string `json:"email"`
	// OnToken receives the clear token when one was issued. Tests use it.
	OnToken func(token string) `json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

type InitializePasswordResetHandler struct {
	deps Dependencies
}

func NewInitializePasswordResetHandler(deps Dependencies) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{deps: deps.normalize()}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "password reset initialization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return asValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, tokenHash, err := GenerateToken()
	if err != nil {
		return err
	}

	var account *Account
	err = h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := h.deps.Repo.Accounts().FindByIdentityTx(ctx, tx, NormalizeEmail(event.Email))
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}

		now := h.deps.Clock()
		err = h.deps.StateMachine.Transition(ctx, ActorOf(found), found, StatePasswordResetPending,
			func(ctx context.Context, a *Account) error {
				a.SetPasswordReset(tokenHash, now.Add(PasswordResetTokenTTL)).Touch(now)
				_, err := h.deps.Repo.Accounts().SaveTx(ctx, tx, a)
				return err
			},
			WithTransitionReason("password reset requested"),
		)
		if IsInvalidTransition(err) {
			// unverified accounts finish activation first; answer as for an unknown email
			h.deps.Logger.Debug("password reset skipped for account %s: %v", found.ID, err)
			return nil
		}
		if err != nil {
			return err
		}

		account = found
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to initialize password reset")
	}

	if account == nil {
		h.deps.Logger.Debug("password reset requested for unknown email")
		return nil
	}

	_, sendErr := h.deps.send(ctx, account, Message{
		Template: TemplatePasswordReset,
		Variables: map[string]any{
			"link":       h.deps.link("/reset-password", token),
			"token":      token,
			"expires_in": humanDuration(PasswordResetTokenTTL),
		},
	})
	if sendErr != nil {
		h.deps.Logger.Error("failed to send password reset email to account %s: %v", account.ID, sendErr)
		h.rollback(ctx, account, tokenHash)
		return ErrEmailDelivery
	}

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	if event.OnToken != nil {
		event.OnToken(token)
	}

	return nil
}

// rollback clears the reset slot, unless a newer request replaced it.
func (h *InitializePasswordResetHandler) rollback(ctx context.Context, account *Account, tokenHash string) {
	err := h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.deps.Repo.Accounts().FindByIDTx(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if current.ResetTokenHash != tokenHash {
			return nil
		}
		current.ClearPasswordReset().Touch(h.deps.Clock())
		_, err = h.deps.Repo.Accounts().SaveTx(ctx, tx, current)
		return err
	})
	if err != nil {
		h.deps.Logger.Error("failed to roll back password reset for account %s: %v", account.ID, err)
	}
}

package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage consumes a reset token and sets a new password
type FinalizePasswordResetMessage struct {
	Token    string `json:"-"`
	Password string `json:"password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, passwordRules()...),
	)
}

type FinalizePasswordResetHandler struct {
	deps Dependencies
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(deps Dependencies) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{deps: deps.normalize()}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "password reset finalization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if event.Token == "" {
		return ErrInvalidOrExpiredToken
	}

	if err := event.Validate(); err != nil {
		return asValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	passwordHash, err := hashPassword(h.deps.Hasher, event.Password)
	if err != nil {
		return err
	}

	var account *Account
	err = h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.deps.Repo.Accounts().FindByResetTokenHashTx(ctx, tx, HashToken(event.Token))
		if err != nil {
			if IsNotFound(err) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}

		now := h.deps.Clock()
		if !account.HasLiveReset(now) || !VerifyTokenHash(event.Token, account.ResetTokenHash) {
			return ErrInvalidOrExpiredToken
		}

		return h.deps.StateMachine.Transition(ctx, ActorOf(account), account, StateActive,
			func(ctx context.Context, a *Account) error {
				a.ChangePassword(passwordHash, now)
				if !a.Active {
					a.Activate(now)
				}
				_, err := h.deps.Repo.Accounts().SaveTx(ctx, tx, a)
				return err
			},
			WithTransitionReason("password reset"),
		)
	})
	if err != nil {
		return normalizeCommandError(err, "failed to finalize password reset")
	}

	h.deps.notify(ctx, account, Message{Template: TemplatePasswordChanged})

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	return nil
}

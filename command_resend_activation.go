package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

// ResendActivationMessage issues a new activation token for a pending
// account. Callers always get the same outcome whether the email exists
// or not.
type ResendActivationMessage struct {
	Email string `json:"email"`
	// OnToken receives the clear token when one was issued. Tests use it.
	OnToken func(token string) `json:"-"`
}

func (e ResendActivationMessage) Type() string { return "account.activation.resend" }

func (e ResendActivationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

type ResendActivationHandler struct {
	deps Dependencies
}

func NewResendActivationHandler(deps Dependencies) *ResendActivationHandler {
	return &ResendActivationHandler{deps: deps.normalize()}
}

func (h *ResendActivationHandler) Execute(ctx context.Context, event ResendActivationMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "activation resend")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendActivationHandler) execute(ctx context.Context, event ResendActivationMessage) error {
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

		if found.Active {
			return nil
		}

		now := h.deps.Clock()
		found.SetActivation(tokenHash, now.Add(ActivationTokenTTL)).Touch(now)
		if _, err := h.deps.Repo.Accounts().SaveTx(ctx, tx, found); err != nil {
			return err
		}

		account = found
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "activation resend failed")
	}

	if account == nil {
		h.deps.Logger.Debug("activation resend skipped, no pending account for %s", event.Email)
		return nil
	}

	h.deps.notify(ctx, account, Message{
		Template: TemplateActivation,
		Variables: map[string]any{
			"link":       h.deps.link("/api/v1/auth/activate", token),
			"token":      token,
			"expires_in": humanDuration(ActivationTokenTTL),
		},
	})

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventActivationResent,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	if event.OnToken != nil {
		event.OnToken(token)
	}

	return nil
}

package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AdminPasswordResetMessage sets a password on behalf of an account.
// When Password is empty a temporary one is generated.
type AdminPasswordResetMessage struct {
	Actor      *Account  `json:"-"`
	AccountID  uuid.UUID `json:"-"`
	Password   string    `json:"password"`
	OnResponse func(resp *AdminPasswordResetResponse) `json:"-"`
}

func (m AdminPasswordResetMessage) Type() string { return "admin.password.reset" }

func (m AdminPasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Password, validation.Length(MinPasswordLength, MaxPasswordLength)),
	)
}

// AdminPasswordResetResponse carries the password that was set, so the
// administrator can hand it over when email is not an option.
type AdminPasswordResetResponse struct {
	Account           *Account
	TemporaryPassword string
	Generated         bool
}

type AdminPasswordResetHandler struct {
	deps Dependencies
}

func NewAdminPasswordResetHandler(deps Dependencies) *AdminPasswordResetHandler {
	return &AdminPasswordResetHandler{deps: deps.normalize()}
}

func (h *AdminPasswordResetHandler) Execute(ctx context.Context, event AdminPasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "admin password reset")
	default:
		return h.execute(ctx, event)
	}
}

func (h *AdminPasswordResetHandler) execute(ctx context.Context, event AdminPasswordResetMessage) error {
	if err := CanManage(event.Actor, nil); err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return asValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	password := event.Password
	generated := false
	if password == "" {
		var err error
		if password, err = GenerateTemporaryPassword(); err != nil {
			return err
		}
		generated = true
	}

	passwordHash, err := hashPassword(h.deps.Hasher, password)
	if err != nil {
		return err
	}

	var account *Account
	err = h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.deps.Repo.Accounts().FindByIDTx(ctx, tx, event.AccountID)
		if err != nil {
			return err
		}

		if err := CanManage(event.Actor, account); err != nil {
			return err
		}

		now := h.deps.Clock()
		return h.deps.StateMachine.Transition(ctx, AdminActorOf(event.Actor), account, AccountState(account, now),
			func(ctx context.Context, a *Account) error {
				a.ChangePassword(passwordHash, now)
				_, err := h.deps.Repo.Accounts().SaveTx(ctx, tx, a)
				return err
			},
			WithTransitionReason("admin password reset"),
		)
	})
	if err != nil {
		return normalizeCommandError(err, "admin password reset failed")
	}

	h.deps.notify(ctx, account, Message{
		Template: TemplateAdminPasswordReset,
		Variables: map[string]any{
			"password": password,
		},
	})

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventAdminPasswordReset,
		Actor:     AdminActorOf(event.Actor),
		AccountID: account.ID.String(),
		Metadata: map[string]any{
			"generated": generated,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(&AdminPasswordResetResponse{
			Account:           account,
			TemporaryPassword: password,
			Generated:         generated,
		})
	}

	return nil
}

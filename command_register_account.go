package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/uptrace/bun"
)

// RegisterAccountMessage creates a pending account
type RegisterAccountMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	OnResponse func(resp *RegisterAccountResponse) `json:"-"`
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// Validate will validate the message
func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, usernameRules(validation.Required)...),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, passwordRules()...),
	)
}

// RegisterAccountResponse carries the created account. ActivationToken is
// the clear secret that was emailed; it is never stored.
type RegisterAccountResponse struct {
	Account         *Account
	ActivationToken string
}

type RegisterAccountHandler struct {
	deps Dependencies
}

func NewRegisterAccountHandler(deps Dependencies) *RegisterAccountHandler {
	return &RegisterAccountHandler{deps: deps.normalize()}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "account registration")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return asValidationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	hash, err := hashPassword(h.deps.Hasher, event.Password)
	if err != nil {
		return err
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		return err
	}

	now := h.deps.Clock()
	account := NewAccount(event.Username, event.Email, hash, RoleUser, now).
		SetActivation(tokenHash, now.Add(ActivationTokenTTL))

	err = h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.deps.Repo.Accounts().CreateTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return normalizeCommandError(err, "account registration transaction failed")
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
		EventType: ActivityEventRegistered,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
		ToState:   StatePending,
	})

	if event.OnResponse != nil {
		event.OnResponse(&RegisterAccountResponse{
			Account:         account,
			ActivationToken: token,
		})
	}

	return nil
}

package accounts

import (
	"context"

	"github.com/uptrace/bun"
)

// ActivateAccountMessage consumes an activation token
type ActivateAccountMessage struct {
	Token      string
	OnResponse func(resp *ActivateAccountResponse)
}

func (e ActivateAccountMessage) Type() string { return "account.activate" }

// ActivateAccountResponse holds the session minted for the freshly
// activated account.
type ActivateAccountResponse struct {
	Account *Account
	Session *Session
}

type ActivateAccountHandler struct {
	deps Dependencies
}

func NewActivateAccountHandler(deps Dependencies) *ActivateAccountHandler {
	return &ActivateAccountHandler{deps: deps.normalize()}
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return commandCancelled(ctx, "account activation")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
	if event.Token == "" {
		return ErrInvalidOrExpiredToken
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var account *Account
	err := h.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = h.deps.Repo.Accounts().FindByActivationTokenHashTx(ctx, tx, HashToken(event.Token))
		if err != nil {
			if IsNotFound(err) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}

		now := h.deps.Clock()
		if !account.HasLiveActivation(now) || !VerifyTokenHash(event.Token, account.ActivationTokenHash) {
			return ErrInvalidOrExpiredToken
		}

		return h.deps.StateMachine.Transition(ctx, ActorOf(account), account, StateActive,
			func(ctx context.Context, a *Account) error {
				a.Activate(now)
				_, err := h.deps.Repo.Accounts().SaveTx(ctx, tx, a)
				return err
			},
			WithTransitionReason("email verified"),
		)
	})
	if err != nil {
		return normalizeCommandError(err, "account activation failed")
	}

	h.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventActivated,
		Actor:     ActorOf(account),
		AccountID: account.ID.String(),
	})

	var session *Session
	if h.deps.Sessions != nil {
		if session, err = h.deps.Sessions.Issue(ctx, account); err != nil {
			return err
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(&ActivateAccountResponse{
			Account: account,
			Session: session,
		})
	}

	return nil
}

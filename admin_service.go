package accounts

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CreateAccountMessage is an administrative account creation
type CreateAccountMessage struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Active   *bool  `json:"active"`
}

func (m CreateAccountMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Username, usernameRules(validation.Required)...),
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&m.Password, passwordRules()...),
		validation.Field(&m.Role, roleRule()),
	)
}

func (m CreateAccountMessage) role() Role {
	if m.Role == "" {
		return RoleUser
	}
	return Role(m.Role)
}

// UpdateAccountMessage changes the fields that are set
type UpdateAccountMessage struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
}

func (m UpdateAccountMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Username, usernameRules(validation.NilOrNotEmpty)...),
		validation.Field(&m.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.Email),
		validation.Field(&m.Role, validation.NilOrNotEmpty, roleRule()),
	)
}

// AdminService implements the administrative account operations. Every
// call is checked against the caller's role.
type AdminService struct {
	deps  Dependencies
	reset *AdminPasswordResetHandler
}

func NewAdminService(deps Dependencies) *AdminService {
	deps = deps.normalize()
	return &AdminService{
		deps:  deps,
		reset: NewAdminPasswordResetHandler(deps),
	}
}

// List returns a page of accounts visible to actor
func (s *AdminService) List(ctx context.Context, actor *Account, filter ListFilter) ([]*Account, int, ListFilter, error) {
	if err := CanManage(actor, nil); err != nil {
		return nil, 0, filter, err
	}

	filter = ScopeListFilter(actor, filter).Normalize()
	records, total, err := s.deps.Repo.Accounts().Search(ctx, filter)
	return records, total, filter, err
}

func (s *AdminService) Get(ctx context.Context, actor *Account, id uuid.UUID) (*Account, error) {
	if err := CanManage(actor, nil); err != nil {
		return nil, err
	}

	account, err := s.deps.Repo.Accounts().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CanManage(actor, account); err != nil {
		return nil, err
	}

	return account, nil
}

// Create adds an account. Accounts created by an administrator are active
// and verified unless Active is false.
func (s *AdminService) Create(ctx context.Context, actor *Account, msg CreateAccountMessage) (*Account, error) {
	if err := CanManage(actor, nil); err != nil {
		return nil, err
	}

	if err := msg.Validate(); err != nil {
		return nil, asValidationError(err)
	}

	if err := CanAssignRole(actor, msg.role()); err != nil {
		return nil, err
	}

	return s.create(ctx, AdminActorOf(actor), msg)
}

// Bootstrap creates an account with no acting administrator. The command
// line uses it to provision the first superadmin.
func (s *AdminService) Bootstrap(ctx context.Context, msg CreateAccountMessage) (*Account, error) {
	if err := msg.Validate(); err != nil {
		return nil, asValidationError(err)
	}
	return s.create(ctx, SystemActor, msg)
}

func (s *AdminService) create(ctx context.Context, actor ActorRef, msg CreateAccountMessage) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	hash, err := hashPassword(s.deps.Hasher, msg.Password)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock()
	account := NewAccount(msg.Username, msg.Email, hash, msg.role(), now)
	if msg.Active == nil || *msg.Active {
		account.Activate(now)
	}

	err = s.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = s.deps.Repo.Accounts().CreateTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return nil, normalizeCommandError(err, "failed to create account")
	}

	s.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventAccountCreated,
		Actor:     actor,
		AccountID: account.ID.String(),
		ToState:   AccountState(account, now),
		Metadata: map[string]any{
			"role": string(account.Role),
		},
	})

	return account, nil
}

// Update applies the set fields of msg to the account id.
func (s *AdminService) Update(ctx context.Context, actor *Account, id uuid.UUID, msg UpdateAccountMessage) (*Account, error) {
	if err := CanManage(actor, nil); err != nil {
		return nil, err
	}

	if err := msg.Validate(); err != nil {
		return nil, asValidationError(err)
	}

	if msg.Role != nil {
		if err := CanAssignRole(actor, Role(*msg.Role)); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		account  *Account
		fromRole Role
	)

	err := s.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = s.deps.Repo.Accounts().FindByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := CanManage(actor, account); err != nil {
			return err
		}

		fromRole = account.Role
		now := s.deps.Clock()
		target := AccountState(account, now)
		if msg.Active != nil {
			switch {
			case *msg.Active && !account.Active:
				target = StateActive
			case !*msg.Active:
				target = StatePending
			}
		}

		return s.deps.StateMachine.Transition(ctx, AdminActorOf(actor), account, target,
			func(ctx context.Context, a *Account) error {
				if msg.Username != nil {
					a.Username = *msg.Username
				}
				if msg.Email != nil {
					a.Email = NormalizeEmail(*msg.Email)
				}
				if msg.Role != nil {
					a.Role = Role(*msg.Role)
				}
				if msg.Active != nil {
					if *msg.Active && !a.Active {
						a.Activate(now)
					} else if !*msg.Active {
						a.Active = false
					}
				}
				a.Touch(now)
				_, err := s.deps.Repo.Accounts().SaveTx(ctx, tx, a)
				return err
			},
			WithTransitionReason("admin update"),
		)
	})
	if err != nil {
		return nil, normalizeCommandError(err, "failed to update account")
	}

	s.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     AdminActorOf(actor),
		AccountID: account.ID.String(),
	})

	if fromRole != account.Role {
		s.deps.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventRoleChanged,
			Actor:     AdminActorOf(actor),
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"from": string(fromRole),
				"to":   string(account.Role),
			},
		})
	}

	return account, nil
}

// Delete removes the account id. Deleting oneself is never allowed.
func (s *AdminService) Delete(ctx context.Context, actor *Account, id uuid.UUID) error {
	if actor != nil && actor.ID == id {
		return ErrSelfDeletion
	}

	if err := CanManage(actor, nil); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := s.deps.Repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := s.deps.Repo.Accounts().FindByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := CanDelete(actor, account); err != nil {
			return err
		}

		return s.deps.StateMachine.Transition(ctx, AdminActorOf(actor), account, StateDeleted,
			func(ctx context.Context, a *Account) error {
				return s.deps.Repo.Accounts().RemoveTx(ctx, tx, a.ID)
			},
			WithTransitionReason("admin delete"),
		)
	})
	if err != nil {
		return normalizeCommandError(err, "failed to delete account")
	}

	s.deps.recorder().record(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     AdminActorOf(actor),
		AccountID: id.String(),
		ToState:   StateDeleted,
	})

	return nil
}

// ResetPassword runs an admin assisted reset and returns the password set.
func (s *AdminService) ResetPassword(ctx context.Context, actor *Account, id uuid.UUID, password string) (*AdminPasswordResetResponse, error) {
	var resp *AdminPasswordResetResponse
	err := s.reset.Execute(ctx, AdminPasswordResetMessage{
		Actor:     actor,
		AccountID: id,
		Password:  password,
		OnResponse: func(r *AdminPasswordResetResponse) {
			resp = r
		},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

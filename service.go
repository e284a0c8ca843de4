package accounts

// Service bundles the lifecycle commands, the authenticator, the session
// issuer and the admin operations over one set of dependencies.
type Service struct {
	Register         *RegisterAccountHandler
	Activate         *ActivateAccountHandler
	ResendActivation *ResendActivationHandler
	ForgotPassword   *InitializePasswordResetHandler
	ResetPassword    *FinalizePasswordResetHandler
	ChangePassword   *ChangePasswordHandler
	Auth             *Auther
	Sessions         SessionIssuer
	Admin            *AdminService

	deps Dependencies
}

// NewService wires every component. When deps.Sessions is nil a
// SessionManager is built from deps.Config.
func NewService(deps Dependencies) *Service {
	deps = deps.normalize()

	if deps.Sessions == nil && deps.Config != nil {
		tokens := NewTokenService(deps.Config, deps.Clock, deps.Logger)
		deps.Sessions = NewSessionManager(deps.Repo, tokens).
			WithClock(deps.Clock).
			WithLogger(deps.Logger).
			WithActivitySink(deps.Activity)
	}

	return &Service{
		Register:         NewRegisterAccountHandler(deps),
		Activate:         NewActivateAccountHandler(deps),
		ResendActivation: NewResendActivationHandler(deps),
		ForgotPassword:   NewInitializePasswordResetHandler(deps),
		ResetPassword:    NewFinalizePasswordResetHandler(deps),
		ChangePassword:   NewChangePasswordHandler(deps),
		Auth:             NewAuthenticator(deps),
		Sessions:         deps.Sessions,
		Admin:            NewAdminService(deps),
		deps:             deps,
	}
}

// Repo returns the repository manager the service runs on
func (s *Service) Repo() RepositoryManager {
	return s.deps.Repo
}

// Logger returns the service logger
func (s *Service) Logger() Logger {
	return s.deps.Logger
}

// Config returns the service configuration
func (s *Service) Config() Config {
	return s.deps.Config
}

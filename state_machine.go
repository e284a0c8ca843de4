package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// State is the derived lifecycle state of an account. It is never stored,
// it is computed from the account flags and slots at a given instant.
type State string

const (
	StatePending              State = "pending"
	StateActive               State = "active"
	StateLocked               State = "locked"
	StatePasswordResetPending State = "password_reset_pending"
	StateDeleted              State = "deleted"
)

// AccountState derives the state of a at now. A lock outranks every other
// state, an inactive account is pending even with a reset outstanding.
func AccountState(a *Account, now time.Time) State {
	switch {
	case a == nil:
		return StateDeleted
	case a.IsLocked(now):
		return StateLocked
	case !a.Active:
		return StatePending
	case a.HasLiveReset(now):
		return StatePasswordResetPending
	default:
		return StateActive
	}
}

// transitions is the lifecycle graph. A pending account has not proven
// email ownership, so it can only be activated, locked by failed logins or
// removed. Password recovery starts from an active or locked account.
var transitions = map[State]map[State]struct{}{
	StatePending: {
		StateActive:  {},
		StateLocked:  {},
		StateDeleted: {},
	},
	StateActive: {
		StatePending:              {},
		StateLocked:               {},
		StatePasswordResetPending: {},
		StateDeleted:              {},
	},
	StateLocked: {
		StateActive:               {},
		StatePending:              {},
		StatePasswordResetPending: {},
		StateDeleted:              {},
	},
	StatePasswordResetPending: {
		StateActive:  {},
		StatePending: {},
		StateLocked:  {},
		StateDeleted: {},
	},
}

// CanTransition reports whether the lifecycle graph allows from -> to.
// Staying in the same state is always allowed except for deleted.
func CanTransition(from, to State) bool {
	if from == StateDeleted {
		return false
	}
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, exists := allowed[to]
	return exists
}

func newInvalidTransitionError(from, to State) *goerrors.Error {
	return ErrInvalidTransition.Clone().
		WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(to),
		})
}

// IsInvalidTransition reports a transition rejected by the lifecycle graph.
func IsInvalidTransition(err error) bool {
	return HasTextCode(err, TextCodeInvalidTransition)
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata TransitionMetadata
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition event.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// Mutation applies a change to the account and persists it.
type Mutation func(ctx context.Context, account *Account) error

// StateMachine guards account mutations with the lifecycle graph.
type StateMachine interface {
	// Transition checks that moving account to target is allowed, runs
	// apply and publishes the change of the derived state, if any.
	Transition(ctx context.Context, actor ActorRef, account *Account, target State, apply Mutation, opts ...TransitionOption) error
	CurrentState(account *Account) State
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*stateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock Clock) StateMachineOption {
	return func(sm *stateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *stateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *stateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

type stateMachine struct {
	now          Clock
	activitySink ActivitySink
	logger       Logger
}

// NewStateMachine returns the default lifecycle guard
func NewStateMachine(opts ...StateMachineOption) StateMachine {
	sm := &stateMachine{
		now:          normalizeClock(nil),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *stateMachine) CurrentState(account *Account) State {
	return AccountState(account, sm.now())
}

func (sm *stateMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target State, apply Mutation, opts ...TransitionOption) error {
	if account == nil {
		return newInvalidTransitionError(StateDeleted, target)
	}

	from := AccountState(account, sm.now())
	if !CanTransition(from, target) {
		return newInvalidTransitionError(from, target)
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if apply != nil {
		if err := apply(ctx, account); err != nil {
			return err
		}
	}

	to := target
	if target != StateDeleted {
		to = AccountState(account, sm.now())
	}

	if from == to {
		return nil
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventStateChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromState: from,
		ToState:   to,
		Metadata:  transitionMetadata(options.metadata),
	})

	return nil
}

func (sm *stateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	newActivityRecorder(sm.activitySink, sm.logger, sm.now).record(ctx, event)
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

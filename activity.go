package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged             ActivityEventType = "account.state.changed"
	ActivityEventRegistered               ActivityEventType = "account.registered"
	ActivityEventActivated                ActivityEventType = "account.activated"
	ActivityEventActivationResent         ActivityEventType = "account.activation.resent"
	ActivityEventLoginSuccess             ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure             ActivityEventType = "auth.login.failure"
	ActivityEventLocked                   ActivityEventType = "auth.login.locked"
	ActivityEventOTPIssued                ActivityEventType = "auth.otp.issued"
	ActivityEventOTPVerified              ActivityEventType = "auth.otp.verified"
	ActivityEventOTPFailure               ActivityEventType = "auth.otp.failure"
	ActivityEventTokenRefreshed           ActivityEventType = "auth.token.refreshed"
	ActivityEventLogout                   ActivityEventType = "auth.logout"
	ActivityEventPasswordResetRequested   ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess     ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged          ActivityEventType = "auth.password.changed"
	ActivityEventAdminPasswordReset       ActivityEventType = "admin.password.reset"
	ActivityEventAccountCreated           ActivityEventType = "admin.account.created"
	ActivityEventAccountUpdated           ActivityEventType = "admin.account.updated"
	ActivityEventRoleChanged              ActivityEventType = "admin.account.role_changed"
	ActivityEventAccountDeleted           ActivityEventType = "admin.account.deleted"
	ActivityEventNotificationDeliveryFail ActivityEventType = "notification.delivery.failed"
)

// ActorRef identifies who or what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// Actor types
const (
	ActorTypeSystem  = "system"
	ActorTypeAccount = "account"
	ActorTypeAdmin   = "admin"
)

// SystemActor is used when no account triggered the change.
var SystemActor = ActorRef{Type: ActorTypeSystem}

// ActorOf returns the actor reference of an account acting on its own behalf.
func ActorOf(a *Account) ActorRef {
	if a == nil {
		return SystemActor
	}
	return ActorRef{ID: a.ID.String(), Type: ActorTypeAccount}
}

// AdminActorOf returns the actor reference of an administrator.
func AdminActorOf(a *Account) ActorRef {
	if a == nil {
		return SystemActor
	}
	return ActorRef{ID: a.ID.String(), Type: ActorTypeAdmin}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  State
	ToState    State
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink. All sinks are
// called and the first error is returned.
type MultiActivitySink []ActivitySink

func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// activityRecorder emits events best effort; sink failures are logged.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    Clock
}

func newActivityRecorder(sink ActivitySink, logger Logger, clock Clock) activityRecorder {
	return activityRecorder{
		sink:   normalizeActivitySink(sink),
		logger: normalizeLogger(logger),
		now:    normalizeClock(clock),
	}
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

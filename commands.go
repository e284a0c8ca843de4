package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// commandTimeout bounds every lifecycle command, email sends included.
const commandTimeout = 10 * time.Second

// Dependencies are the collaborators shared by the lifecycle commands.
type Dependencies struct {
	Repo         RepositoryManager
	Hasher       PasswordHasher
	Mailer       Mailer
	Sessions     SessionIssuer
	Config       Config
	Clock        Clock
	Logger       Logger
	Activity     ActivitySink
	StateMachine StateMachine
}

func (d Dependencies) normalize() Dependencies {
	d.Clock = normalizeClock(d.Clock)
	d.Logger = normalizeLogger(d.Logger)
	d.Activity = normalizeActivitySink(d.Activity)

	if d.Hasher == nil {
		d.Hasher = NewBcryptHasher(DefaultPasswordCost)
	}

	if d.Mailer == nil {
		d.Mailer = NewLogMailer(d.Logger, d.Clock)
	}

	if d.StateMachine == nil {
		d.StateMachine = NewStateMachine(
			WithStateMachineClock(d.Clock),
			WithStateMachineLogger(d.Logger),
			WithStateMachineActivitySink(d.Activity),
		)
	}

	return d
}

func (d Dependencies) recorder() activityRecorder {
	return newActivityRecorder(d.Activity, d.Logger, d.Clock)
}

func (d Dependencies) baseURL() string {
	if d.Config == nil {
		return ""
	}
	return strings.TrimRight(d.Config.GetBaseURL(), "/")
}

// link builds an absolute URL for an emailed secret
func (d Dependencies) link(path, token string) string {
	return fmt.Sprintf("%s%s/%s", d.baseURL(), path, token)
}

// notify sends a message and logs, but does not return, delivery failures.
func (d Dependencies) notify(ctx context.Context, account *Account, msg Message) {
	if _, err := d.send(ctx, account, msg); err != nil {
		d.Logger.Warn("failed to deliver %s email to account %s: %v", msg.Template, account.ID, err)
		d.recorder().record(ctx, ActivityEvent{
			EventType: ActivityEventNotificationDeliveryFail,
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"template": msg.Template,
				"error":    err.Error(),
			},
		})
	}
}

func (d Dependencies) send(ctx context.Context, account *Account, msg Message) (Receipt, error) {
	msg.To = account.Email
	if msg.Variables == nil {
		msg.Variables = map[string]any{}
	}
	if _, ok := msg.Variables["username"]; !ok {
		msg.Variables["username"] = account.Username
	}
	return d.Mailer.Send(ctx, msg)
}

func commandCancelled(ctx context.Context, operation string) error {
	return goerrors.Wrap(
		ctx.Err(),
		goerrors.CategoryOperation,
		fmt.Sprintf("context cancelled during %s", operation),
	)
}

// normalizeCommandError keeps rich errors as they are and wraps the rest
// as internal failures.
func normalizeCommandError(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message)
}

func hashPassword(hasher PasswordHasher, password string) (string, error) {
	hash, err := hasher.HashPassword(password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return "", richErr
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return hash, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

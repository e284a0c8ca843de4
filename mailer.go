package accounts

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	goerrors "github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

// Notification templates
const (
	TemplateActivation         = "activation"
	TemplatePasswordReset      = "password_reset"
	TemplatePasswordChanged    = "password_changed"
	TemplateOTP                = "otp"
	TemplateAdminPasswordReset = "admin_password_reset"
)

var notificationSubjects = map[string]string{
	TemplateActivation:         "Activate your account",
	TemplatePasswordReset:      "Reset your password",
	TemplatePasswordChanged:    "Your password was changed",
	TemplateOTP:                "Your login code",
	TemplateAdminPasswordReset: "Your password was reset by an administrator",
}

var notificationBodies = template.Must(template.New("notifications").Parse(`
{{define "activation"}}Hello {{.username}},

Activate your account by opening the link below. It expires in {{.expires_in}}.

{{.link}}
{{end}}
{{define "password_reset"}}Hello {{.username}},

A password reset was requested for your account. Open the link below to
choose a new password. It expires in {{.expires_in}}.

{{.link}}

If you did not request this you can ignore this email.
{{end}}
{{define "password_changed"}}Hello {{.username}},

The password of your account was changed. If this was not you, contact support.
{{end}}
{{define "otp"}}Hello {{.username}},

Your login code is {{.code}}. It expires in {{.expires_in}}.
{{end}}
{{define "admin_password_reset"}}Hello {{.username}},

An administrator reset your password. Your temporary password is:

{{.password}}

Change it after you log in.
{{end}}
`))

// RenderMessage returns the subject and the plain text body of msg. Unknown
// templates fall back to a listing of the variables.
func RenderMessage(msg Message) (subject, body string, err error) {
	subject = msg.Subject
	if subject == "" {
		subject = notificationSubjects[msg.Template]
	}

	if notificationBodies.Lookup(msg.Template) == nil {
		return subject, renderVariables(msg.Variables), nil
	}

	buf := &bytes.Buffer{}
	if err := notificationBodies.ExecuteTemplate(buf, msg.Template, msg.Variables); err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render notification").
			WithMetadata(map[string]any{"template": msg.Template})
	}

	return subject, strings.TrimSpace(buf.String()) + "\n", nil
}

func renderVariables(vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, vars[k])
	}
	return b.String()
}

// LogMailer writes notifications to the logger instead of delivering them.
// It is meant for development and tests. Bodies carry one-time secrets, so
// only the envelope is logged.
type LogMailer struct {
	logger Logger
	now    Clock
}

// NewLogMailer returns a mailer that logs every message
func NewLogMailer(logger Logger, clock Clock) *LogMailer {
	return &LogMailer{
		logger: normalizeLogger(logger),
		now:    normalizeClock(clock),
	}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	default:
	}

	subject, _, err := RenderMessage(msg)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		ID:     ulid.Make().String(),
		SentAt: m.now(),
	}

	m.logger.Info("mail %s to=%s template=%s subject=%q", receipt.ID, msg.To, msg.Template, subject)

	return receipt, nil
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) (Receipt, error)

func (f MailerFunc) Send(ctx context.Context, msg Message) (Receipt, error) {
	return f(ctx, msg)
}

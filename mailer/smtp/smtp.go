// Package smtp delivers account notifications over SMTP.
package smtp

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
	"github.com/wneessen/go-mail"

	accounts "github.com/goliatone/go-accounts"
)

// Config holds the SMTP connection settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS requires STARTTLS when true, otherwise it is opportunistic
	TLS     bool
	Timeout time.Duration
}

// Sender is the part of *mail.Client the mailer needs
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer implements accounts.Mailer
type Mailer struct {
	from   string
	sender Sender
	now    accounts.Clock
}

var _ accounts.Mailer = (*Mailer)(nil)

// New builds a go-mail client from cfg.
func New(cfg Config) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, goerrors.New("smtp host is required", goerrors.CategoryValidation)
	}
	if cfg.From == "" {
		return nil, goerrors.New("smtp from address is required", goerrors.CategoryValidation)
	}

	opts := []mail.Option{}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	// the port goes after the TLS policy, which sets a default one
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create smtp client")
	}

	return NewWithSender(cfg.From, client), nil
}

// NewWithSender uses a prebuilt sender
func NewWithSender(from string, sender Sender) *Mailer {
	return &Mailer{
		from:   from,
		sender: sender,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send renders msg and delivers it in a single SMTP session.
func (m *Mailer) Send(ctx context.Context, msg accounts.Message) (accounts.Receipt, error) {
	subject, body, err := accounts.RenderMessage(msg)
	if err != nil {
		return accounts.Receipt{}, err
	}

	out := mail.NewMsg()
	if err := out.From(m.from); err != nil {
		return accounts.Receipt{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid from address")
	}
	if err := out.To(msg.To); err != nil {
		return accounts.Receipt{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid recipient address")
	}

	id := ulid.Make().String()
	out.SetMessageIDWithValue(id)
	out.Subject(subject)
	out.SetDate()
	out.SetBodyString(mail.TypeTextPlain, body)

	if err := m.sender.DialAndSendWithContext(ctx, out); err != nil {
		return accounts.Receipt{}, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver email").
			WithMetadata(map[string]any{"template": msg.Template})
	}

	return accounts.Receipt{ID: id, SentAt: m.now()}, nil
}

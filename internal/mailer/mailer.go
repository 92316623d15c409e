package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is one outgoing email. HTML takes precedence over Text; when both
// are set Text is sent as the plain alternative.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends email
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP connection settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer delivers mail through an SMTP relay. Each Send dials, delivers
// and hangs up within the caller's context and the configured timeout.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *zap.Logger
	send   func(ctx context.Context, msgs ...*mail.Msg) error
}

// New returns an SMTP mailer, or a LogMailer when no host is configured.
func New(cfg SMTPConfig, logger *zap.Logger) (Mailer, error) {
	if cfg.Host == "" {
		logger.Warn("SMTP host not configured, emails will only be logged")
		return NewLogMailer(logger), nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
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
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &SMTPMailer{cfg: cfg, logger: logger, send: client.DialAndSendWithContext}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	mm, err := msg.build(m.cfg.From)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.send(ctx, mm); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	m.logger.Info("Email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func (msg Message) validate() error {
	if msg.To == "" {
		return fmt.Errorf("email recipient cannot be empty")
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("email headers cannot contain line breaks")
	}
	if msg.Subject == "" {
		return fmt.Errorf("email subject cannot be empty")
	}
	return nil
}

// build turns msg into a MIME message. Non-ASCII headers are Q-encoded.
func (msg Message) build(from string) (*mail.Msg, error) {
	mm := mail.NewMsg()
	if err := mm.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := mm.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	mm.Subject(msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		mm.SetBodyString(mail.TypeTextPlain, msg.Text)
		mm.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		mm.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		mm.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return mm, nil
}

// LogMailer only logs messages. Used in development and when SMTP is not configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	m.logger.Info("Email (not sent)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

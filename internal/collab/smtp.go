package collab

import (
	"context"
	"errors"
	"strings"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds connection parameters for the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	TLS      bool
}

// SMTPMailer sends campaign mail over SMTP using dial-per-send; the
// traffic pattern is bursty enough that a persistent connection is not
// worth keeping. The idempotency key is stamped into a header so the
// downstream provider can deduplicate redelivery attempts.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (s *SMTPMailer) Send(ctx context.Context, address, subject, body, idempotencyKey string) (string, error) {
	// Strip CR/LF from the subject to prevent header injection.
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return "", InvalidInput("sender address %q: %v", s.cfg.From, err)
	}
	if err := m.To(address); err != nil {
		return "", InvalidInput("recipient address %q: %v", address, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	m.SetGenHeader(mail.Header("X-Idempotency-Key"), idempotencyKey)
	m.SetMessageID()

	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password))
	}
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", Unavailable("smtp client: %v", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", Timeout("smtp send to %s: %v", address, err)
		}
		return "", Unavailable("smtp send to %s: %v", address, err)
	}
	return m.GetMessageID(), nil
}

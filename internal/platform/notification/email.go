package notification

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/wneessen/go-mail"
)

var ErrInvalidEmail = errors.New("invalid email address")

// CheckEmail accepts a bare address only, without a display name.
func CheckEmail(addr string) error {
	a, err := netmail.ParseAddress(addr)
	if err != nil || a.Address != addr {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, addr)
	}
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends plain text email with PLAIN auth when credentials are set.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(ctx context.Context, m *mail.Msg) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.message(to, subject, body)
	if err != nil {
		return err
	}
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) message(to, subject, body string) (*mail.Msg, error) {
	if err := CheckEmail(to); err != nil {
		return nil, err
	}
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("email from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("email to: %w", err)
	}
	m.Subject(strings.NewReplacer("\r", "", "\n", "").Replace(subject))
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (s *SMTPSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, m)
}

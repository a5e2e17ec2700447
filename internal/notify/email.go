package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/model"
)

// EmailSender delivers over SMTP. The send is synchronous; transport errors
// come back to the dispatcher as failures.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *EmailSender) Channel() model.DeliveryMethod { return model.DeliveryMethodEmail }

func (s *EmailSender) Send(ctx context.Context, recipient, subject, content string) error {
	if recipient == "" {
		return fmt.Errorf("email address is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

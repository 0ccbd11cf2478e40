package alert

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/couchcryptid/fencewatch/internal/config"
	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"
	"github.com/nikoksr/notify/service/sendgrid"
)

const senderName = "fencewatch"

// EmailSender delivers alert emails through SendGrid or SMTP.
type EmailSender struct {
	provider     string
	sendGridKey  string
	senderEmail  string
	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
}

// NewEmailSender validates the provider settings in cfg.
func NewEmailSender(cfg *config.Config) (*EmailSender, error) {
	s := &EmailSender{
		provider:     cfg.EmailProvider,
		sendGridKey:  cfg.SendGridAPIKey,
		senderEmail:  cfg.SenderEmail,
		smtpHost:     cfg.SMTPHost,
		smtpPort:     cfg.SMTPPort,
		smtpUser:     cfg.SMTPUser,
		smtpPassword: cfg.SMTPPassword,
	}
	switch s.provider {
	case config.EmailProviderSendGrid:
		if s.sendGridKey == "" || s.senderEmail == "" {
			return nil, errors.New("SENDGRID_API_KEY and SENDER_EMAIL are required for the sendgrid provider")
		}
	case config.EmailProviderSMTP:
		if s.smtpUser == "" {
			return nil, errors.New("SMTP_USER is required for the smtp provider")
		}
		if s.senderEmail == "" {
			s.senderEmail = s.smtpUser
		}
	default:
		return nil, fmt.Errorf("unknown email provider %q", s.provider)
	}
	return s, nil
}

// Send delivers one email. A fresh notify service is built per call because
// receivers added to a service accumulate across sends.
func (s *EmailSender) Send(ctx context.Context, email Email) error {
	if len(email.Recipients) == 0 {
		return errors.New("email has no recipients")
	}

	n := notify.New()
	switch s.provider {
	case config.EmailProviderSendGrid:
		svc := sendgrid.New(s.sendGridKey, s.senderEmail, senderName)
		svc.AddReceivers(email.Recipients...)
		n.UseServices(svc)
	default:
		svc := mail.New(s.senderEmail, net.JoinHostPort(s.smtpHost, strconv.Itoa(s.smtpPort)))
		svc.AuthenticateSMTP("", s.smtpUser, s.smtpPassword, s.smtpHost)
		svc.AddReceivers(email.Recipients...)
		n.UseServices(svc)
	}

	if err := n.Send(ctx, email.Subject, email.Body); err != nil {
		return fmt.Errorf("send alert email via %s: %w", s.provider, err)
	}
	return nil
}

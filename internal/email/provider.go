// Package email sends plain text transactional mail through a configured provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrEmptyMessage = errors.New("email recipient, subject and body are required")

type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

type Message struct {
	To      string
	Subject string
	Text    string
}

func (m *Message) validate() error {
	if m == nil || m.To == "" || m.Subject == "" || m.Text == "" {
		return ErrEmptyMessage
	}
	return nil
}

type Config struct {
	Provider     string
	From         string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	ResendAPIKey string
}

func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "none", "":
		return NewLogProvider(logger), nil
	case "smtp":
		return NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.From), nil
	case "resend":
		return NewResendProvider(cfg.ResendAPIKey, cfg.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of 'none', 'smtp' or 'resend'")
	}
}

// Package mailer sends account-lifecycle emails over SMTP. The account
// service only sees the services.Mailer interface, so tests run without a
// mail transport.
package mailer

import (
	"context"
	"fmt"

	"github.com/skydrive/backend/internal/config"
	"github.com/wneessen/go-mail"
)

type SMTPMailer struct {
	client      *mail.Client
	from        string
	frontendURL string
}

func NewSMTPMailer(cfg config.SMTPConfig, frontendURL string) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
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
		return nil, err
	}

	return &SMTPMailer{
		client:      client,
		from:        cfg.From,
		frontendURL: frontendURL,
	}, nil
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, email, token string) error {
	verifyURL := fmt.Sprintf("%s/verify-email/%s", m.frontendURL, token)
	body := fmt.Sprintf(`<h2>Welcome to SkyDrive!</h2>
<p>Please verify your email address by clicking the link below:</p>
<p><a href="%s">Verify Email</a></p>
<p>Or copy and paste this link in your browser: %s</p>
<p>This link expires in 24 hours.</p>`, verifyURL, verifyURL)

	return m.send(ctx, email, "Verify your SkyDrive account", body)
}

func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	resetURL := fmt.Sprintf("%s/reset-password/%s", m.frontendURL, token)
	body := fmt.Sprintf(`<h2>Password Reset Request</h2>
<p>Click the link below to reset your password:</p>
<p><a href="%s">Reset Password</a></p>
<p>Or copy and paste this link in your browser: %s</p>
<p>This link expires in 1 hour.</p>
<p>If you didn't request a password reset, please ignore this email.</p>`, resetURL, resetURL)

	return m.send(ctx, email, "Reset your SkyDrive password", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	return m.client.DialAndSendWithContext(ctx, msg)
}

// Package email sends transactional mail for the automation engine.
package email

import (
	"context"

	"crm_suite_backend/platform/config"
)

// Sender delivers the automation engine's transactional emails.
type Sender interface {
	SendActivityAssignedEmail(ctx context.Context, toEmail, assigneeName, leadName, activitySubject string) error
	SendSlaViolationEmail(ctx context.Context, toEmail string, leadCount, thresholdDays int) error
}

// NoopSender satisfies Sender without delivering anything. Used when email
// is disabled.
type NoopSender struct{}

func (NoopSender) SendActivityAssignedEmail(context.Context, string, string, string, string) error {
	return nil
}

func (NoopSender) SendSlaViolationEmail(context.Context, string, int, int) error {
	return nil
}

// NewSender builds the configured Sender: SMTP when enabled, noop otherwise.
func NewSender(cfg config.EmailConfig) Sender {
	if !cfg.GetEmailEnabled() || cfg.GetSMTPHost() == "" {
		return NoopSender{}
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	)
}

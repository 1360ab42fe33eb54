package email

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements Sender over a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) SendActivityAssignedEmail(ctx context.Context, toEmail, assigneeName, leadName, activitySubject string) error {
	content, err := renderEmailTemplate(activityAssignedTemplate, activityAssignedEmailData{
		baseEmailData: baseEmailData{
			Title:   "New activity assigned",
			Heading: "You have a new activity",
		},
		AssigneeName:    assigneeName,
		LeadName:        leadName,
		ActivitySubject: activitySubject,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, subjectActivityAssigned, content)
}

func (s *SMTPSender) SendSlaViolationEmail(ctx context.Context, toEmail string, leadCount, thresholdDays int) error {
	content, err := renderEmailTemplate(slaViolationTemplate, slaViolationEmailData{
		baseEmailData: baseEmailData{
			Title:   "Leads need attention",
			Heading: "Leads need attention",
		},
		LeadCount:     leadCount,
		ThresholdDays: thresholdDays,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectSlaViolationFmt, leadCount), content)
}

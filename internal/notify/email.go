// Package notify fans the "started queueing" summary out to channels other
// than the tracking issue itself.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Notifier interface {
	NotifyNewQueues(ctx context.Context, issue alert.TrackingIssue, comment string, dryRun bool) error
}

type Nop struct{}

func (Nop) NotifyNewQueues(context.Context, alert.TrackingIssue, string, bool) error {
	return nil
}

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          string
}

type EmailNotifier struct {
	client  sender
	from    *mail.Email
	to      *mail.Email
	subject string
	logger  *zap.Logger
}

func NewEmailNotifier(cfg EmailConfig, subject string, logger *zap.Logger) (*EmailNotifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing email API key")
	}
	if cfg.To == "" || cfg.FromAddress == "" {
		return nil, errors.New("missing email sender or recipient")
	}

	return &EmailNotifier{
		client:  sendgrid.NewSendClient(cfg.APIKey),
		from:    mail.NewEmail(cfg.FromName, cfg.FromAddress),
		to:      mail.NewEmail("", cfg.To),
		subject: subject,
		logger:  logger,
	}, nil
}

func (n *EmailNotifier) NotifyNewQueues(ctx context.Context, issue alert.TrackingIssue, comment string, dryRun bool) error {
	subject := n.subject
	if issue.Number > 0 {
		subject = fmt.Sprintf("%s (#%d)", n.subject, issue.Number)
	}

	if dryRun {
		n.logger.Info("NOTE: Dry run, not sending email",
			zap.String("to", n.to.Address),
			zap.String("subject", subject),
		)
		return nil
	}

	email := mail.NewSingleEmail(n.from, subject, n.to, comment, "<pre>"+html.EscapeString(comment)+"</pre>")
	response, err := n.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.logger.Info("email sent", zap.String("to", n.to.Address), zap.Int("status", response.StatusCode))
	return nil
}

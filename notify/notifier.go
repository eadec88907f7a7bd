// Package notify delivers failure notifications for jobs.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/etlpulse/am"
	"github.com/teranos/etlpulse/errors"
	"github.com/teranos/etlpulse/logger"
)

// Notifier sends a message to an integration
type Notifier interface {
	Send(ctx context.Context, integrationID int64, subject, body string) error
}

// NewNotifier picks the notifier for cfg: SMTP when a host is set,
// otherwise the log notifier.
func NewNotifier(cfg am.NotifyConfig, integrations *IntegrationStore, log *zap.SugaredLogger) Notifier {
	if cfg.SMTP.Host != "" {
		return NewSMTPNotifier(cfg.SMTP, integrations)
	}
	return NewLogNotifier(log)
}

// LogNotifier writes notifications to the log instead of delivering them
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: log.Named("notify")}
}

// Send implements Notifier
func (n *LogNotifier) Send(_ context.Context, integrationID int64, subject, body string) error {
	n.logger.Infow("Notification",
		logger.FieldIntegration, integrationID,
		logger.FieldSubject, subject,
		"body", body)
	return nil
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails the recipient of an integration
type SMTPNotifier struct {
	cfg          am.SMTPConfig
	integrations *IntegrationStore
	sendMail     sendMailFunc
}

// NewSMTPNotifier creates an email notifier
func NewSMTPNotifier(cfg am.SMTPConfig, integrations *IntegrationStore) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, integrations: integrations, sendMail: smtp.SendMail}
}

// Send implements Notifier
func (n *SMTPNotifier) Send(ctx context.Context, integrationID int64, subject, body string) error {
	in, err := n.integrations.Get(ctx, integrationID)
	if err != nil {
		return err
	}
	if in.Type != TypeEmail {
		return errors.NewInvalidRequestError("integration %d has type %s, not %s", in.ID, in.Type, TypeEmail)
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.sendMail(addr, auth, n.cfg.From, []string{in.Recipient}, buildMessage(n.cfg.From, in.Recipient, subject, body)); err != nil {
		err = errors.Wrap(err, "failed to send email")
		return errors.WithDetail(err, fmt.Sprintf("SMTP server: %s", addr))
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.ReplaceAll(subject, "\n", " "))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

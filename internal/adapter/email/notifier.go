// Package email provides an SMTP-based notifier for consultation alerts.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/validata/consultd/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

// Notifier sends consultation alerts via SMTP.
type Notifier struct {
	cfg SMTPConfig
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) Name() string { return providerName }

// Send delivers the notification to the configured recipient list.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := fmt.Sprintf("[consultd] %s", notification.Title)

	var body strings.Builder
	body.WriteString("<p>" + notification.Message + "</p>")
	if notification.ConsultationID != "" {
		body.WriteString("<p>Consultation: " + notification.ConsultationID + "</p>")
	}
	if len(notification.Contacts) > 0 {
		body.WriteString("<p>Escalation contacts: " + strings.Join(notification.Contacts, ", ") + "</p>")
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, body.String())

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, []byte(msg))
}

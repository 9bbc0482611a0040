// Package notify delivers one-time passcodes to users over email.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
)

// Notifier sends a message to a recipient address.
type Notifier interface {
	Send(to, subject, body string) error
}

// SMTPNotifier sends mail through a plain-auth SMTP relay.
type SMTPNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
}

// NewSMTP builds a notifier from the SMTP section of the configuration.
func NewSMTP(cfg config.SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	return &SMTPNotifier{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		fromName: cfg.FromName,
	}, nil
}

// Send delivers a plain-text message.
func (n *SMTPNotifier) Send(to, subject, body string) error {
	from := n.from
	if n.fromName != "" {
		from = fmt.Sprintf("%s <%s>", n.fromName, n.from)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	if err := smtp.SendMail(addr, auth, n.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	logging.WithFields(logging.Fields{"to": to, "subject": subject}).Debug("Mail sent")
	return nil
}

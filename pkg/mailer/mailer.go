// Package mailer provides functionality to send transactional email over
// SMTP. The application uses it for best-effort payment-failure notices;
// delivery failures are logged by the caller and never block anything.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Sender sends a single email. The webhook reconciler depends on this
// interface; tests substitute a recorder.
type Sender interface {
	Send(recipient, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay.
type SMTPMailer struct {
	host string
	port string
	user string
	pass string
	from string
}

// NewSMTPMailer creates a mailer. Empty host disables mailing; callers
// treat a nil mailer as "notifications off".
func NewSMTPMailer(host, port, user, pass, from string) *SMTPMailer {
	if host == "" || from == "" {
		return nil
	}
	return &SMTPMailer{host: host, port: port, user: user, pass: pass, from: from}
}

// Send sends an email through the configured relay.
//
// The Content-Type is inferred from the body: simple HTML markers switch it
// to text/html, anything else goes out as plain text.
func (m *SMTPMailer) Send(recipient, subject, body string) error {
	if recipient == "" {
		return fmt.Errorf("recipient email address cannot be empty")
	}
	if subject == "" {
		return fmt.Errorf("email subject cannot be empty")
	}

	contentType := "text/plain; charset=UTF-8"
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<html>") || strings.Contains(lower, "<p>") {
		contentType = "text/html; charset=UTF-8"
	}

	message := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: %s\r\n"+
		"\r\n"+
		"%s\r\n", recipient, m.from, subject, contentType, body))

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(m.host+":"+m.port, auth, m.from, []string{recipient}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Package email sends account mail (verification, password reset) over
// SMTP. When unconfigured, sends fail with ErrNotConfigured and callers
// carry on; signup must not depend on a mail server in development.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Sender abstracts smtp.SendMail for tests.
type Sender func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   Sender
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// NewServiceWithSender injects a Sender; used by tests.
func NewServiceWithSender(config Config, send Sender) *Service {
	svc := NewService(config)
	svc.send = send
	return svc
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) from() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendPlain sends a text/plain message.
func (s *Service) SendPlain(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.from())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

var verifyTemplate = template.Must(template.New("verify").Parse(
	`Hello {{.UserName}},

Confirm your Marginalia account by opening this link:

{{.VerifyURL}}

The link expires in 24 hours. If you did not sign up, ignore this mail.
`))

var resetTemplate = template.Must(template.New("reset").Parse(
	`Hello {{.UserName}},

Reset your Marginalia password by opening this link:

{{.ResetURL}}

The link expires in one hour. If you did not request a reset, ignore this mail.
`))

// SendVerification mails the signup confirmation link.
func (s *Service) SendVerification(to, userName, verifyURL string) error {
	var body bytes.Buffer
	if err := verifyTemplate.Execute(&body, map[string]string{"UserName": userName, "VerifyURL": verifyURL}); err != nil {
		return fmt.Errorf("render verification mail: %w", err)
	}
	return s.SendPlain([]string{to}, "Confirm your Marginalia account", body.String())
}

// SendPasswordReset mails the reset link.
func (s *Service) SendPasswordReset(to, userName, resetURL string) error {
	var body bytes.Buffer
	if err := resetTemplate.Execute(&body, map[string]string{"UserName": userName, "ResetURL": resetURL}); err != nil {
		return fmt.Errorf("render reset mail: %w", err)
	}
	return s.SendPlain([]string{to}, "Reset your Marginalia password", body.String())
}

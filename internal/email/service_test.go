package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func capturingService() (*Service, *captured) {
	got := &captured{}
	svc := NewServiceWithSender(Config{
		Host: "mail.example.org", Port: "587",
		From: "noreply@example.org", FromName: "Marginalia",
	}, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.from, got.to, got.msg = addr, from, to, string(msg)
		return nil
	})
	return svc, got
}

func TestSendPlain(t *testing.T) {
	svc, got := capturingService()

	if err := svc.SendPlain([]string{"ada@example.org"}, "Hello", "body text"); err != nil {
		t.Fatalf("SendPlain: %v", err)
	}
	if got.addr != "mail.example.org:587" {
		t.Fatalf("addr = %q", got.addr)
	}
	if !strings.Contains(got.msg, "From: Marginalia <noreply@example.org>") {
		t.Fatalf("missing display From in %q", got.msg)
	}
	if !strings.Contains(got.msg, "Subject: Hello") || !strings.HasSuffix(got.msg, "body text") {
		t.Fatalf("msg = %q", got.msg)
	}
}

func TestSendVerificationBody(t *testing.T) {
	svc, got := capturingService()

	if err := svc.SendVerification("ada@example.org", "Ada", "https://example.org/verify?t=abc"); err != nil {
		t.Fatalf("SendVerification: %v", err)
	}
	if got.to[0] != "ada@example.org" {
		t.Fatalf("to = %v", got.to)
	}
	if !strings.Contains(got.msg, "Hello Ada") || !strings.Contains(got.msg, "https://example.org/verify?t=abc") {
		t.Fatalf("msg = %q", got.msg)
	}
}

func TestUnconfiguredFailsClosed(t *testing.T) {
	svc := NewService(Config{})
	if svc.IsConfigured() {
		t.Fatal("empty config reported as configured")
	}
	err := svc.SendPasswordReset("ada@example.org", "Ada", "https://example.org/reset")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

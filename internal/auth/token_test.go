package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func validClaims() Claims {
	return Claims{
		Sub:   "usr_1",
		Name:  "Ada",
		Email: "ada@example.org",
		Role:  "author",
		JTI:   "jti_1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Role != "author" || claims.Email != "ada@example.org" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	// Forge the payload: swap the subject and re-encode without re-signing.
	payload, signature, _ := strings.Cut(token, ".")
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	forged := base64.RawURLEncoding.EncodeToString(
		[]byte(strings.Replace(string(decoded), "usr_1", "usr_2", 1)))
	if _, err := ParseToken(secret, forged+"."+signature); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken([]byte("wrong-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "one-part", "a.b.c", "!!!.???"} {
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseToken(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestNewRefreshTokenUnique(t *testing.T) {
	a, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	b, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	if a == b {
		t.Fatal("refresh tokens must be unique")
	}
	if HashToken(a) == HashToken(b) {
		t.Fatal("hashes must differ")
	}
}

package authn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", "permgate")
	token, expires, err := v.Issue("ops-1", []string{"Admin", "admin", "viewer"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiration, got %v", expires)
	}

	p, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "ops-1" {
		t.Fatalf("unexpected subject: %s", p.Subject)
	}
	if len(p.Roles) != 2 || !p.HasRole("ADMIN") || !p.HasRole("viewer") {
		t.Fatalf("roles were not preserved: %v", p.Roles)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	issued, _, err := NewVerifier("secret-a", "permgate").Issue("ops-1", nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier("secret-b", "permgate").Verify(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	issued, _, err := NewVerifier("secret", "other-service").Issue("ops-1", nil, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := NewVerifier("secret", "permgate").Verify(issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDisabledVerifier(t *testing.T) {
	v := NewVerifier("", "permgate")
	if v.Enabled() {
		t.Fatalf("empty secret must disable the verifier")
	}
	if _, _, err := v.Issue("ops-1", nil, time.Hour); err == nil {
		t.Fatalf("disabled verifier must not issue tokens")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("empty context should hold no principal")
	}
	ctx = ContextWithPrincipal(ctx, Principal{Subject: "ops-7", Roles: []string{"admin"}})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "ops-7" {
		t.Fatalf("principal lost: %+v, ok=%v", p, ok)
	}
	if subject, ok := SubjectFromContext(ctx); !ok || subject != "ops-7" {
		t.Fatalf("subject lost: %s, ok=%v", subject, ok)
	}
}

package auth

import (
	"context"
	"errors"
	"testing"
)

func TestAuthenticateRequest(t *testing.T) {
	svc := NewService("token", []string{"secret", "  spaced  ", ""})
	ctx := context.Background()

	if !svc.Enabled() {
		t.Fatal("token mode must be enabled")
	}

	subject, err := svc.AuthenticateRequest(ctx, "Bearer secret")
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if subject.TokenDigest == "" {
		t.Fatal("expected token digest for audit correlation")
	}

	// 前缀大小写不敏感，令牌在构造时已去除空白。
	if _, err := svc.AuthenticateRequest(ctx, "bearer spaced"); err != nil {
		t.Fatalf("trimmed token rejected: %v", err)
	}

	if _, err := svc.AuthenticateRequest(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken for blank token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewServiceFallsBackToDisabled(t *testing.T) {
	if NewService("bogus", nil).Enabled() {
		t.Fatal("unknown mode must fall back to disabled")
	}
	if NewService("disabled", []string{"secret"}).Enabled() {
		t.Fatal("disabled mode must stay disabled")
	}
	// token 模式下空令牌列表拒绝一切请求。
	svc := NewService("token", nil)
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer anything"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
